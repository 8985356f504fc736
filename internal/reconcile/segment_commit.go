package reconcile

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

const DefaultIDPrefix = "TX"

// IDSequence hands out final segment identifiers. One sequence lives for the
// whole process and may be shared by concurrent sessions.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	return &IDSequence{prefix: prefix}
}

// Peek returns the identifier the next reservation will receive.
func (s *IDSequence) Peek() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format(s.next)
}

// Next consumes and returns an identifier.
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.format(s.next)
	s.next++
	return id
}

func (s *IDSequence) format(n int) string {
	return fmt.Sprintf("%s-%04d", s.prefix, n)
}

// SegmentCommit transcribes everything buffered since the last commit. The
// newest segment is reported as a partial hint whenever the transcript
// changed; the first segment that is confidently speech and long enough is
// committed as final.
//
// The span's identifier is reserved from the sequence on its first event and
// carried in State, so partials and the final of one span agree even when
// several sessions share a sequence.
type SegmentCommit struct {
	NoSpeechThreshold float64
	MinDuration       float64 // seconds
	IDs               *IDSequence
}

func (p *SegmentCommit) Name() string { return PolicySegmentCommit }

func (p *SegmentCommit) Span() Span { return SpanBuffer }

func (p *SegmentCommit) Reconcile(state State, res transcriber.Result, final bool) Outcome {
	out := Outcome{State: state}
	if len(res.Segments) == 0 {
		return out
	}

	// one commit per pass; later qualifying segments wait for the next pass
	var commit *transcriber.Segment
	for i := range res.Segments {
		seg := &res.Segments[i]
		if strings.TrimSpace(seg.Text) != "" && p.isFinal(*seg) {
			commit = seg
			break
		}
	}

	id := state.PendingID
	reserve := func() string {
		if id == "" {
			id = p.IDs.Next()
		}
		return id
	}

	last := res.Segments[len(res.Segments)-1]
	text := strings.TrimSpace(last.Text)
	if text != "" && (commit != nil || res.Text() != state.LastText) {
		out.Events = append(out.Events, Event{
			Kind:        KindPartial,
			ID:          reserve(),
			Text:        text,
			AvgLogProb:  last.AvgLogProb,
			Temperature: last.Temperature,
		})
		out.State = State{LastText: res.Text(), PendingID: id}
	}

	if commit != nil {
		out.Events = append(out.Events, Event{
			Kind:       KindFinal,
			ID:         reserve(),
			Timestamp:  clockLabel(commit.End),
			Text:       strings.TrimSpace(commit.Text),
			Confidence: res.LanguageProbability,
		})
		out.State = State{}
		out.ResetBuffer = true
	}
	return out
}

func (p *SegmentCommit) isFinal(seg transcriber.Segment) bool {
	return seg.NoSpeechProb < p.NoSpeechThreshold && seg.Duration() >= p.MinDuration
}

// clockLabel renders an offset in seconds as HH:MM:SS.
func clockLabel(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	return time.Unix(0, 0).UTC().Add(d).Format("15:04:05")
}
