// Package reconcile turns successive, overlapping inference results into
// transcript events.
package reconcile

import (
	"fmt"

	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// Policy names accepted by New
const (
	PolicyPrefixDiff    = "prefix-diff"
	PolicySegmentCommit = "segment-commit"
)

type Kind int

const (
	KindTranscript Kind = iota
	KindPartial
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindTranscript:
		return "transcript"
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Event is one reconciler decision, rendered to the wire by the emitter.
// Which fields are meaningful depends on Kind.
type Event struct {
	Kind Kind
	Text string

	// transcript
	FullText string
	Final    bool

	// partial and final
	ID          string
	Timestamp   string
	Confidence  float64
	AvgLogProb  float64
	Temperature float64
}

// State is the reconciliation baseline for the current uncommitted span.
// PendingID is the identifier reserved for the span, empty until its first
// event.
type State struct {
	LastText  string
	PendingID string
}

// Outcome is what a policy decided for one inference pass. ResetBuffer asks
// the session to empty the audio buffer; State replaces the previous one.
type Outcome struct {
	Events      []Event
	State       State
	ResetBuffer bool
}

// Span selects which audio a policy wants analyzed.
type Span int

const (
	// SpanWindow is the most recent window of the buffer.
	SpanWindow Span = iota
	// SpanBuffer is everything buffered since the last commit.
	SpanBuffer
)

type Policy interface {
	Name() string
	Span() Span
	// Reconcile is pure apart from the segment ID sequence. final is true for
	// flush and stop passes.
	Reconcile(state State, res transcriber.Result, final bool) Outcome
}

// Config holds the tuning of the segment-commit policy.
type Config struct {
	NoSpeechThreshold  float64
	MinSegmentDuration float64
	IDs                *IDSequence
}

// New returns the policy registered under name. An empty name selects
// prefix-diff.
func New(name string, cfg Config) (Policy, error) {
	switch name {
	case "", PolicyPrefixDiff:
		return PrefixDiff{}, nil
	case PolicySegmentCommit:
		ids := cfg.IDs
		if ids == nil {
			ids = NewIDSequence(DefaultIDPrefix)
		}
		return &SegmentCommit{
			NoSpeechThreshold: cfg.NoSpeechThreshold,
			MinDuration:       cfg.MinSegmentDuration,
			IDs:               ids,
		}, nil
	default:
		return nil, fmt.Errorf("unknown reconcile policy: %s", name)
	}
}
