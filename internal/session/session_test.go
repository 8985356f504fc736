package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/leonardotrapani/whisperbridge/internal/emitter"
	"github.com/leonardotrapani/whisperbridge/internal/protocol"
	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
	"github.com/leonardotrapani/whisperbridge/internal/testutil"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

const (
	testRate    = 16000
	testTrigger = 5120 // 320 ms
)

type outEvent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	IsFinal  bool   `json:"is_final"`
	FullText string `json:"full_text"`
	Message  string `json:"message"`
	Code     string `json:"code"`
	Payload  struct {
		ID         string  `json:"id"`
		Text       string  `json:"text"`
		Timestamp  string  `json:"timestamp"`
		Confidence float64 `json:"confidence"`
	} `json:"payload"`
}

func parseEvents(t *testing.T, out *bytes.Buffer) []outEvent {
	t.Helper()
	var events []outEvent
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var ev outEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("output line %q is not JSON: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func ofType(events []outEvent, typ string) []outEvent {
	var out []outEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func chunkLine(t *testing.T, n int) string {
	t.Helper()
	return fmt.Sprintf(`{"type":"chunk","data":%q}`+"\n", protocol.EncodeSamples(make([]float32, n)))
}

// scripted returns a transcriber that answers call i with texts[i] (the last
// entry repeats) and records the sample count of every call.
func scripted(texts []string, calls *[]int) transcriber.Transcriber {
	return transcriber.Func(func(ctx context.Context, samples []float32, opts transcriber.Options) (transcriber.Result, error) {
		i := len(*calls)
		*calls = append(*calls, len(samples))
		if len(texts) == 0 {
			return transcriber.Result{}, nil
		}
		text := texts[min(i, len(texts)-1)]
		if text == "" {
			return transcriber.Result{}, nil
		}
		return transcriber.Result{Segments: []transcriber.Segment{{Text: " " + text}}}, nil
	})
}

func newTestSession(t *testing.T, tr transcriber.Transcriber, policy reconcile.Policy, mutate func(*Config)) (*Session, *bytes.Buffer) {
	t.Helper()
	trigger, window, ceiling := SampleCounts(testRate, 320, 3000, 3)
	cfg := Config{
		ID:             "test",
		SampleRate:     testRate,
		TriggerSamples: trigger,
		WindowSamples:  window,
		CeilingSamples: ceiling,
		Provider:       "fake",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := testutil.TestMetrics()
	var out bytes.Buffer
	em := emitter.New(&out, emitter.WithMetrics(m))
	return New(cfg, tr, policy, em, WithMetrics(m)), &out
}

func TestSampleCounts(t *testing.T) {
	tests := []struct {
		name                        string
		rate, chunk, window, retain int
		wantTrig, wantWin, wantCeil int
	}{
		{"defaults", 16000, 320, 3000, 3, 5120, 48000, 144000},
		{"zero chunk", 16000, 0, 3000, 3, 1, 48000, 144000},
		{"window below trigger", 16000, 500, 100, 3, 8000, 8000, 24000},
		{"zero retention", 8000, 100, 1000, 0, 800, 8000, 8000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig, win, ceil := SampleCounts(tt.rate, tt.chunk, tt.window, tt.retain)
			if trig != tt.wantTrig || win != tt.wantWin || ceil != tt.wantCeil {
				t.Errorf("SampleCounts() = %d, %d, %d; want %d, %d, %d", trig, win, ceil, tt.wantTrig, tt.wantWin, tt.wantCeil)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		Idle: "idle", Ready: "ready", Streaming: "streaming",
		Draining: "draining", Terminated: "terminated", State(99): "unknown",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), w)
		}
	}
}

func TestRun_BelowTriggerNoInference(t *testing.T) {
	var calls []int
	s, out := newTestSession(t, scripted([]string{"hello"}, &calls), nil, nil)

	if err := s.Run(context.Background(), strings.NewReader(testutil.AudioLine(t, 1600))); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(calls) != 0 {
		t.Errorf("expected no inference, got %d calls", len(calls))
	}
	events := parseEvents(t, out)
	if events[0].Type != protocol.TypeReady {
		t.Errorf("first event = %q, want ready", events[0].Type)
	}
	for _, ev := range events[1:] {
		if ev.Type != protocol.TypeLog {
			t.Errorf("unexpected event %+v", ev)
		}
	}
	if s.State() != Terminated {
		t.Errorf("State() = %v, want terminated", s.State())
	}
}

func TestRun_PrefixDiffPartials(t *testing.T) {
	var calls []int
	s, out := newTestSession(t, scripted([]string{"hello world", "hello world today"}, &calls), nil, nil)

	input := testutil.AudioLine(t, testTrigger) + testutil.AudioLine(t, testTrigger)
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	transcripts := ofType(parseEvents(t, out), protocol.TypeTranscript)
	if len(transcripts) != 2 {
		t.Fatalf("expected 2 transcript events, got %+v", transcripts)
	}
	if transcripts[0].Text != "hello world" || transcripts[0].IsFinal {
		t.Errorf("first transcript = %+v", transcripts[0])
	}
	if transcripts[1].Text != "today" || transcripts[1].FullText != "hello world today" || transcripts[1].IsFinal {
		t.Errorf("second transcript = %+v", transcripts[1])
	}
	if calls[0] != testTrigger || calls[1] != 2*testTrigger {
		t.Errorf("window sizes = %v", calls)
	}
}

func TestRun_StopCommitsSegment(t *testing.T) {
	var calls int
	tr := transcriber.Func(func(ctx context.Context, samples []float32, opts transcriber.Options) (transcriber.Result, error) {
		calls++
		if calls == 1 {
			// too short to commit
			return transcriber.Result{
				Segments:            []transcriber.Segment{{Text: " hello", End: 0.32, NoSpeechProb: 0.05}},
				LanguageProbability: 0.9,
			}, nil
		}
		return transcriber.Result{
			Segments:            []transcriber.Segment{{Text: " hello world", Start: 0, End: 1.2, NoSpeechProb: 0.05}},
			LanguageProbability: 0.98,
		}, nil
	})
	policy, err := reconcile.New(reconcile.PolicySegmentCommit, reconcile.Config{
		NoSpeechThreshold:  0.2,
		MinSegmentDuration: 1.0,
		IDs:                reconcile.NewIDSequence("TX"),
	})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	s, out := newTestSession(t, tr, policy, nil)

	input := testutil.AudioLine(t, testTrigger) + `{"type":"stop"}` + "\n" + testutil.AudioLine(t, testTrigger)
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 inference calls, got %d (input after stop must be ignored)", calls)
	}
	events := parseEvents(t, out)
	finals := ofType(events, protocol.TypeFinal)
	if len(finals) != 1 {
		t.Fatalf("expected exactly one final, got %d", len(finals))
	}
	f := finals[0].Payload
	if f.ID != "TX-0000" || f.Text != "hello world" || f.Timestamp != "00:00:01" || f.Confidence != 0.98 {
		t.Errorf("final payload = %+v", f)
	}
	if len(ofType(events, protocol.TypePartial)) != 2 {
		t.Errorf("expected 2 partials, got %d", len(ofType(events, protocol.TypePartial)))
	}
	if last := events[len(events)-1]; last.Type != protocol.TypeLog || last.Message != msgStopped {
		t.Errorf("last event = %+v, want stopped log", last)
	}
	if s.Stats().Commits != 1 {
		t.Errorf("Stats().Commits = %d, want 1", s.Stats().Commits)
	}
}

func TestRun_DecodeErrorContinues(t *testing.T) {
	var calls []int
	s, out := newTestSession(t, scripted([]string{"hello"}, &calls), nil, nil)

	input := `{"type":"audio","payload":"!!!not-base64!!!"}` + "\n" +
		`{"type":"audio","payload":"AAA="}` + "\n" +
		chunkLine(t, testTrigger)
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	events := parseEvents(t, out)
	errs := ofType(events, protocol.TypeError)
	if len(errs) != 2 {
		t.Fatalf("expected 2 decode errors, got %+v", errs)
	}
	for _, e := range errs {
		if e.Code != protocol.CodeChunkDecode {
			t.Errorf("error code = %q, want %q", e.Code, protocol.CodeChunkDecode)
		}
	}
	if len(calls) != 1 {
		t.Errorf("session should keep accepting chunks, got %d inference calls", len(calls))
	}
	if s.Stats().DecodeErrors != 2 {
		t.Errorf("Stats().DecodeErrors = %d, want 2", s.Stats().DecodeErrors)
	}
}

func TestRun_FlushWithoutPendingIsSilent(t *testing.T) {
	var calls []int
	s, out := newTestSession(t, scripted([]string{"hello world"}, &calls), nil, nil)

	input := `{"type":"flush"}` + "\n" +
		testutil.AudioLine(t, testTrigger) +
		`{"type":"flush"}` + "\n" +
		`{"type":"flush"}` + "\n"
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	transcripts := ofType(parseEvents(t, out), protocol.TypeTranscript)
	if len(transcripts) != 1 {
		t.Fatalf("expected only the triggered transcript, got %+v", transcripts)
	}
	// first flush: empty buffer; second: same audio, same text; third: buffer reset
	if len(calls) != 2 {
		t.Errorf("expected 2 inference calls, got %d", len(calls))
	}
	if s.Stats().InferenceSkipped != 2 {
		t.Errorf("Stats().InferenceSkipped = %d, want 2", s.Stats().InferenceSkipped)
	}
}

func TestRun_SegmentCommitFlushRepeatsNothing(t *testing.T) {
	var calls int
	tr := transcriber.Func(func(ctx context.Context, samples []float32, opts transcriber.Options) (transcriber.Result, error) {
		calls++
		return transcriber.Result{
			Segments:            []transcriber.Segment{{Text: " hmm", End: 2, NoSpeechProb: 0.9}},
			LanguageProbability: 0.5,
		}, nil
	})
	policy, err := reconcile.New(reconcile.PolicySegmentCommit, reconcile.Config{
		NoSpeechThreshold:  0.2,
		MinSegmentDuration: 1.0,
		IDs:                reconcile.NewIDSequence("TX"),
	})
	if err != nil {
		t.Fatalf("reconcile.New: %v", err)
	}
	s, out := newTestSession(t, tr, policy, nil)

	input := testutil.AudioLine(t, testTrigger) + `{"type":"flush"}` + "\n"
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if calls != 2 {
		t.Errorf("expected 2 inference calls, got %d", calls)
	}
	events := parseEvents(t, out)
	if partials := ofType(events, protocol.TypePartial); len(partials) != 1 {
		t.Errorf("expected 1 partial, got %+v", partials)
	}
	if finals := ofType(events, protocol.TypeFinal); len(finals) != 0 {
		t.Errorf("noise should not commit, got %+v", finals)
	}
}

func TestRun_FinalResetsSpan(t *testing.T) {
	var calls []int
	s, out := newTestSession(t, scripted([]string{"hello world", "hello world there", "next"}, &calls), nil, nil)

	input := testutil.AudioLine(t, testTrigger) +
		`{"type":"flush"}` + "\n" +
		testutil.AudioLine(t, testTrigger)
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	transcripts := ofType(parseEvents(t, out), protocol.TypeTranscript)
	if len(transcripts) != 3 {
		t.Fatalf("expected 3 transcripts, got %+v", transcripts)
	}
	if transcripts[1].Text != "there" || !transcripts[1].IsFinal {
		t.Errorf("flush transcript = %+v", transcripts[1])
	}
	if transcripts[2].Text != "next" || transcripts[2].FullText != "next" || transcripts[2].IsFinal {
		t.Errorf("post-reset transcript = %+v", transcripts[2])
	}
	if calls[2] != testTrigger {
		t.Errorf("pass after final saw %d samples, want %d (buffer reset)", calls[2], testTrigger)
	}
}

func TestRun_InferenceErrorPreservesState(t *testing.T) {
	var calls []int
	tr := transcriber.Func(func(ctx context.Context, samples []float32, opts transcriber.Options) (transcriber.Result, error) {
		calls = append(calls, len(samples))
		if len(calls) == 1 {
			return transcriber.Result{}, errors.New("gpu on fire")
		}
		return transcriber.Result{Segments: []transcriber.Segment{{Text: " recovered"}}}, nil
	})
	s, out := newTestSession(t, tr, nil, nil)

	input := testutil.AudioLine(t, testTrigger) + testutil.AudioLine(t, testTrigger)
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	events := parseEvents(t, out)
	errs := ofType(events, protocol.TypeError)
	if len(errs) != 1 || errs[0].Code != protocol.CodeInference {
		t.Fatalf("expected one inference_error, got %+v", errs)
	}
	if calls[1] != 2*testTrigger {
		t.Errorf("retry saw %d samples, want %d", calls[1], 2*testTrigger)
	}
	if ts := ofType(events, protocol.TypeTranscript); len(ts) != 1 || ts[0].Text != "recovered" {
		t.Errorf("transcripts = %+v", ts)
	}
}

func TestRun_ProtocolErrors(t *testing.T) {
	var calls []int
	s, out := newTestSession(t, scripted(nil, &calls), nil, nil)

	input := "\n" +
		"   \n" +
		"not json\n" +
		"{}\n" +
		`{"type":"reset"}` + "\n" +
		`{"type":"audio"}` + "\n" +
		`{"type":"audio","payload":""}` + "\n"
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	errs := ofType(parseEvents(t, out), protocol.TypeError)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %+v", errs)
	}
	if errs[0].Code != protocol.CodeParse || errs[1].Code != protocol.CodeParse || errs[2].Code != protocol.CodeUnknownMessage {
		t.Errorf("codes = %q, %q, %q", errs[0].Code, errs[1].Code, errs[2].Code)
	}
	if s.State() != Terminated {
		t.Errorf("State() = %v", s.State())
	}
	st := s.Stats()
	if st.ParseErrors != 2 || st.UnknownMessages != 1 || st.ChunksAccepted != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestRun_DrainOnEOF(t *testing.T) {
	tests := []struct {
		name       string
		drain      bool
		wantCalls  int
		wantFinals int
	}{
		{"no drain", false, 1, 0},
		{"drain", true, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []int
			s, out := newTestSession(t, scripted([]string{"hello", "hello bye"}, &calls), nil, func(c *Config) {
				c.DrainOnEOF = tt.drain
			})

			if err := s.Run(context.Background(), strings.NewReader(testutil.AudioLine(t, testTrigger))); err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if len(calls) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(calls), tt.wantCalls)
			}
			var finals []outEvent
			for _, ev := range ofType(parseEvents(t, out), protocol.TypeTranscript) {
				if ev.IsFinal {
					finals = append(finals, ev)
				}
			}
			if len(finals) != tt.wantFinals {
				t.Fatalf("final transcripts = %d, want %d", len(finals), tt.wantFinals)
			}
			if tt.wantFinals > 0 && finals[0].Text != "bye" {
				t.Errorf("drained transcript = %+v", finals[0])
			}
		})
	}
}

func TestRun_BufferNeverExceedsCeiling(t *testing.T) {
	var calls []int
	s, _ := newTestSession(t, scripted(nil, &calls), nil, func(c *Config) {
		c.TriggerSamples = 1600
		c.WindowSamples = 3200
		c.CeilingSamples = 9600
	})

	var input strings.Builder
	for i := 0; i < 20; i++ {
		input.WriteString(testutil.AudioLine(t, 1000+i*37))
	}
	if err := s.Run(context.Background(), strings.NewReader(input.String())); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for i, n := range calls {
		if n > 3200 {
			t.Errorf("call %d analyzed %d samples, more than the window", i, n)
		}
	}
	if s.buffer.Len() > 9600 {
		t.Errorf("buffer length %d exceeds ceiling", s.buffer.Len())
	}
	if s.Stats().SamplesEvicted == 0 {
		t.Error("expected evictions once past the ceiling")
	}
}

func TestRun_LoadFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"missing model", fmt.Errorf("%w: /x.bin", transcriber.ErrModelNotFound), protocol.CodeModelLoad},
		{"missing executable", fmt.Errorf("%w: whisper-cli", transcriber.ErrExecutableNotFound), protocol.CodeImport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &testutil.MockTranscriber{LoadErr: tt.err}
			s, out := newTestSession(t, tr, nil, nil)

			err := s.Run(context.Background(), strings.NewReader(testutil.AudioLine(t, testTrigger)))
			if !transcriber.IsFatalTranscriptionError(err) {
				t.Fatalf("expected fatal error, got %v", err)
			}

			events := parseEvents(t, out)
			if len(events) != 1 || events[0].Type != protocol.TypeError || events[0].Code != tt.wantCode {
				t.Errorf("events = %+v, want single %s error", events, tt.wantCode)
			}
			if len(tr.Calls()) != 0 {
				t.Error("no inference should run after a load failure")
			}
		})
	}
}

func TestRun_LoadSuccessEmitsReady(t *testing.T) {
	tr := testutil.NewMockTranscriber()
	s, out := newTestSession(t, tr, nil, nil)

	if err := s.Run(context.Background(), strings.NewReader("")); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if events := parseEvents(t, out); events[0].Type != protocol.TypeReady {
		t.Errorf("first event = %+v, want ready", events[0])
	}
}

func TestRun_ContextCancel(t *testing.T) {
	var calls []int
	s, out := newTestSession(t, scripted(nil, &calls), nil, nil)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, pr)
	}()

	if _, err := pw.Write([]byte(testutil.AudioLine(t, 100))); err != nil {
		t.Fatalf("write: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	events := parseEvents(t, out)
	logs := ofType(events, protocol.TypeLog)
	if len(logs) != 2 || logs[0].Message != msgInterrupted || logs[1].Message != msgStopped {
		t.Errorf("logs = %+v, want interrupted then stopped", logs)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) {
	return 0, errors.New("stdout closed")
}

func TestRun_OutputFailure(t *testing.T) {
	var calls []int
	trigger, window, ceiling := SampleCounts(testRate, 320, 3000, 3)
	m := testutil.TestMetrics()
	s := New(Config{TriggerSamples: trigger, WindowSamples: window, CeilingSamples: ceiling},
		scripted(nil, &calls), nil, emitter.New(brokenWriter{}, emitter.WithMetrics(m)), WithMetrics(m))

	if err := s.Run(context.Background(), strings.NewReader(testutil.AudioLine(t, 10))); err == nil {
		t.Fatal("expected error when events cannot be written")
	}
}
