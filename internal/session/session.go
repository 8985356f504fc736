// Package session drives one transcription stream: it reads protocol lines,
// buffers audio, triggers inference and emits reconciled events.
package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/whisperbridge/internal/audio"
	"github.com/leonardotrapani/whisperbridge/internal/emitter"
	"github.com/leonardotrapani/whisperbridge/internal/logging"
	"github.com/leonardotrapani/whisperbridge/internal/metrics"
	"github.com/leonardotrapani/whisperbridge/internal/protocol"
	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
	"github.com/leonardotrapani/whisperbridge/internal/scheduler"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

const (
	msgInterrupted = "interrupted"
	msgStopped     = "stopped"
)

// Config holds the per-session tuning, already converted to sample counts.
type Config struct {
	ID             string
	SampleRate     int
	TriggerSamples int
	WindowSamples  int
	CeilingSamples int
	DrainOnEOF     bool
	Options        transcriber.Options
	Provider       string // metrics label
}

// SampleCounts converts millisecond tuning into sample counts. The trigger is
// at least one sample, the window at least the trigger and the ceiling is
// retention windows long.
func SampleCounts(sampleRate, chunkMS, windowMS, retention int) (trigger, window, ceiling int) {
	trigger = max(audio.SamplesForDuration(chunkMS, sampleRate), 1)
	window = max(audio.SamplesForDuration(windowMS, sampleRate), trigger)
	ceiling = window * max(retention, 1)
	return trigger, window, ceiling
}

// Stats are running counters of one session.
type Stats struct {
	ChunksAccepted   int
	SamplesAccepted  int
	SamplesEvicted   int
	InferencePasses  int
	InferenceSkipped int
	InferenceErrors  int
	DecodeErrors     int
	ParseErrors      int
	UnknownMessages  int
	Commits          int
}

// Session owns all mutable stream state. It is not safe for concurrent use;
// run one Session per input stream.
type Session struct {
	cfg     Config
	tr      transcriber.Transcriber
	policy  reconcile.Policy
	emitter *emitter.Emitter

	buffer *audio.Buffer
	sched  *scheduler.Scheduler
	recon  reconcile.State
	state  State
	stats  Stats

	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Session)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

func New(cfg Config, tr transcriber.Transcriber, policy reconcile.Policy, em *emitter.Emitter, opts ...Option) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Options.SampleRate == 0 {
		cfg.Options.SampleRate = cfg.SampleRate
	}
	if policy == nil {
		policy = reconcile.PrefixDiff{}
	}

	s := &Session{
		cfg:     cfg,
		tr:      tr,
		policy:  policy,
		emitter: em,
		buffer:  audio.NewBuffer(cfg.WindowSamples, cfg.CeilingSamples),
		sched:   scheduler.New(cfg.TriggerSamples, cfg.TriggerSamples),
		state:   Idle,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithSession("session", cfg.ID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Stats() Stats {
	return s.stats
}

type readResult struct {
	line []byte
	err  error
}

// readLines reads one line at a time and waits for next before reading the
// following one, so input is never consumed ahead of processing.
func readLines(ctx context.Context, r io.Reader, out chan<- readResult, next <-chan struct{}) {
	defer close(out)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case out <- readResult{line: line}:
			case <-ctx.Done():
				return
			}
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case out <- readResult{err: err}:
				case <-ctx.Done():
				}
			}
			return
		}
	}
}

// Run loads the model if needed, emits ready and processes r until stop,
// end of input or ctx cancellation. A model load failure is reported as an
// error event and returned as a FatalTranscriptionError.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	s.metrics.SessionsTotal.Inc()
	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	if err := s.load(ctx); err != nil {
		s.state = Terminated
		return err
	}

	if err := s.emitter.Ready(); err != nil {
		s.state = Terminated
		return fmt.Errorf("emit ready: %w", err)
	}
	s.state = Ready
	s.log.Info().
		Str("policy", s.policy.Name()).
		Int("triggerSamples", s.cfg.TriggerSamples).
		Int("windowSamples", s.buffer.WindowSize()).
		Int("ceilingSamples", s.buffer.Ceiling()).
		Msg("Session ready")

	defer func() {
		s.state = Terminated
		_ = s.emitter.Log(msgStopped)
		s.log.Info().Interface("stats", s.stats).Msg("Session stopped")
	}()

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan readResult)
	next := make(chan struct{}, 1)
	go readLines(readCtx, r, lines, next)

	for {
		if ctx.Err() != nil {
			return s.interrupted()
		}

		var res readResult
		var ok bool
		select {
		case <-ctx.Done():
			return s.interrupted()
		case res, ok = <-lines:
		}

		if !ok {
			s.endOfInput(ctx)
			return s.emitter.Err()
		}
		if res.err != nil {
			return fmt.Errorf("read input: %w", res.err)
		}

		done := s.handleLine(ctx, res.line)
		if err := s.emitter.Err(); err != nil {
			return err
		}
		if done {
			return nil
		}
		next <- struct{}{}
	}
}

func (s *Session) load(ctx context.Context) error {
	loader, ok := s.tr.(transcriber.Loader)
	if !ok {
		return nil
	}
	if err := loader.Load(ctx); err != nil {
		code := protocol.CodeModelLoad
		if errors.Is(err, transcriber.ErrExecutableNotFound) {
			code = protocol.CodeImport
		}
		s.log.Error().Err(err).Str("code", code).Msg("Failed to load model")
		_ = s.emitter.Error(fmt.Sprintf("Failed to load model: %v", err), code)
		return transcriber.NewFatalTranscriptionError(err)
	}
	return nil
}

func (s *Session) interrupted() error {
	s.log.Info().Msg("Session interrupted")
	_ = s.emitter.Log(msgInterrupted)
	return nil
}

func (s *Session) endOfInput(ctx context.Context) {
	s.log.Debug().Bool("drain", s.cfg.DrainOnEOF).Msg("End of input")
	if s.cfg.DrainOnEOF {
		s.state = Draining
		s.runInference(ctx, true)
	}
}

// handleLine processes one input line and reports whether the session is done.
func (s *Session) handleLine(ctx context.Context, line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}

	msg, err := protocol.Decode(line)
	if err != nil {
		s.stats.ParseErrors++
		s.inputError(fmt.Sprintf("Invalid JSON payload: %s", line), protocol.CodeParse, err)
		return false
	}

	switch {
	case msg.IsAudio():
		s.handleAudio(ctx, msg)
	case msg.Type == protocol.TypeFlush:
		if s.sched.OnFlushOrStop() {
			s.runInference(ctx, true)
		}
	case msg.Type == protocol.TypeStop:
		s.state = Draining
		s.log.Debug().Int("buffered", s.buffer.Len()).Msg("Stop received, draining")
		if s.sched.OnFlushOrStop() {
			s.runInference(ctx, true)
		}
		return true
	default:
		s.stats.UnknownMessages++
		s.inputError(fmt.Sprintf("Unsupported message type: %s", msg.Type), protocol.CodeUnknownMessage, nil)
	}
	return false
}

func (s *Session) handleAudio(ctx context.Context, msg protocol.Message) {
	payload, err := msg.AudioField()
	if err == nil && payload == "" {
		return
	}

	var samples []float32
	if err == nil {
		samples, err = protocol.DecodeSamples(payload)
	}
	if err != nil {
		s.stats.DecodeErrors++
		s.inputError(fmt.Sprintf("Failed to decode audio chunk: %v", err), protocol.CodeChunkDecode, err)
		return
	}
	if len(samples) == 0 {
		return
	}

	if s.state == Ready {
		s.state = Streaming
	}

	evicted := s.buffer.Append(samples)
	s.stats.ChunksAccepted++
	s.stats.SamplesAccepted += len(samples)
	s.stats.SamplesEvicted += evicted
	s.metrics.ChunksReceived.Inc()
	s.metrics.SamplesReceived.Add(float64(len(samples)))
	s.metrics.BufferedSamples.Set(float64(s.buffer.Len()))
	if evicted > 0 {
		s.metrics.SamplesEvicted.Add(float64(evicted))
		s.log.Debug().Int("evicted", evicted).Int("ceiling", s.buffer.Ceiling()).Msg("Buffer full, dropped oldest samples")
	}

	if s.sched.OnChunkAppended(len(samples)) {
		s.runInference(ctx, false)
	}
}

// runInference performs one triggered pass. Buffer and reconciliation state
// change only after the model call succeeded.
func (s *Session) runInference(ctx context.Context, final bool) {
	if !s.sched.Fire(s.buffer.Len()) {
		s.stats.InferenceSkipped++
		s.metrics.InferenceSkipped.Inc()
		return
	}

	var samples []float32
	if s.policy.Span() == reconcile.SpanBuffer {
		samples = s.buffer.Samples()
	} else {
		samples = s.buffer.Window()
	}

	start := time.Now()
	res, err := s.tr.Transcribe(ctx, samples, s.cfg.Options)
	elapsed := time.Since(start)
	s.metrics.RecordInference(s.cfg.Provider, err, elapsed)
	s.stats.InferencePasses++

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.stats.InferenceErrors++
		s.log.Warn().Err(err).Dur("elapsed", elapsed).Msg("Inference failed")
		_ = s.emitter.Error(fmt.Sprintf("Inference failed: %v", err), protocol.CodeInference)
		return
	}

	s.log.Debug().
		Int("samples", len(samples)).
		Bool("final", final).
		Dur("elapsed", elapsed).
		Str("text", res.Text()).
		Msg("Inference complete")

	out := s.policy.Reconcile(s.recon, res, final)
	for _, ev := range out.Events {
		if err := s.emitter.Emit(ctx, ev); err != nil {
			return
		}
		if ev.Kind == reconcile.KindFinal {
			s.stats.Commits++
		}
	}

	s.recon = out.State
	if out.ResetBuffer {
		s.buffer.Reset()
		s.metrics.BufferedSamples.Set(0)
	}
}

func (s *Session) inputError(message, code string, err error) {
	s.metrics.InputErrors.WithLabelValues(code).Inc()
	s.log.Warn().Err(err).Str("code", code).Msg(message)
	_ = s.emitter.Error(message, code)
}
