// Package emitter writes protocol events, one JSON line each, flushed as soon
// as they are written.
package emitter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/whisperbridge/internal/logging"
	"github.com/leonardotrapani/whisperbridge/internal/metrics"
	"github.com/leonardotrapani/whisperbridge/internal/protocol"
	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
)

// Sink receives a copy of every transcript event after it was written.
type Sink interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
}

type flusher interface {
	Flush() error
}

type Emitter struct {
	mu      sync.Mutex
	w       *bufio.Writer
	out     io.Writer
	err     error
	sink    Sink
	key     string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Emitter)

// WithSink mirrors transcript events to s under key.
func WithSink(s Sink, key string) Option {
	return func(e *Emitter) {
		e.sink = s
		e.key = key
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Emitter) {
		e.metrics = m
	}
}

func New(w io.Writer, opts ...Option) *Emitter {
	e := &Emitter{
		w:       bufio.NewWriter(w),
		out:     w,
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("emitter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Err returns the first write error. Once set, every later write fails with it.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Emitter) write(eventType string, event any) error {
	line, err := protocol.Encode(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}

	line = append(line, '\n')
	if _, err := e.w.Write(line); err != nil {
		e.err = fmt.Errorf("write %s event: %w", eventType, err)
		return e.err
	}
	if err := e.w.Flush(); err != nil {
		e.err = fmt.Errorf("flush %s event: %w", eventType, err)
		return e.err
	}
	if f, ok := e.out.(flusher); ok {
		if err := f.Flush(); err != nil {
			e.err = fmt.Errorf("flush %s event: %w", eventType, err)
			return e.err
		}
	}

	e.metrics.EventsEmitted.WithLabelValues(eventType).Inc()
	return nil
}

func (e *Emitter) Ready() error {
	return e.write(protocol.TypeReady, protocol.Ready())
}

func (e *Emitter) Transcript(text, fullText string, isFinal bool) error {
	return e.write(protocol.TypeTranscript, protocol.Transcript(text, fullText, isFinal))
}

func (e *Emitter) Partial(p protocol.PartialPayload) error {
	return e.write(protocol.TypePartial, protocol.Partial(p))
}

func (e *Emitter) Final(p protocol.FinalPayload) error {
	return e.write(protocol.TypeFinal, protocol.Final(p))
}

func (e *Emitter) Error(message, code string) error {
	return e.write(protocol.TypeError, protocol.Error(message, code))
}

func (e *Emitter) Log(message string) error {
	return e.write(protocol.TypeLog, protocol.Log(message))
}

// Emit renders a reconciler event and mirrors it to the sink, if any. Sink
// failures are logged and never returned.
func (e *Emitter) Emit(ctx context.Context, ev reconcile.Event) error {
	var (
		event any
		err   error
		final bool
	)

	switch ev.Kind {
	case reconcile.KindTranscript:
		event = protocol.Transcript(ev.Text, ev.FullText, ev.Final)
		err = e.write(protocol.TypeTranscript, event)
		final = ev.Final
	case reconcile.KindPartial:
		event = protocol.Partial(protocol.PartialPayload{
			ID:          ev.ID,
			Text:        ev.Text,
			AvgLogProb:  ev.AvgLogProb,
			Temperature: ev.Temperature,
		})
		err = e.write(protocol.TypePartial, event)
	case reconcile.KindFinal:
		event = protocol.Final(protocol.FinalPayload{
			ID:         ev.ID,
			Timestamp:  ev.Timestamp,
			Text:       ev.Text,
			Confidence: ev.Confidence,
		})
		err = e.write(protocol.TypeFinal, event)
		final = true
	default:
		return fmt.Errorf("unknown event kind: %d", ev.Kind)
	}
	if err != nil {
		return err
	}

	e.mirror(ctx, event, final)
	return nil
}

func (e *Emitter) mirror(ctx context.Context, event any, final bool) {
	if e.sink == nil {
		return
	}
	var err error
	if final {
		err = e.sink.PublishFinal(ctx, e.key, event)
	} else {
		err = e.sink.PublishPartial(ctx, e.key, event)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("key", e.key).Bool("final", final).Msg("Failed to mirror event")
	}
}
