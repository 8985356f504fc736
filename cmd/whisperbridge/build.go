package main

import (
	"fmt"
	"io"

	"github.com/leonardotrapani/whisperbridge/internal/config"
	"github.com/leonardotrapani/whisperbridge/internal/emitter"
	"github.com/leonardotrapani/whisperbridge/internal/events"
	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
	"github.com/leonardotrapani/whisperbridge/internal/session"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// sessionBuilder assembles sessions from a config snapshot. The publisher and
// the segment ID sequence are shared by every session it builds.
type sessionBuilder struct {
	publisher *events.Publisher
	ids       *reconcile.IDSequence
}

func newSessionBuilder(cfg *config.Config) *sessionBuilder {
	return &sessionBuilder{
		publisher: events.New(cfg.ToKafkaConfig(), nil),
		ids:       reconcile.NewIDSequence(cfg.Reconcile.IDPrefix),
	}
}

func (b *sessionBuilder) Close() error {
	return b.publisher.Close()
}

func (b *sessionBuilder) emitter(id string, out io.Writer) *emitter.Emitter {
	var opts []emitter.Option
	if b.publisher.Enabled() {
		opts = append(opts, emitter.WithSink(b.publisher, id))
	}
	return emitter.New(out, opts...)
}

// build returns the session and its emitter. On error the emitter is still
// returned so the caller can report the setup failure on the protocol stream.
func (b *sessionBuilder) build(cfg *config.Config, id string, out io.Writer) (*session.Session, *emitter.Emitter, error) {
	em := b.emitter(id, out)

	if err := cfg.Validate(); err != nil {
		return nil, em, transcriber.NewFatalTranscriptionError(err)
	}

	tr, err := transcriber.New(cfg.ToTranscriberConfig())
	if err != nil {
		return nil, em, err
	}

	policy, err := reconcile.New(cfg.Reconcile.Policy, cfg.ToReconcileConfig(b.ids))
	if err != nil {
		return nil, em, transcriber.NewFatalTranscriptionError(err)
	}

	return session.New(cfg.ToSessionConfig(id), tr, policy, em), em, nil
}

func setupFailureMessage(err error) string {
	return fmt.Sprintf("Failed to load model: %v", err)
}
