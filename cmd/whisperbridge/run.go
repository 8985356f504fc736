package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leonardotrapani/whisperbridge/internal/config"
	"github.com/leonardotrapani/whisperbridge/internal/emitter"
	"github.com/leonardotrapani/whisperbridge/internal/protocol"
	"github.com/leonardotrapani/whisperbridge/internal/server"
)

type runFlags struct {
	model       string
	provider    string
	chunkSize   int
	windowSize  int
	language    string
	policy      string
	sampleRate  int
	beamSize    int
	temperature float64
	vadFilter   string
	drainOnEOF  bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.model, "model", "", "model ID or path (whisper-cpp), or remote model name")
	fl.StringVar(&f.provider, "provider", "", "transcription provider: whisper-cpp, openai, groq, google, mock")
	fl.IntVar(&f.chunkSize, "chunk-size", 0, "new audio in ms that triggers an inference pass")
	fl.IntVar(&f.windowSize, "window-size", 0, "audio in ms analyzed per pass")
	fl.StringVar(&f.language, "language", "", "language hint (BCP 47 or ISO 639-1, \"auto\" to detect)")
	fl.StringVar(&f.policy, "policy", "", "reconcile policy: prefix-diff or segment-commit")
	fl.IntVar(&f.sampleRate, "sample-rate", 0, "sample rate of the incoming audio in Hz")
	fl.IntVar(&f.beamSize, "beam-size", 0, "decoder beam size")
	fl.Float64Var(&f.temperature, "temperature", 0, "decoder temperature")
	fl.StringVar(&f.vadFilter, "vad-filter", "", "enable voice activity filtering (1, true, yes, y)")
	fl.BoolVar(&f.drainOnEOF, "drain-on-eof", false, "run a final pass when input ends without stop")
}

// apply overrides cfg with the flags the user set explicitly.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("model") {
		cfg.Transcription.Model = f.model
		cfg.Transcription.ModelPath = ""
	}
	if changed("provider") {
		cfg.Transcription.Provider = f.provider
	}
	if changed("chunk-size") {
		cfg.Audio.ChunkSizeMS = f.chunkSize
	}
	if changed("window-size") {
		cfg.Audio.WindowSizeMS = f.windowSize
	}
	if changed("language") {
		cfg.Transcription.Language = f.language
	}
	if changed("policy") {
		cfg.Reconcile.Policy = f.policy
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if changed("beam-size") {
		cfg.Transcription.BeamSize = f.beamSize
	}
	if changed("temperature") {
		cfg.Transcription.Temperature = f.temperature
	}
	if changed("vad-filter") {
		cfg.Transcription.VADFilter = truthy(f.vadFilter)
	}
	if changed("drain-on-eof") {
		cfg.Audio.DrainOnEOF = f.drainOnEOF
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func runCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one session on stdin/stdout",
		Long: `Run one transcription session. Commands are read from stdin as JSON
lines and events are written to stdout. The process exits after a stop
command, at end of input, or on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				log.Error().Err(err).Msg("Session setup failed")
				_ = emitter.New(cmd.OutOrStdout()).Error(setupFailureMessage(err), protocol.CodeModelLoad)
				return err
			}
			flags.apply(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runStdio(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	return cmd
}

// runStdio runs a single session on in/out. Setup failures are reported as
// one error event before the error is returned.
func runStdio(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	builder := newSessionBuilder(cfg)
	defer builder.Close()

	id := uuid.NewString()
	sess, em, err := builder.build(cfg, id, out)
	if err != nil {
		log.Error().Err(err).Msg("Session setup failed")
		_ = em.Error(setupFailureMessage(err), protocol.CodeModelLoad)
		return err
	}
	log.Info().Str("sessionId", id).Msg("Starting session: " + describeConfig(cfg))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			serveMetrics(gctx, cfg.Metrics.Address)
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return sess.Run(gctx, in)
	})
	return g.Wait()
}

// serveMetrics exposes /metrics until ctx is done. Failures are logged only;
// metrics never stop a session.
func serveMetrics(ctx context.Context, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.MetricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Str("addr", addr).Msg("Metrics server failed")
	}
}

func describeConfig(cfg *config.Config) string {
	return fmt.Sprintf("provider=%s model=%s policy=%s rate=%d chunk=%dms window=%dms",
		cfg.Transcription.Provider, cfg.Transcription.Model, cfg.Reconcile.Policy,
		cfg.Audio.SampleRate, cfg.Audio.ChunkSizeMS, cfg.Audio.WindowSizeMS)
}
