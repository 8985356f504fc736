package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leonardotrapani/whisperbridge/internal/config"
	"github.com/leonardotrapani/whisperbridge/internal/logging"
	"github.com/leonardotrapani/whisperbridge/internal/server"
	"github.com/leonardotrapani/whisperbridge/internal/session"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over WebSocket",
		Long: `Serve transcription sessions on /v1/stream. Every WebSocket connection is
an independent session using the same JSON line protocol, one line per text
frame. /metrics, /healthz and /readyz are served on the same address.

The config file is watched; changes apply to sessions started afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	mgr, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	cfg := mgr.GetConfig()
	logging.Init(cfg.ToLoggingConfig())

	if err := mgr.StartWatching(ctx); err != nil {
		log.Warn().Err(err).Msg("Config hot reload disabled")
	}
	defer mgr.Stop()

	if addr == "" {
		addr = cfg.Server.Address
	}

	builder := newSessionBuilder(cfg)
	defer builder.Close()

	srv := server.New(func(id string, out io.Writer) (*session.Session, error) {
		sc := mgr.GetConfig()
		sess, _, err := builder.build(sc, id, out)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("sessionId", id).Msg("Starting session: " + describeConfig(sc))
		return sess, nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, addr)
	})
	if cfg.Metrics.Enabled && cfg.Metrics.Address != addr {
		g.Go(func() error {
			serveMetrics(gctx, cfg.Metrics.Address)
			return nil
		})
	}

	err = g.Wait()
	log.Info().Msg("Server stopped")
	return err
}
