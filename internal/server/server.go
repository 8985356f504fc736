// Package server exposes sessions over WebSocket next to health and metrics
// endpoints. Each connection is one session; every text frame carries one or
// more protocol lines and every emitted event is sent as its own text frame.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/whisperbridge/internal/logging"
	"github.com/leonardotrapani/whisperbridge/internal/protocol"
	"github.com/leonardotrapani/whisperbridge/internal/session"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Factory builds the session for one connection. Events must be written to out.
type Factory func(id string, out io.Writer) (*session.Session, error)

type Server struct {
	factory        Factory
	metricsHandler http.Handler
	upgrader       websocket.Upgrader
	ready          atomic.Bool
	sessions       sync.WaitGroup
	active         atomic.Int64
	log            zerolog.Logger
}

type Option func(*Server)

// WithMetricsHandler replaces the handler mounted on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

func New(factory Factory, opts ...Option) *Server {
	s := &Server{
		factory:        factory,
		metricsHandler: promhttp.Handler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logging.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ready.Store(true)
	return s
}

// SetReady toggles the /readyz answer.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ActiveSessions returns the number of connected sessions.
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

// Handler returns the HTTP routes of the bridge.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	mountProbes(r, s.ready.Load)
	r.Handle("/metrics", s.metricsHandler)
	r.Get("/v1/stream", s.handleStream)

	return r
}

// MetricsHandler returns a router with only /metrics and the probes, for the
// stdio mode where no stream endpoint exists.
func MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	mountProbes(r, func() bool { return true })
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func mountProbes(r chi.Router, ready func() bool) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("shutting down"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}

// Serve listens on addr until ctx is done, then stops accepting connections,
// cancels running sessions and waits for them to return.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", lis.Addr().String()).Msg("Server listening")
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.SetReady(false)
	s.log.Info().Int64("sessions", s.ActiveSessions()).Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.sessions.Wait()
	return err
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s.sessions.Add(1)
	defer s.sessions.Done()
	s.active.Add(1)
	defer s.active.Add(-1)

	id := uuid.NewString()
	log := s.log.With().Str("sessionId", id).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("Stream connected")

	out := &frameWriter{conn: conn}
	sess, err := s.factory(id, out)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		if line, encErr := protocol.Encode(protocol.Error(fmt.Sprintf("Failed to start session: %v", err), protocol.CodeModelLoad)); encErr == nil {
			_ = out.send(line)
		}
		closeConn(conn, websocket.CloseInternalServerErr, "session setup failed")
		return
	}

	pr, pw := io.Pipe()
	go pumpFrames(conn, pw)

	err = sess.Run(r.Context(), pr)
	_ = pr.Close()

	code, reason := websocket.CloseNormalClosure, "stopped"
	if err != nil {
		log.Warn().Err(err).Msg("Session ended with error")
		code, reason = websocket.CloseInternalServerErr, "session failed"
	}
	closeConn(conn, code, reason)
	log.Info().Interface("stats", sess.Stats()).Msg("Stream closed")
}

// pumpFrames copies inbound frames into the session input, one line per
// frame unless the frame already ends in a newline.
func pumpFrames(conn *websocket.Conn, pw *io.PipeWriter) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_ = pw.CloseWithError(err)
				return
			}
			_ = pw.Close()
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if _, err := pw.Write(data); err != nil {
			return
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			if _, err := pw.Write([]byte{'\n'}); err != nil {
				return
			}
		}
	}
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// frameWriter turns the emitter's line stream into text frames.
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	buf  bytes.Buffer
}

func (f *frameWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.Write(p)
	for {
		i := bytes.IndexByte(f.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := f.buf.Next(i + 1)
		if err := f.sendLocked(line[:i]); err != nil {
			return 0, err
		}
	}
}

func (f *frameWriter) send(line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendLocked(line)
}

func (f *frameWriter) sendLocked(line []byte) error {
	_ = f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(websocket.TextMessage, line)
}
