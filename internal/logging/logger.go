// Package logging provides structured diagnostics with zerolog.
// Logs always go to stderr; stdout belongs to the protocol.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
	}
}

// Init initializes the global zerolog logger on stderr.
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stderr)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(cfg Config, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	SetLevel(cfg.Level)

	output := w
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "whisperbridge").
		Logger()
}

// SetLevel changes the global level; unknown levels fall back to info.
func SetLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	return parsed
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithSession returns a logger tagged with a session id.
func WithSession(component, sessionID string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("sessionId", sessionID).
		Logger()
}
