package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/whisperbridge/internal/config"
	"github.com/leonardotrapani/whisperbridge/internal/logging"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "whisperbridge",
	Short: "Streaming speech-to-text bridge speaking JSON lines over stdio",
	Long: `whisperbridge reads audio commands as JSON lines, runs speech recognition
on a sliding window and writes transcript events as JSON lines.

stdout carries protocol events only; diagnostics go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/whisperbridge/config.toml)")

	rootCmd.AddCommand(
		runCmd(),
		serveCmd(),
		replayCmd(),
		configCmd(),
		modelCmd(),
		doctorCmd(),
	)
}

// loadConfig reads the config file and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(cfg.ToLoggingConfig())
	return cfg, nil
}
