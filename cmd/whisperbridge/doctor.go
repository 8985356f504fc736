package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/whisperbridge/internal/config"
	"github.com/leonardotrapani/whisperbridge/internal/deps"
)

var errChecksFailed = errors.New("some checks failed")

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the configured backend can start",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return printChecks(cmd.OutOrStdout(), deps.Report(cfg))
		},
	}
}

func printChecks(w io.Writer, checks []deps.Check) error {
	failed := false
	for _, c := range checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
			failed = true
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", mark, c.Name, c.Detail)
	}
	if failed {
		return errChecksFailed
	}
	return nil
}
