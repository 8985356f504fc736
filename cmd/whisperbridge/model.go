package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/whisperbridge/internal/language"
	"github.com/leonardotrapani/whisperbridge/internal/models/whisper"
)

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect whisper.cpp models",
	}

	cmd.AddCommand(modelListCmd(), modelLanguagesCmd())

	return cmd
}

func modelListCmd() *cobra.Command {
	var installedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known whisper.cpp models and where they are looked up",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelList(cmd.OutOrStdout(), installedOnly)
		},
	}

	cmd.Flags().BoolVar(&installedOnly, "installed", false, "only show models present on disk")

	return cmd
}

func runModelList(w io.Writer, installedOnly bool) error {
	dir, err := whisper.GetModelsDir()
	if err != nil {
		return fmt.Errorf("failed to resolve models directory: %w", err)
	}
	fmt.Fprintf(w, "models directory: %s\n\n", dir)

	if installedOnly {
		ids := whisper.ListInstalled()
		if len(ids) == 0 {
			fmt.Fprintln(w, "  no models installed")
		}
		for _, id := range ids {
			printModelLine(w, *whisper.GetModel(id), true)
		}
		return nil
	}

	for _, m := range whisper.ListModels() {
		printModelLine(w, m, whisper.IsInstalled(m.ID))
	}
	return nil
}

func printModelLine(w io.Writer, m whisper.ModelInfo, installed bool) {
	// checkmark for models present on disk
	prefix := "  [ ]"
	if installed {
		prefix = "  [x]"
	}

	kind := "english"
	if m.Multilingual {
		kind = "multilingual"
	}

	fmt.Fprintf(w, "%s %s - %s [%s, %s]\n", prefix, m.ID, m.Name, kind, m.Size)
}

func modelLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the languages whisper models accept as a hint",
		RunE: func(cmd *cobra.Command, args []string) error {
			runModelLanguages(cmd.OutOrStdout())
			return nil
		},
	}
}

func runModelLanguages(w io.Writer) {
	for _, l := range language.List() {
		fmt.Fprintf(w, "  %-3s %s (%s)\n", l.Code, l.Name, l.NativeName)
	}
}
