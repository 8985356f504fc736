package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonardotrapani/whisperbridge/internal/audio"
	"github.com/leonardotrapani/whisperbridge/internal/protocol"
)

func replayCmd() *cobra.Command {
	var (
		flags    runFlags
		chunkMS  int
		realtime bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file.f32>",
		Short: "Feed a raw float32 recording through a session",
		Long: `Replay a headerless little-endian float32 mono recording at the configured
sample rate. The file is sent in chunks followed by stop, and the events are
written to stdout exactly as in run mode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open recording: %w", err)
			}
			defer f.Close()

			if chunkMS <= 0 {
				chunkMS = cfg.Audio.ChunkSizeMS
			}
			chunk := max(audio.SamplesForDuration(chunkMS, cfg.Audio.SampleRate), 1)

			var pace time.Duration
			if realtime {
				pace = audio.Duration(chunk, cfg.Audio.SampleRate)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pr, pw := io.Pipe()
			go func() {
				pw.CloseWithError(replayLines(ctx, f, chunk, pace, pw))
			}()
			defer pr.Close()

			return runStdio(ctx, cfg, pr, cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&chunkMS, "send-ms", 0, "audio per sent chunk in ms (default audio.chunk_size_ms)")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace chunks at the speed of the recording")

	return cmd
}

// replayLines writes r as audio command lines of chunk samples each, then a
// stop line. A trailing partial sample is ignored.
func replayLines(ctx context.Context, r io.Reader, chunk int, pace time.Duration, w io.Writer) error {
	buf := make([]byte, chunk*4)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, buf)
		n -= n % 4
		if n > 0 {
			samples := make([]float32, n/4)
			for i := range samples {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			}
			line, encErr := protocol.EncodeAudio(samples)
			if encErr != nil {
				return encErr
			}
			if _, werr := w.Write(append(line, '\n')); werr != nil {
				return werr
			}
			if pace > 0 {
				select {
				case <-time.After(pace):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read recording: %w", err)
		}
	}

	stop, err := protocol.EncodeCommand(protocol.TypeStop)
	if err != nil {
		return err
	}
	_, err = w.Write(append(stop, '\n'))
	return err
}
