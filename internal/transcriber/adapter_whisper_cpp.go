package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/leonardotrapani/whisperbridge/internal/audio"
	"github.com/leonardotrapani/whisperbridge/internal/logging"
)

// WhisperCliBinary is the whisper.cpp executable looked up on PATH.
const WhisperCliBinary = "whisper-cli"

// WhisperCppAdapter runs the local whisper.cpp CLI once per inference pass
type WhisperCppAdapter struct {
	modelPath string
	threads   int
	binary    string
}

// NewWhisperCppAdapter creates a new whisper-cpp adapter
// modelPath: full path to the ggml model file
// threads: number of CPU threads (0 for whisper default)
func NewWhisperCppAdapter(modelPath string, threads int) *WhisperCppAdapter {
	return &WhisperCppAdapter{
		modelPath: modelPath,
		threads:   threads,
		binary:    WhisperCliBinary,
	}
}

// Load checks that the model file and whisper-cli are available.
func (a *WhisperCppAdapter) Load(ctx context.Context) error {
	if _, err := os.Stat(a.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, a.modelPath)
	}
	if _, err := exec.LookPath(a.binary); err != nil {
		return fmt.Errorf("%w: %s (install whisper.cpp first)", ErrExecutableNotFound, a.binary)
	}
	return nil
}

// whisper-cli -oj output
type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (a *WhisperCppAdapter) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if len(samples) == 0 {
		return Result{}, nil
	}

	whisperPath, err := exec.LookPath(a.binary)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrExecutableNotFound, a.binary)
	}

	tmpBase := filepath.Join(os.TempDir(), fmt.Sprintf("whisperbridge-%d", time.Now().UnixNano()))
	wavFile := tmpBase + ".wav"
	jsonFile := tmpBase + ".json"
	if err := os.WriteFile(wavFile, audio.EncodeWAV(samples, opts.SampleRate), 0600); err != nil {
		return Result{}, fmt.Errorf("write temp file: %w", err)
	}
	defer os.Remove(wavFile)
	defer os.Remove(jsonFile)

	args := a.buildArgs(wavFile, tmpBase, opts)

	cmd := exec.CommandContext(ctx, whisperPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log := logging.WithComponent("whisper-cpp")
	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		log.Error().Err(err).Dur("elapsed", duration).Str("stderr", stderr.String()).Msg("command failed")
		return Result{}, fmt.Errorf("whisper-cli failed: %w", err)
	}

	raw, err := os.ReadFile(jsonFile)
	if err != nil {
		return Result{}, fmt.Errorf("read whisper-cli output: %w", err)
	}

	result, err := parseWhisperCppOutput(raw)
	if err != nil {
		return Result{}, err
	}

	log.Debug().Int("samples", len(samples)).Dur("elapsed", duration).Str("text", result.Text()).Msg("transcribed")
	return result, nil
}

func (a *WhisperCppAdapter) buildArgs(wavFile, outBase string, opts Options) []string {
	// use whisper-cpp auto if unspecified
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}

	args := []string{
		"-m", a.modelPath,
		"-l", lang,
		"-np", // no progress
		"-oj", // json output
		"-of", outBase,
		"-tp", strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
	}
	if opts.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(opts.BeamSize))
	}
	if a.threads > 0 {
		args = append(args, "-t", strconv.Itoa(a.threads))
	}
	if opts.Prompt != "" {
		args = append(args, "--prompt", opts.Prompt)
	}
	return append(args, "-f", wavFile)
}

// parseWhisperCppOutput converts whisper-cli JSON into a Result. whisper.cpp
// does not report a no-speech probability, so segments carry 0.
func parseWhisperCppOutput(raw []byte) (Result, error) {
	var out whisperCppOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse whisper-cli output: %w", err)
	}

	result := Result{
		Language:            out.Result.Language,
		LanguageProbability: 1,
	}
	for i, t := range out.Transcription {
		result.Segments = append(result.Segments, Segment{
			ID:    i,
			Text:  t.Text,
			Start: float64(t.Offsets.From) / 1000,
			End:   float64(t.Offsets.To) / 1000,
		})
	}
	return result, nil
}
