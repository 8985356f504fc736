package config

import (
	"fmt"
	"strings"

	"github.com/leonardotrapani/whisperbridge/internal/language"
	"github.com/leonardotrapani/whisperbridge/internal/models/whisper"
	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// Validate returns the first invalid setting.
func (c *Config) Validate() error {
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %q (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %q (must be console or json)", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("invalid metrics.address: empty (required when metrics.enabled = true)")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("invalid server.address: empty")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("invalid kafka.brokers: empty (required when kafka.enabled = true)")
		}
		if c.Kafka.TopicPartial == "" {
			return fmt.Errorf("invalid kafka.topic_partial: empty")
		}
		if c.Kafka.TopicFinal == "" {
			return fmt.Errorf("invalid kafka.topic_final: empty")
		}
	}

	return nil
}

func (c *Config) validateAudio() error {
	a := c.Audio
	if a.SampleRate <= 0 {
		return fmt.Errorf("invalid audio.sample_rate: %d", a.SampleRate)
	}
	if a.ChunkSizeMS <= 0 {
		return fmt.Errorf("invalid audio.chunk_size_ms: %d", a.ChunkSizeMS)
	}
	if a.WindowSizeMS <= 0 {
		return fmt.Errorf("invalid audio.window_size_ms: %d", a.WindowSizeMS)
	}
	if a.StrideSizeMS < 0 {
		return fmt.Errorf("invalid audio.stride_size_ms: %d", a.StrideSizeMS)
	}
	if a.RetentionMultiplier < 1 {
		return fmt.Errorf("invalid audio.retention_multiplier: %d (must be at least 1)", a.RetentionMultiplier)
	}
	return nil
}

func (c *Config) validateTranscription() error {
	t := c.Transcription
	if t.Provider == "" {
		return fmt.Errorf("invalid transcription.provider: empty")
	}

	hint, err := language.ParseHint(t.Language)
	if err != nil {
		return fmt.Errorf("invalid transcription.language: %v (use empty or \"auto\" for auto-detect)", err)
	}

	switch t.Provider {
	case transcriber.ProviderOpenAI, transcriber.ProviderGroq:
		if c.resolveAPIKeyForProvider(t.Provider) == "" {
			return fmt.Errorf("%s API key required: not found in config (providers.%s.api_key, transcription.api_key) or environment variable (%s)",
				t.Provider, t.Provider, transcriber.EnvVarForProvider(t.Provider))
		}
		if !hint.SupportedByWhisper() {
			return unsupportedLanguage(t.Language)
		}

	case transcriber.ProviderWhisperCpp:
		// local, no API key required
		if !hint.SupportedByWhisper() {
			return unsupportedLanguage(t.Language)
		}
		if t.ModelPath == "" {
			if t.Model == "" {
				return fmt.Errorf("invalid transcription.model: empty (set model or model_path for whisper-cpp)")
			}
			if _, err := whisper.Resolve(t.Model); err != nil {
				return fmt.Errorf("invalid model for whisper-cpp: %w", err)
			}
		}

	case transcriber.ProviderGoogle, transcriber.ProviderMock:

	default:
		return fmt.Errorf("unsupported transcription.provider: %s (must be whisper-cpp, openai, groq, google, or mock)", t.Provider)
	}

	if t.BeamSize < 1 {
		return fmt.Errorf("invalid transcription.beam_size: %d (must be at least 1)", t.BeamSize)
	}
	if t.Temperature < 0 || t.Temperature > 1 {
		return fmt.Errorf("invalid transcription.temperature: %v (must be between 0 and 1)", t.Temperature)
	}
	if t.Threads < 0 {
		return fmt.Errorf("invalid transcription.threads: %d", t.Threads)
	}
	return nil
}

func (c *Config) validateReconcile() error {
	r := c.Reconcile
	switch r.Policy {
	case reconcile.PolicyPrefixDiff, reconcile.PolicySegmentCommit:
	default:
		return fmt.Errorf("invalid reconcile.policy: %q (must be prefix-diff or segment-commit)", r.Policy)
	}
	if r.NoSpeechThreshold < 0 || r.NoSpeechThreshold > 1 {
		return fmt.Errorf("invalid reconcile.no_speech_threshold: %v (must be between 0 and 1)", r.NoSpeechThreshold)
	}
	if r.MinSegmentDuration < 0 {
		return fmt.Errorf("invalid reconcile.min_segment_duration: %v", r.MinSegmentDuration)
	}
	if r.IDPrefix == "" {
		return fmt.Errorf("invalid reconcile.id_prefix: empty")
	}
	return nil
}

func unsupportedLanguage(code string) error {
	return fmt.Errorf("invalid transcription.language: %s is not supported by whisper models (one of: %s)",
		language.Label(code), strings.Join(language.Codes(), ", "))
}
