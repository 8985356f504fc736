package config

import (
	"os"

	"github.com/leonardotrapani/whisperbridge/internal/events"
	"github.com/leonardotrapani/whisperbridge/internal/language"
	"github.com/leonardotrapani/whisperbridge/internal/logging"
	"github.com/leonardotrapani/whisperbridge/internal/models/whisper"
	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
	"github.com/leonardotrapani/whisperbridge/internal/session"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

func (c *Config) ToTranscriberConfig() transcriber.Config {
	config := transcriber.Config{
		Provider:   c.Transcription.Provider,
		Model:      c.Transcription.Model,
		ModelPath:  c.Transcription.ModelPath,
		BaseURL:    c.Transcription.BaseURL,
		Threads:    c.Transcription.Threads,
		MockScript: c.Transcription.MockScript,
	}

	if config.Provider == transcriber.ProviderWhisperCpp && config.ModelPath == "" {
		model := config.Model
		if model == "" {
			model = transcriber.DefaultModel(config.Provider)
		}
		// an unresolvable model leaves ModelPath empty and transcriber.New reports it
		config.ModelPath, _ = whisper.Resolve(model)
	}

	config.APIKey = c.resolveAPIKeyForProvider(c.Transcription.Provider)

	return config
}

// ToTranscriptionOptions returns the per-pass decoding options. The language
// is rendered the way the selected provider expects it.
func (c *Config) ToTranscriptionOptions() transcriber.Options {
	return transcriber.Options{
		Language:    c.providerLanguage(),
		BeamSize:    c.Transcription.BeamSize,
		Temperature: c.Transcription.Temperature,
		VADFilter:   c.Transcription.VADFilter,
		SampleRate:  c.Audio.SampleRate,
		Prompt:      c.Transcription.Prompt,
	}
}

func (c *Config) providerLanguage() string {
	hint, err := language.ParseHint(c.Transcription.Language)
	if err != nil {
		return ""
	}
	if c.Transcription.Provider == transcriber.ProviderGoogle {
		return hint.BCP47()
	}
	return hint.Whisper()
}

// ToSessionConfig converts the audio settings into sample counts for one
// session.
func (c *Config) ToSessionConfig(id string) session.Config {
	trigger, window, ceiling := session.SampleCounts(
		c.Audio.SampleRate,
		c.Audio.ChunkSizeMS,
		c.Audio.WindowSizeMS,
		c.Audio.RetentionMultiplier,
	)
	return session.Config{
		ID:             id,
		SampleRate:     c.Audio.SampleRate,
		TriggerSamples: trigger,
		WindowSamples:  window,
		CeilingSamples: ceiling,
		DrainOnEOF:     c.Audio.DrainOnEOF,
		Options:        c.ToTranscriptionOptions(),
		Provider:       c.Transcription.Provider,
	}
}

// ToReconcileConfig returns the policy tuning. A nil ids gets a fresh
// sequence with the configured prefix.
func (c *Config) ToReconcileConfig(ids *reconcile.IDSequence) reconcile.Config {
	if ids == nil {
		ids = reconcile.NewIDSequence(c.Reconcile.IDPrefix)
	}
	return reconcile.Config{
		NoSpeechThreshold:  c.Reconcile.NoSpeechThreshold,
		MinSegmentDuration: c.Reconcile.MinSegmentDuration,
		IDs:                ids,
	}
}

func (c *Config) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
}

func (c *Config) ToKafkaConfig() *events.Config {
	return &events.Config{
		Enabled:      c.Kafka.Enabled,
		Brokers:      c.Kafka.Brokers,
		TopicPartial: c.Kafka.TopicPartial,
		TopicFinal:   c.Kafka.TopicFinal,
		Principal:    c.Kafka.Principal,
	}
}

// resolveAPIKeyForProvider returns the API key for a provider from multiple sources
func (c *Config) resolveAPIKeyForProvider(providerName string) string {
	if c.Providers != nil {
		if pc, ok := c.Providers[providerName]; ok && pc.APIKey != "" {
			return pc.APIKey
		}
	}

	if c.Transcription.APIKey != "" {
		return c.Transcription.APIKey
	}

	if envVar := transcriber.EnvVarForProvider(providerName); envVar != "" {
		return os.Getenv(envVar)
	}
	return ""
}
