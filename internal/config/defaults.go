package config

import (
	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// DefaultConfig returns the configuration used when no file exists. Audio and
// decoding defaults match what the desktop host sends to the bridge.
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:          16000,
			ChunkSizeMS:         320,
			WindowSizeMS:        3000,
			StrideSizeMS:        120,
			RetentionMultiplier: 3,
			DrainOnEOF:          false,
		},
		Transcription: TranscriptionConfig{
			Provider:    transcriber.ProviderWhisperCpp,
			Model:       transcriber.DefaultModel(transcriber.ProviderWhisperCpp),
			Language:    "",
			BeamSize:    1,
			Temperature: 0,
			VADFilter:   false,
			Threads:     0,
		},
		Reconcile: ReconcileConfig{
			Policy:             reconcile.PolicyPrefixDiff,
			NoSpeechThreshold:  0.2,
			MinSegmentDuration: 1.0,
			IDPrefix:           reconcile.DefaultIDPrefix,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Server: ServerConfig{
			Address: ":8080",
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			TopicPartial: "transcripts.partial",
			TopicFinal:   "transcripts.final",
			Principal:    "whisperbridge",
		},
		Providers: make(map[string]ProviderConfig),
	}
}
