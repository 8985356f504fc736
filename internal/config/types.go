package config

// Config is the bridge configuration. TOML is the native format; YAML files
// use the same keys.
type Config struct {
	Audio         AudioConfig               `toml:"audio" yaml:"audio"`
	Transcription TranscriptionConfig       `toml:"transcription" yaml:"transcription"`
	Reconcile     ReconcileConfig           `toml:"reconcile" yaml:"reconcile"`
	Logging       LoggingConfig             `toml:"logging" yaml:"logging"`
	Metrics       MetricsConfig             `toml:"metrics" yaml:"metrics"`
	Server        ServerConfig              `toml:"server" yaml:"server"`
	Kafka         KafkaConfig               `toml:"kafka" yaml:"kafka"`
	Providers     map[string]ProviderConfig `toml:"providers" yaml:"providers"`
}

// ProviderConfig holds API key for a provider
type ProviderConfig struct {
	APIKey string `toml:"api_key" yaml:"api_key"`
}

// AudioConfig describes the inbound stream and the buffering cadence.
type AudioConfig struct {
	SampleRate          int  `toml:"sample_rate" yaml:"sample_rate"`
	ChunkSizeMS         int  `toml:"chunk_size_ms" yaml:"chunk_size_ms"`   // new audio that triggers a pass
	WindowSizeMS        int  `toml:"window_size_ms" yaml:"window_size_ms"` // audio analyzed per pass
	StrideSizeMS        int  `toml:"stride_size_ms" yaml:"stride_size_ms"` // accepted, reserved
	RetentionMultiplier int  `toml:"retention_multiplier" yaml:"retention_multiplier"`
	DrainOnEOF          bool `toml:"drain_on_eof" yaml:"drain_on_eof"`
}

type TranscriptionConfig struct {
	Provider    string   `toml:"provider" yaml:"provider"`
	Model       string   `toml:"model" yaml:"model"`
	ModelPath   string   `toml:"model_path" yaml:"model_path"` // whisper-cpp: overrides model lookup
	Language    string   `toml:"language" yaml:"language"`     // empty or "auto" to detect
	BeamSize    int      `toml:"beam_size" yaml:"beam_size"`
	Temperature float64  `toml:"temperature" yaml:"temperature"`
	VADFilter   bool     `toml:"vad_filter" yaml:"vad_filter"`
	Threads     int      `toml:"threads" yaml:"threads"` // CPU threads for whisper-cpp (0 = auto: NumCPU-1)
	Prompt      string   `toml:"prompt" yaml:"prompt"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
	MockScript  []string `toml:"mock_script" yaml:"mock_script"`
}

type ReconcileConfig struct {
	Policy             string  `toml:"policy" yaml:"policy"` // "prefix-diff" or "segment-commit"
	NoSpeechThreshold  float64 `toml:"no_speech_threshold" yaml:"no_speech_threshold"`
	MinSegmentDuration float64 `toml:"min_segment_duration" yaml:"min_segment_duration"` // seconds
	IDPrefix           string  `toml:"id_prefix" yaml:"id_prefix"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "console" or "json"
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Address string `toml:"address" yaml:"address"`
}

type ServerConfig struct {
	Address string `toml:"address" yaml:"address"`
}

type KafkaConfig struct {
	Enabled      bool     `toml:"enabled" yaml:"enabled"`
	Brokers      []string `toml:"brokers" yaml:"brokers"`
	TopicPartial string   `toml:"topic_partial" yaml:"topic_partial"`
	TopicFinal   string   `toml:"topic_final" yaml:"topic_final"`
	Principal    string   `toml:"principal" yaml:"principal"`
}
