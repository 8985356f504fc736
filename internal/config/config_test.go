package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/leonardotrapani/whisperbridge/internal/reconcile"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// createTestConfig returns a valid configuration for testing
func createTestConfig() *Config {
	c := DefaultConfig()
	c.Transcription.Provider = transcriber.ProviderOpenAI
	c.Transcription.Model = "whisper-1"
	c.Transcription.APIKey = "test-api-key"
	return c
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv(transcriber.EnvOpenAIKey, "")
	t.Setenv(transcriber.EnvGroqKey, "")

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "valid config", modify: func(c *Config) {}},
		{name: "zero sample rate", modify: func(c *Config) { c.Audio.SampleRate = 0 }, wantErr: "audio.sample_rate"},
		{name: "zero chunk", modify: func(c *Config) { c.Audio.ChunkSizeMS = 0 }, wantErr: "audio.chunk_size_ms"},
		{name: "negative window", modify: func(c *Config) { c.Audio.WindowSizeMS = -1 }, wantErr: "audio.window_size_ms"},
		{name: "negative stride", modify: func(c *Config) { c.Audio.StrideSizeMS = -5 }, wantErr: "audio.stride_size_ms"},
		{name: "zero stride allowed", modify: func(c *Config) { c.Audio.StrideSizeMS = 0 }},
		{name: "zero retention", modify: func(c *Config) { c.Audio.RetentionMultiplier = 0 }, wantErr: "audio.retention_multiplier"},
		{name: "empty provider", modify: func(c *Config) { c.Transcription.Provider = "" }, wantErr: "transcription.provider"},
		{name: "unknown provider", modify: func(c *Config) { c.Transcription.Provider = "deepgram" }, wantErr: "unsupported transcription.provider"},
		{name: "missing api key", modify: func(c *Config) { c.Transcription.APIKey = "" }, wantErr: "API key required"},
		{
			name: "api key from providers section",
			modify: func(c *Config) {
				c.Transcription.APIKey = ""
				c.Providers[transcriber.ProviderOpenAI] = ProviderConfig{APIKey: "sk-x"}
			},
		},
		{name: "groq without key", modify: func(c *Config) {
			c.Transcription.Provider = transcriber.ProviderGroq
			c.Transcription.APIKey = ""
		}, wantErr: "groq API key required"},
		{name: "bad language", modify: func(c *Config) { c.Transcription.Language = "not a language" }, wantErr: "transcription.language"},
		{name: "non-whisper language", modify: func(c *Config) { c.Transcription.Language = "yue" }, wantErr: "one of: af, ar, hy"},
		{name: "region tag", modify: func(c *Config) { c.Transcription.Language = "pt_BR" }},
		{name: "auto language", modify: func(c *Config) { c.Transcription.Language = "auto" }},
		{name: "zero beam", modify: func(c *Config) { c.Transcription.BeamSize = 0 }, wantErr: "transcription.beam_size"},
		{name: "temperature too high", modify: func(c *Config) { c.Transcription.Temperature = 1.5 }, wantErr: "transcription.temperature"},
		{name: "negative threads", modify: func(c *Config) { c.Transcription.Threads = -1 }, wantErr: "transcription.threads"},
		{name: "whisper-cpp unknown model", modify: func(c *Config) {
			c.Transcription.Provider = transcriber.ProviderWhisperCpp
			c.Transcription.Model = "huge"
		}, wantErr: "invalid model for whisper-cpp"},
		{name: "whisper-cpp model path", modify: func(c *Config) {
			c.Transcription.Provider = transcriber.ProviderWhisperCpp
			c.Transcription.Model = ""
			c.Transcription.ModelPath = "/models/custom.bin"
		}},
		{name: "google needs no key", modify: func(c *Config) {
			c.Transcription.Provider = transcriber.ProviderGoogle
			c.Transcription.APIKey = ""
		}},
		{name: "mock provider", modify: func(c *Config) { c.Transcription.Provider = transcriber.ProviderMock }},
		{name: "unknown policy", modify: func(c *Config) { c.Reconcile.Policy = "greedy" }, wantErr: "reconcile.policy"},
		{name: "segment commit", modify: func(c *Config) { c.Reconcile.Policy = reconcile.PolicySegmentCommit }},
		{name: "threshold out of range", modify: func(c *Config) { c.Reconcile.NoSpeechThreshold = 2 }, wantErr: "reconcile.no_speech_threshold"},
		{name: "negative min duration", modify: func(c *Config) { c.Reconcile.MinSegmentDuration = -1 }, wantErr: "reconcile.min_segment_duration"},
		{name: "empty id prefix", modify: func(c *Config) { c.Reconcile.IDPrefix = "" }, wantErr: "reconcile.id_prefix"},
		{name: "bad log level", modify: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "bad log format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "metrics without address", modify: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}, wantErr: "metrics.address"},
		{name: "empty server address", modify: func(c *Config) { c.Server.Address = "" }, wantErr: "server.address"},
		{name: "kafka without brokers", modify: func(c *Config) { c.Kafka.Enabled = true }, wantErr: "kafka.brokers"},
		{name: "kafka without final topic", modify: func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.TopicFinal = ""
		}, wantErr: "kafka.topic_final"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := createTestConfig()
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveAPIKeyForProvider(t *testing.T) {
	tests := []struct {
		name      string
		providers map[string]ProviderConfig
		configKey string
		env       string
		want      string
	}{
		{name: "providers section wins", providers: map[string]ProviderConfig{"openai": {APIKey: "from-providers"}}, configKey: "from-config", env: "from-env", want: "from-providers"},
		{name: "transcription key next", configKey: "from-config", env: "from-env", want: "from-config"},
		{name: "environment last", env: "from-env", want: "from-env"},
		{name: "nothing set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(transcriber.EnvOpenAIKey, tt.env)
			c := DefaultConfig()
			if tt.providers != nil {
				c.Providers = tt.providers
			}
			c.Transcription.APIKey = tt.configKey
			if got := c.resolveAPIKeyForProvider(transcriber.ProviderOpenAI); got != tt.want {
				t.Errorf("resolveAPIKeyForProvider() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.Audio.SampleRate != 16000 || c.Reconcile.Policy != reconcile.PolicyPrefixDiff {
		t.Errorf("expected defaults, got audio=%+v reconcile=%+v", c.Audio, c.Reconcile)
	}
	if c.Transcription.Threads < 1 {
		t.Errorf("threads default not applied: %d", c.Transcription.Threads)
	}

	if _, err := LoadFile(path); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("LoadFile() error = %v, want ErrConfigNotFound", err)
	}
}

func TestLoadFile_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[audio]
sample_rate = 8000
chunk_size_ms = 500

[transcription]
provider = "mock"
mock_script = ["hello", "hello world"]
threads = 2

[reconcile]
policy = "segment-commit"
id_prefix = "SEG"

[providers.groq]
api_key = "gsk-test"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if c.Audio.SampleRate != 8000 || c.Audio.ChunkSizeMS != 500 {
		t.Errorf("audio not decoded: %+v", c.Audio)
	}
	if c.Audio.WindowSizeMS != 3000 {
		t.Errorf("absent keys should keep defaults, window = %d", c.Audio.WindowSizeMS)
	}
	if len(c.Transcription.MockScript) != 2 || c.Transcription.Threads != 2 {
		t.Errorf("transcription not decoded: %+v", c.Transcription)
	}
	if c.Reconcile.Policy != reconcile.PolicySegmentCommit || c.Reconcile.IDPrefix != "SEG" {
		t.Errorf("reconcile not decoded: %+v", c.Reconcile)
	}
	if c.Providers["groq"].APIKey != "gsk-test" {
		t.Errorf("providers not decoded: %+v", c.Providers)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("decoded config should validate: %v", err)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
transcription:
  provider: google
  language: en-GB
logging:
  level: debug
  format: json
kafka:
  enabled: true
  brokers:
    - localhost:9092
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if c.Transcription.Provider != transcriber.ProviderGoogle || c.Transcription.Language != "en-GB" {
		t.Errorf("transcription not decoded: %+v", c.Transcription)
	}
	if c.Logging.Level != "debug" || c.Logging.Format != "json" {
		t.Errorf("logging not decoded: %+v", c.Logging)
	}
	if !c.Kafka.Enabled || len(c.Kafka.Brokers) != 1 || c.Kafka.TopicFinal != "transcripts.final" {
		t.Errorf("kafka not decoded: %+v", c.Kafka)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[audio\nsample_rate ="), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			c := DefaultConfig()
			c.Audio.ChunkSizeMS = 250
			c.Transcription.Language = "de"
			c.Kafka.Brokers = []string{"a:9092", "b:9092"}
			if err := Save(c, path); err != nil {
				t.Fatalf("Save() error: %v", err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(string(data), "# whisperbridge configuration") {
				t.Error("saved file should start with the header comment")
			}

			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile() error: %v", err)
			}
			if loaded.Audio.ChunkSizeMS != 250 || loaded.Transcription.Language != "de" || len(loaded.Kafka.Brokers) != 2 {
				t.Errorf("round trip lost values: audio=%+v lang=%q brokers=%v",
					loaded.Audio, loaded.Transcription.Language, loaded.Kafka.Brokers)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only drives os.UserConfigDir on linux")
	}

	path, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error: %v", err)
	}
	want := filepath.Join(dir, "whisperbridge", "config.toml")
	if path != want {
		t.Errorf("GetConfigPath() = %q, want %q", path, want)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("config directory not created: %v", err)
	}
}

func TestToSessionConfig(t *testing.T) {
	c := DefaultConfig()
	c.Transcription.Language = "en-US"
	c.Audio.DrainOnEOF = true

	sc := c.ToSessionConfig("abc")
	if sc.ID != "abc" || sc.SampleRate != 16000 {
		t.Errorf("unexpected session config: %+v", sc)
	}
	// 320ms, 3000ms and 3 windows at 16kHz
	if sc.TriggerSamples != 5120 || sc.WindowSamples != 48000 || sc.CeilingSamples != 144000 {
		t.Errorf("sample counts = %d/%d/%d, want 5120/48000/144000",
			sc.TriggerSamples, sc.WindowSamples, sc.CeilingSamples)
	}
	if !sc.DrainOnEOF {
		t.Error("DrainOnEOF not carried over")
	}
	if sc.Options.Language != "en" {
		t.Errorf("whisper language = %q, want en", sc.Options.Language)
	}
	if sc.Options.BeamSize != 1 || sc.Options.SampleRate != 16000 {
		t.Errorf("unexpected options: %+v", sc.Options)
	}
}

func TestToTranscriptionOptions_Language(t *testing.T) {
	tests := []struct {
		provider string
		language string
		want     string
	}{
		{transcriber.ProviderWhisperCpp, "", ""},
		{transcriber.ProviderWhisperCpp, "auto", ""},
		{transcriber.ProviderWhisperCpp, "en_US", "en"},
		{transcriber.ProviderOpenAI, "fr", "fr"},
		{transcriber.ProviderGoogle, "en_US", "en-US"},
		{transcriber.ProviderGoogle, "auto", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.language, func(t *testing.T) {
			c := DefaultConfig()
			c.Transcription.Provider = tt.provider
			c.Transcription.Language = tt.language
			if got := c.ToTranscriptionOptions().Language; got != tt.want {
				t.Errorf("Language = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToTranscriberConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WHISPERBRIDGE_MODELS_DIR", dir)

	c := DefaultConfig()
	c.Transcription.Model = "small"
	tc := c.ToTranscriberConfig()
	if tc.Provider != transcriber.ProviderWhisperCpp {
		t.Errorf("provider = %q", tc.Provider)
	}
	if want := filepath.Join(dir, "ggml-small.bin"); tc.ModelPath != want {
		t.Errorf("ModelPath = %q, want %q", tc.ModelPath, want)
	}

	c.Transcription.ModelPath = "/opt/models/custom.bin"
	if tc := c.ToTranscriberConfig(); tc.ModelPath != "/opt/models/custom.bin" {
		t.Errorf("explicit model_path should win, got %q", tc.ModelPath)
	}

	t.Setenv(transcriber.EnvGroqKey, "gsk-env")
	c = DefaultConfig()
	c.Transcription.Provider = transcriber.ProviderGroq
	if tc := c.ToTranscriberConfig(); tc.APIKey != "gsk-env" || tc.ModelPath != "" {
		t.Errorf("groq config = %+v", tc)
	}
}

func TestToReconcileConfig(t *testing.T) {
	c := DefaultConfig()
	c.Reconcile.IDPrefix = "SEG"

	rc := c.ToReconcileConfig(nil)
	if rc.IDs == nil {
		t.Fatal("expected an id sequence")
	}
	if got := rc.IDs.Peek(); got != "SEG-0000" {
		t.Errorf("first id = %q, want SEG-0000", got)
	}

	shared := reconcile.NewIDSequence("TX")
	if rc := c.ToReconcileConfig(shared); rc.IDs != shared {
		t.Error("given sequence should be used")
	}
}

func TestToKafkaConfig(t *testing.T) {
	c := DefaultConfig()
	c.Kafka.Enabled = true
	c.Kafka.Brokers = []string{"k:9092"}

	kc := c.ToKafkaConfig()
	if !kc.Enabled || kc.Brokers[0] != "k:9092" || kc.TopicPartial != "transcripts.partial" || kc.Principal != "whisperbridge" {
		t.Errorf("unexpected kafka config: %+v", kc)
	}
}
