package transcriber

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by New
const (
	ProviderWhisperCpp = "whisper-cpp"
	ProviderOpenAI     = "openai"
	ProviderGroq       = "groq"
	ProviderGoogle     = "google"
	ProviderMock       = "mock"
)

// Environment variable names for API keys
const (
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvGroqKey   = "GROQ_API_KEY"
)

// EnvVarForProvider returns the environment variable name for a provider's API key
func EnvVarForProvider(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return EnvOpenAIKey
	case ProviderGroq:
		return EnvGroqKey
	default:
		return ""
	}
}

// Segment is one utterance detected by a single inference pass.
// Start and End are offsets in seconds within the analyzed audio.
type Segment struct {
	ID           int
	Text         string
	Start        float64
	End          float64
	NoSpeechProb float64
	AvgLogProb   float64
	Temperature  float64
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Result is everything one inference pass produced.
type Result struct {
	Segments            []Segment
	Language            string
	LanguageProbability float64
}

// Text joins segment texts the way whisper emits them (segments carry their
// own leading spaces) and trims the result.
func (r Result) Text() string {
	var b strings.Builder
	for _, s := range r.Segments {
		b.WriteString(s.Text)
	}
	return strings.TrimSpace(b.String())
}

// Options are per-call decoding settings.
type Options struct {
	Language    string // empty for auto-detect
	BeamSize    int
	Temperature float64
	VADFilter   bool
	SampleRate  int
	Prompt      string
}

// Transcriber is the opaque, synchronous model boundary. Implementations
// block until the pass completes.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
}

// Loader is implemented by backends that need a setup step before the first
// pass (model file checks, client creation). A Load error is fatal.
type Loader interface {
	Load(ctx context.Context) error
}

// Func adapts a plain function to Transcriber.
type Func func(ctx context.Context, samples []float32, opts Options) (Result, error)

func (f Func) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	return f(ctx, samples, opts)
}

// Configuration for the transcriber backend
type Config struct {
	Provider   string
	Model      string
	ModelPath  string // whisper-cpp model file
	APIKey     string
	BaseURL    string // override for OpenAI-compatible endpoints
	Threads    int    // whisper-cpp CPU threads (0 = whisper default)
	MockScript []string
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "whisper-1"
	case ProviderGroq:
		return "whisper-large-v3-turbo"
	case ProviderWhisperCpp:
		return "base.en"
	case ProviderGoogle:
		return "default"
	default:
		return ""
	}
}

// New creates the backend selected by config.Provider. Errors are setup
// failures and are returned as FatalTranscriptionError.
func New(config Config) (Transcriber, error) {
	if config.Model == "" {
		config.Model = DefaultModel(config.Provider)
	}

	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, NewFatalTranscriptionError(fmt.Errorf("OpenAI API key required"))
		}
		return NewOpenAIAdapter(config), nil

	case ProviderGroq:
		if config.APIKey == "" {
			return nil, NewFatalTranscriptionError(fmt.Errorf("Groq API key required"))
		}
		if config.BaseURL == "" {
			config.BaseURL = groqBaseURL
		}
		return NewOpenAIAdapter(config), nil

	case ProviderWhisperCpp:
		if config.ModelPath == "" {
			return nil, NewFatalTranscriptionError(fmt.Errorf("whisper-cpp model path required (unknown model %q)", config.Model))
		}
		return NewWhisperCppAdapter(config.ModelPath, config.Threads), nil

	case ProviderGoogle:
		return NewGoogleAdapter(config), nil

	case ProviderMock:
		return NewMockAdapter(config.MockScript), nil

	default:
		return nil, NewFatalTranscriptionError(fmt.Errorf("unsupported provider: %s", config.Provider))
	}
}
