package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/leonardotrapani/whisperbridge/internal/audio"
	"github.com/leonardotrapani/whisperbridge/internal/logging"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIAdapter implements Transcriber for OpenAI-compatible
// /audio/transcriptions endpoints (OpenAI, Groq, local servers).
type OpenAIAdapter struct {
	client *openai.Client
	config Config
}

func NewOpenAIAdapter(config Config) *OpenAIAdapter {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

func (a *OpenAIAdapter) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if len(samples) == 0 {
		return Result{}, nil
	}

	req := openai.AudioRequest{
		Model:       a.config.Model,
		Reader:      bytes.NewReader(audio.EncodeWAV(samples, opts.SampleRate)),
		FilePath:    "audio.wav",
		Prompt:      opts.Prompt,
		Temperature: float32(opts.Temperature),
		Language:    opts.Language,
		Format:      openai.AudioResponseFormatVerboseJSON,
	}

	log := logging.WithComponent(a.config.Provider + "-adapter")
	start := time.Now()
	resp, err := a.client.CreateTranscription(ctx, req)
	duration := time.Since(start)

	if err != nil {
		log.Error().Err(err).Dur("elapsed", duration).Msg("API call failed")
		return Result{}, fmt.Errorf("%s transcription: %w", a.config.Provider, err)
	}

	result := Result{Language: resp.Language}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, Segment{
			ID:           s.ID,
			Text:         s.Text,
			Start:        s.Start,
			End:          s.End,
			NoSpeechProb: s.NoSpeechProb,
			AvgLogProb:   s.AvgLogprob,
			Temperature:  s.Temperature,
		})
	}
	// plain-text servers return no segments
	if len(result.Segments) == 0 && resp.Text != "" {
		end := resp.Duration
		if end == 0 {
			end = audio.Duration(len(samples), opts.SampleRate).Seconds()
		}
		result.Segments = []Segment{{Text: resp.Text, End: end}}
	}
	result.LanguageProbability = meanConfidence(result.Segments)

	log.Debug().Int("samples", len(samples)).Dur("elapsed", duration).Str("text", result.Text()).Msg("transcribed")
	return result, nil
}

// meanConfidence averages exp(avg_logprob) over segments; the API does not
// expose a language probability.
func meanConfidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += math.Exp(s.AvgLogProb)
	}
	return sum / float64(len(segments))
}
