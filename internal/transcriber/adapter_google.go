package transcriber

import (
	"context"
	"fmt"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/leonardotrapani/whisperbridge/internal/audio"
	"github.com/leonardotrapani/whisperbridge/internal/logging"
)

const googleDefaultLanguage = "en-US"

// GoogleAdapter implements Transcriber with Google Cloud Speech-to-Text
// synchronous recognition. Requires GOOGLE_APPLICATION_CREDENTIALS.
type GoogleAdapter struct {
	mu     sync.Mutex
	client *speech.Client
	model  string
}

func NewGoogleAdapter(config Config) *GoogleAdapter {
	return &GoogleAdapter{model: config.Model}
}

// Load creates the Speech client.
func (a *GoogleAdapter) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return nil
	}
	c, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create speech client: %w", err)
	}
	a.client = c
	return nil
}

func (a *GoogleAdapter) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if len(samples) == 0 {
		return Result{}, nil
	}
	if err := a.Load(ctx); err != nil {
		return Result{}, err
	}

	req := &speechpb.RecognizeRequest{
		Config: a.recognitionConfig(opts),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.ToPCM16(samples)},
		},
	}

	log := logging.WithComponent("google-adapter")
	start := time.Now()
	resp, err := a.client.Recognize(ctx, req)
	duration := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", duration).Msg("recognize failed")
		return Result{}, fmt.Errorf("google recognize: %w", err)
	}

	result := resultFromGoogle(resp)
	log.Debug().Int("samples", len(samples)).Dur("elapsed", duration).Str("text", result.Text()).Msg("transcribed")
	return result, nil
}

func (a *GoogleAdapter) recognitionConfig(opts Options) *speechpb.RecognitionConfig {
	lang := opts.Language
	if lang == "" {
		lang = googleDefaultLanguage
	}
	cfg := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(opts.SampleRate),
		LanguageCode:               lang,
		EnableAutomaticPunctuation: true,
	}
	if a.model != "" && a.model != "default" {
		cfg.Model = a.model
	}
	return cfg
}

// resultFromGoogle maps recognition results to segments. Google reports only
// the end offset of each result; a segment starts where the previous ended.
func resultFromGoogle(resp *speechpb.RecognizeResponse) Result {
	var result Result
	var prevEnd, confSum float64

	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		end := r.GetResultEndTime().AsDuration().Seconds()
		text := alts[0].GetTranscript()
		if len(result.Segments) > 0 {
			text = " " + text
		}
		result.Segments = append(result.Segments, Segment{
			ID:    len(result.Segments),
			Text:  text,
			Start: prevEnd,
			End:   end,
		})
		confSum += float64(alts[0].GetConfidence())
		prevEnd = end
		if result.Language == "" {
			result.Language = r.GetLanguageCode()
		}
	}
	if n := len(result.Segments); n > 0 {
		result.LanguageProbability = confSum / float64(n)
	}
	return result
}

func (a *GoogleAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}
