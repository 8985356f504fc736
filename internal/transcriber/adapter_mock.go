package transcriber

import (
	"context"
	"sync"

	"github.com/leonardotrapani/whisperbridge/internal/audio"
)

// MockAdapter replays a fixed script, one line per inference pass, without
// any model. The last line repeats once the script is exhausted. Each line is
// returned as a single speech segment spanning the analyzed audio.
type MockAdapter struct {
	mu     sync.Mutex
	script []string
	next   int
	calls  int
}

func NewMockAdapter(script []string) *MockAdapter {
	return &MockAdapter{script: script}
}

func (m *MockAdapter) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.script) == 0 || len(samples) == 0 {
		return Result{}, nil
	}

	text := m.script[m.next]
	if m.next < len(m.script)-1 {
		m.next++
	}

	return Result{
		Segments: []Segment{{
			Text: " " + text,
			End:  audio.Duration(len(samples), opts.SampleRate).Seconds(),
		}},
		Language:            opts.Language,
		LanguageProbability: 1,
	}, nil
}

// Calls returns how many passes were requested.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
