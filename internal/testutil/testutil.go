// Package testutil holds fakes and helpers shared by package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leonardotrapani/whisperbridge/internal/metrics"
	"github.com/leonardotrapani/whisperbridge/internal/protocol"
	"github.com/leonardotrapani/whisperbridge/internal/transcriber"
)

// CreateTempConfigFile creates a temporary config file for testing
func CreateTempConfigFile(t *testing.T, name, configContent string) string {
	t.Helper()

	if name == "" {
		name = "config.toml"
	}
	configPath := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return configPath
}

// TestMetrics returns metrics on a private registry so tests never collide
// on the default one.
func TestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

// AudioLine returns an audio command line, newline included, carrying n
// samples of low constant signal.
func AudioLine(t *testing.T, n int) string {
	t.Helper()
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.01
	}
	line, err := protocol.EncodeAudio(samples)
	if err != nil {
		t.Fatalf("EncodeAudio: %v", err)
	}
	return string(line) + "\n"
}

// CommandLine returns a bare command line such as flush or stop.
func CommandLine(t *testing.T, msgType string) string {
	t.Helper()
	line, err := protocol.EncodeCommand(msgType)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	return string(line) + "\n"
}

// Call records one Transcribe invocation.
type Call struct {
	Samples int
	Options transcriber.Options
}

// MockTranscriber returns scripted results in order, repeating the last one.
// A non-nil entry in Errors fails the matching call instead.
type MockTranscriber struct {
	mu      sync.Mutex
	Results []transcriber.Result
	Errors  []error
	LoadErr error
	calls   []Call
}

// NewMockTranscriber scripts one single-segment result per text.
func NewMockTranscriber(texts ...string) *MockTranscriber {
	m := &MockTranscriber{}
	for _, text := range texts {
		m.Results = append(m.Results, transcriber.Result{
			Segments:            []transcriber.Segment{{Text: " " + text, End: 1}},
			LanguageProbability: 1,
		})
	}
	return m
}

func (m *MockTranscriber) Load(ctx context.Context) error {
	return m.LoadErr
}

func (m *MockTranscriber) Transcribe(ctx context.Context, samples []float32, opts transcriber.Options) (transcriber.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.calls)
	m.calls = append(m.calls, Call{Samples: len(samples), Options: opts})

	if i < len(m.Errors) && m.Errors[i] != nil {
		return transcriber.Result{}, m.Errors[i]
	}
	if len(m.Results) == 0 {
		return transcriber.Result{}, nil
	}
	return m.Results[min(i, len(m.Results)-1)], nil
}

// Calls returns the recorded invocations.
func (m *MockTranscriber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Condition not met within %v", timeout)
		default:
			if condition() {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
