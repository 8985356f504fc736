// Package metrics provides Prometheus metrics for the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whisperbridge"

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Session metrics
	SessionsTotal  prometheus.Counter
	SessionsActive prometheus.Gauge

	// Audio metrics
	SamplesReceived prometheus.Counter
	ChunksReceived  prometheus.Counter
	SamplesEvicted  prometheus.Counter
	BufferedSamples prometheus.Gauge

	// Inference metrics
	InferenceTotal   *prometheus.CounterVec
	InferenceLatency *prometheus.HistogramVec
	InferenceSkipped prometheus.Counter

	// Protocol metrics
	EventsEmitted *prometheus.CounterVec
	InputErrors   *prometheus.CounterVec

	// Kafka mirror metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions started",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently running sessions",
		}),

		SamplesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_received_total",
			Help:      "Total audio samples appended to session buffers",
		}),
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total audio chunks accepted",
		}),
		SamplesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_evicted_total",
			Help:      "Samples dropped from the head of a buffer at the retention ceiling",
		}),
		BufferedSamples: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_buffered_samples",
			Help:      "Samples held by the most recently updated session buffer",
		}),

		InferenceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_total",
			Help:      "Inference calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		InferenceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_seconds",
			Help:      "Latency of blocking inference calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		InferenceSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_skipped_total",
			Help:      "Triggers that fired below the minimum buffered audio",
		}),

		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Protocol events written, by type",
		}, []string{"type"}),
		InputErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_errors_total",
			Help:      "Recoverable input failures, by error code",
		}, []string{"code"}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordInference records one inference call.
func (m *Metrics) RecordInference(provider string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.InferenceTotal.WithLabelValues(provider, outcome).Inc()
	m.InferenceLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, seconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(seconds)
}
