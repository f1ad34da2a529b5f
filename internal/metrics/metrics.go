// Package metrics exposes Prometheus collectors for the request
// pipeline. Collectors are registered against an injected registry so
// tests can use an isolated one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	GenerateDuration prometheus.Histogram
	QueueDepth       prometheus.Gauge
	TitlesTotal      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptd",
			Name:      "requests_total",
			Help:      "LLM requests by terminal status.",
		}, []string{"status", "provider"}),
		GenerateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "promptd",
			Name:      "generate_duration_seconds",
			Help:      "Wall time of provider generation calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "promptd",
			Name:      "queue_depth",
			Help:      "Requests currently waiting in the queue.",
		}),
		TitlesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptd",
			Name:      "title_generations_total",
			Help:      "Title generation passes by outcome.",
		}, []string{"status"}),
	}
}

// ObserveRequest records a finished request.
func (m *Metrics) ObserveRequest(status, providerType string, seconds float64) {
	m.RequestsTotal.WithLabelValues(status, providerType).Inc()
	if seconds > 0 {
		m.GenerateDuration.Observe(seconds)
	}
}

// ObserveTitle records a title generation outcome.
func (m *Metrics) ObserveTitle(status string) {
	m.TitlesTotal.WithLabelValues(status).Inc()
}
