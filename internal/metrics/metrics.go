// Package metrics holds the Prometheus collectors for the chat service.
//
// Collectors live on a private registry so tests can create independent
// instances. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinicchat"

// Metrics is the set of service collectors.
type Metrics struct {
	registry *prometheus.Registry

	asks        *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	inflight    prometheus.Gauge
	stops       prometheus.Counter
	uploads     *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		asks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "asks_total",
				Help:      "Chat questions handled, by outcome.",
			},
			[]string{"outcome"},
		),
		llmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Latency of language model calls.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"status"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "asks_in_flight",
			Help:      "Chat questions currently being processed.",
		}),
		stops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_requests_total",
			Help:      "Stop requests received.",
		}),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "File uploads, by result.",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.asks, m.llmDuration, m.inflight, m.stops, m.uploads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// AskStarted marks a question as in flight and returns the func that ends it.
func (m *Metrics) AskStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

// AskFinished counts a finished question.
func (m *Metrics) AskFinished(outcome string) {
	if m == nil {
		return
	}
	m.asks.WithLabelValues(outcome).Inc()
}

// ObserveLLM records one model call.
func (m *Metrics) ObserveLLM(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmDuration.WithLabelValues(status).Observe(d.Seconds())
}

// StopRequested counts a stop request.
func (m *Metrics) StopRequested() {
	if m == nil {
		return
	}
	m.stops.Inc()
}

// Upload counts an upload attempt.
func (m *Metrics) Upload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}
