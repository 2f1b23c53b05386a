// Package metrics exposes relay counters and latencies in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ghostwriter"

// Metrics holds the relay collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	streams      *prometheus.CounterVec
	inFlight     *prometheus.GaugeVec
	fragments    *prometheus.CounterVec
	firstByte    *prometheus.HistogramVec
	duration     *prometheus.HistogramVec
	rejected     *prometheus.CounterVec
	loginResults *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_streams_total",
			Help:      "Completed relay sessions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_streams_in_flight",
			Help:      "Relay sessions currently streaming.",
		}, []string{"provider"}),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_fragments_total",
			Help:      "Fragments written to clients.",
		}, []string{"provider"}),
		firstByte: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_time_to_first_fragment_seconds",
			Help:      "Time from provider start to the first written fragment.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_stream_duration_seconds",
			Help:      "Total relay session duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Autocomplete requests rejected before reaching a provider.",
		}, []string{"reason"}),
		loginResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.streams, m.inFlight, m.fragments, m.firstByte, m.duration, m.rejected, m.loginResults,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StreamStarted marks a relay session as in flight.
func (m *Metrics) StreamStarted(provider string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(provider).Inc()
}

// StreamFinished records the end of a relay session started with
// StreamStarted. A zero ttff means no fragment was written.
func (m *Metrics) StreamFinished(provider, outcome string, fragments int, ttff, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(provider).Dec()
	m.streams.WithLabelValues(provider, outcome).Inc()
	m.fragments.WithLabelValues(provider).Add(float64(fragments))
	m.duration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
	if ttff > 0 {
		m.firstByte.WithLabelValues(provider).Observe(ttff.Seconds())
	}
}

// Rejected counts a request refused before provider dispatch.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

// Login counts a login attempt; result is "ok", "invalid" or "error".
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.loginResults.WithLabelValues(result).Inc()
}
