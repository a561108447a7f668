package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream backend.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	streamsStartedTotal *prometheus.CounterVec
	streamsStoppedTotal prometheus.Counter
	restartsTotal       prometheus.Counter
	activeStreams       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the backend.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camstream_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camstream_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		streamsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_streams_started_total",
			Help: "Total number of streams started, by variant",
		}, []string{"variant"}),
		streamsStoppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camstream_streams_stopped_total",
			Help: "Total number of stream stop requests handled",
		}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camstream_transcoder_restarts_total",
			Help: "Total number of transcoder processes restarted by the watchdog",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_active_streams",
			Help: "Number of running transcoder processes",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.streamsStartedTotal,
		m.streamsStoppedTotal,
		m.restartsTotal,
		m.activeStreams,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncStreamsStarted counts a started stream of the given variant.
func (m *Metrics) IncStreamsStarted(variant string) {
	m.streamsStartedTotal.WithLabelValues(variant).Inc()
}

// IncStreamsStopped increments the streams stopped counter.
func (m *Metrics) IncStreamsStopped() {
	m.streamsStoppedTotal.Inc()
}

// IncRestarts increments the transcoder restart counter.
func (m *Metrics) IncRestarts() {
	m.restartsTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
