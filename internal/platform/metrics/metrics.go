package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters, gauges and histograms for the transcoder.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	runsTotal       *prometheus.CounterVec
	renditionsTotal *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	activeJobs      prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_runs_total",
		Help: "Pipeline runs by terminal outcome",
	}, []string{"outcome"})
	renditionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_renditions_total",
		Help: "Rendition encode attempts by quality and result",
	}, []string{"quality", "result"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcode_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"stage"})
	activeJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transcode_active_jobs",
		Help: "Number of pipeline runs currently in progress",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		runsTotal,
		renditionsTotal,
		stageDuration,
		activeJobs,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		runsTotal:       runsTotal,
		renditionsTotal: renditionsTotal,
		stageDuration:   stageDuration,
		activeJobs:      activeJobs,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncRun records one finished run; outcome is "ready" or "failed".
func (m *Metrics) IncRun(outcome string) {
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// IncRendition records one encode attempt; result is "ok" or "failed".
func (m *Metrics) IncRendition(quality, result string) {
	m.renditionsTotal.WithLabelValues(quality, result).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// JobStarted increments the active jobs gauge.
func (m *Metrics) JobStarted() {
	m.activeJobs.Inc()
}

// JobFinished decrements the active jobs gauge.
func (m *Metrics) JobFinished() {
	m.activeJobs.Dec()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
