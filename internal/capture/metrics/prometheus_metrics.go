package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics holds the raw Prometheus instruments for the capture
// service.
type PrometheusMetrics struct {
	// Rendering engine metrics
	activeSessions   prometheus.Gauge
	engineRelaunches prometheus.Counter

	// Capture metrics
	capturesTotal   *prometheus.CounterVec
	captureDuration prometheus.Histogram
	captureRetries  prometheus.Counter

	// Cache metrics
	cacheLookups *prometheus.CounterVec

	// Admission metrics
	rateLimited prometheus.Counter

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a Prometheus-based metrics collector on the
// default registry.
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a Prometheus-based metrics
// collector with a custom registry, used by tests to avoid duplicate
// registration.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "active_sessions",
		Help:      "Number of rendering sessions currently open",
	})

	pm.engineRelaunches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "relaunches_total",
		Help:      "Times the rendering engine was relaunched after a crash",
	})

	pm.capturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "Total capture requests by outcome",
	}, []string{"status"}) // status: success, failed, timeout, blocked, rejected

	pm.captureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capture_duration_seconds",
		Help:      "Time spent producing screenshots",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
	})

	pm.captureRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_retries_total",
		Help:      "Capture attempts retried after an engine crash",
	})

	pm.cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by result",
	}, []string{"result"}) // result: hit, miss

	pm.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests refused by the admission controller",
	})

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Total errors by kind",
	}, []string{"kind"})

	registerer.MustRegister(
		pm.activeSessions,
		pm.engineRelaunches,
		pm.capturesTotal,
		pm.captureDuration,
		pm.captureRetries,
		pm.cacheLookups,
		pm.rateLimited,
		pm.httpRequests,
		pm.errorsTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Capture service Prometheus metrics initialized")
	return pm
}

// UpdateActiveSessions sets the open session gauge.
func (pm *PrometheusMetrics) UpdateActiveSessions(n float64) {
	pm.activeSessions.Set(n)
}

// RecordEngineRelaunch counts an engine relaunch.
func (pm *PrometheusMetrics) RecordEngineRelaunch() {
	pm.engineRelaunches.Inc()
}

// RecordCapture records a capture outcome.
func (pm *PrometheusMetrics) RecordCapture(status string) {
	pm.capturesTotal.WithLabelValues(status).Inc()
}

// RecordCaptureDuration records how long a capture took.
func (pm *PrometheusMetrics) RecordCaptureDuration(seconds float64) {
	pm.captureDuration.Observe(seconds)
}

// RecordCaptureRetry counts a retried capture attempt.
func (pm *PrometheusMetrics) RecordCaptureRetry() {
	pm.captureRetries.Inc()
}

// RecordCacheLookup records a cache lookup result.
func (pm *PrometheusMetrics) RecordCacheLookup(result string) {
	pm.cacheLookups.WithLabelValues(result).Inc()
}

// RecordRateLimited counts an admission refusal.
func (pm *PrometheusMetrics) RecordRateLimited() {
	pm.rateLimited.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordError records an error by kind.
func (pm *PrometheusMetrics) RecordError(kind string) {
	pm.errorsTotal.WithLabelValues(kind).Inc()
}

// ServeHTTP serves the Prometheus exposition endpoint.
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
