package metrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/snapgate/engine/pkg/types"
)

// Capture outcome labels.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusTimeout  = "timeout"
	StatusBlocked  = "blocked"
	StatusRejected = "rejected"
)

// Collector centralizes metrics recording for the capture service. A nil
// *Collector is valid and records nothing, so wiring metrics stays optional.
type Collector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewCollector creates a Collector on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// UpdateActiveSessions sets the open session gauge.
func (c *Collector) UpdateActiveSessions(n int) {
	if c == nil {
		return
	}
	c.prometheus.UpdateActiveSessions(float64(n))
}

// RecordEngineRelaunch counts a rendering engine relaunch.
func (c *Collector) RecordEngineRelaunch() {
	if c == nil {
		return
	}
	c.prometheus.RecordEngineRelaunch()
}

// RecordCaptureSuccess records a successfully produced screenshot.
func (c *Collector) RecordCaptureSuccess(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.prometheus.RecordCapture(StatusSuccess)
	c.prometheus.RecordCaptureDuration(elapsed.Seconds())
}

// RecordCaptureFailure records a capture that ended in an error, labeled by
// the fault kind.
func (c *Collector) RecordCaptureFailure(kind string) {
	if c == nil {
		return
	}
	c.prometheus.RecordCapture(StatusFailed)
	c.prometheus.RecordError(kind)
}

// RecordCaptureTimeout records a capture that ran out of time.
func (c *Collector) RecordCaptureTimeout() {
	if c == nil {
		return
	}
	c.prometheus.RecordCapture(StatusTimeout)
}

// RecordCaptureRetry counts a capture attempt retried after a crash.
func (c *Collector) RecordCaptureRetry() {
	if c == nil {
		return
	}
	c.prometheus.RecordCaptureRetry()
}

// RecordCacheLookup records a cache hit or miss using the shared cache
// status values.
func (c *Collector) RecordCacheLookup(status string) {
	if c == nil {
		return
	}
	switch status {
	case types.CacheHit:
		c.prometheus.RecordCacheLookup("hit")
	case types.CacheMiss:
		c.prometheus.RecordCacheLookup("miss")
	}
}

// RecordRateLimited counts a request refused by the admission controller.
func (c *Collector) RecordRateLimited() {
	if c == nil {
		return
	}
	c.prometheus.RecordCapture(StatusRejected)
	c.prometheus.RecordRateLimited()
}

// RecordBlocked counts a request refused by target validation.
func (c *Collector) RecordBlocked() {
	if c == nil {
		return
	}
	c.prometheus.RecordCapture(StatusBlocked)
}

// RecordHTTPRequest records an HTTP request by endpoint and status code.
func (c *Collector) RecordHTTPRequest(endpoint, status string) {
	if c == nil {
		return
	}
	c.prometheus.RecordHTTPRequest(endpoint, status)
}

// ServeHTTP serves the Prometheus exposition endpoint.
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	if c == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	c.prometheus.ServeHTTP(ctx)
}
