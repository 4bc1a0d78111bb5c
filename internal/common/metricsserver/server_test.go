package metricsserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/common/config"
)

type mockMetricsHandler struct {
	called bool
}

func (m *mockMetricsHandler) ServeHTTP(ctx *fasthttp.RequestCtx) {
	m.called = true
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("# TYPE snapgate_captures_total counter\nsnapgate_captures_total 7\n")
}

func TestStartDisabled(t *testing.T) {
	handler := &mockMetricsHandler{}

	server := Start(config.MetricsConfig{Enabled: false}, handler, zap.NewNop())

	assert.Nil(t, server)
	assert.False(t, handler.called)
}

func TestStartServesMetrics(t *testing.T) {
	handler := &mockMetricsHandler{}
	cfg := config.MetricsConfig{Enabled: true, Listen: ":19091", Path: "/metrics"}

	server := Start(cfg, handler, zap.NewNop())
	require.NotNil(t, server)

	time.Sleep(200 * time.Millisecond)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.ShutdownWithContext(ctx)
	}()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://localhost:19091/metrics")
	req.Header.SetMethod("GET")
	req.Header.SetConnectionClose()

	client := &fasthttp.Client{MaxIdleConnDuration: 0}
	require.NoError(t, client.Do(req, resp))

	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.True(t, handler.called)
	assert.Contains(t, string(resp.Body()), "snapgate_captures_total 7")

	time.Sleep(100 * time.Millisecond)
}

func TestRouteHandlerPathMatching(t *testing.T) {
	mock := &mockMetricsHandler{}
	handler := routeHandler("/metrics", mock)

	t.Run("exposition path", func(t *testing.T) {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.SetRequestURI("/metrics")

		handler(ctx)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.True(t, mock.called)
	})

	for _, path := range []string{"/", "/capture", "/health", "/metric", "/metrics/detailed"} {
		t.Run(path, func(t *testing.T) {
			mock.called = false
			ctx := &fasthttp.RequestCtx{}
			ctx.Request.SetRequestURI(path)

			handler(ctx)

			assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
			assert.False(t, mock.called)
		})
	}
}

func TestStartGracefulShutdown(t *testing.T) {
	handler := &mockMetricsHandler{}
	cfg := config.MetricsConfig{Enabled: true, Listen: ":19092", Path: "/metrics"}

	server := Start(cfg, handler, zap.NewNop())
	require.NotNil(t, server)

	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.ShutdownWithContext(ctx))

	time.Sleep(100 * time.Millisecond)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://localhost:19092/metrics")
	req.Header.SetConnectionClose()

	client := &fasthttp.Client{MaxIdleConnDuration: 0}
	assert.Error(t, client.Do(req, resp), "connections must fail after shutdown")
}
