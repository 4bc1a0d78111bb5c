package metricsserver

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/common/config"
)

// MetricsHandler serves the metrics exposition endpoint.
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Start runs the metrics HTTP server on its own port. Returns nil when
// metrics are disabled.
func Start(cfg config.MetricsConfig, handler MetricsHandler, logger *zap.Logger) *fasthttp.Server {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil
	}

	server := &fasthttp.Server{
		Handler:            routeHandler(cfg.Path, handler),
		Name:               "SnapGate-Metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: 30 * time.Second,
		MaxConnsPerIP:      100,
		MaxRequestsPerConn: 1000,
		Concurrency:        100,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", cfg.Listen),
			zap.String("path", cfg.Path))

		if err := server.ListenAndServe(cfg.Listen); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", cfg.Listen),
				zap.Error(err))
		}
	}()

	return server
}

// routeHandler serves the exposition path and 404s everything else.
func routeHandler(path string, handler MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == path {
			handler.ServeHTTP(ctx)
			return
		}

		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
