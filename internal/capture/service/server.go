package service

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/browser"
	"github.com/snapgate/engine/internal/capture/metrics"
	"github.com/snapgate/engine/internal/common/redis"
)

// Server routes HTTP requests to the capture pipeline and health surfaces.
type Server struct {
	service *Service
	manager *browser.Manager
	redis   *redis.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewServer creates the HTTP routing layer.
func NewServer(svc *Service, manager *browser.Manager, redisClient *redis.Client, collector *metrics.Collector, logger *zap.Logger) *Server {
	return &Server{
		service: svc,
		manager: manager,
		redis:   redisClient,
		metrics: collector,
		logger:  logger,
	}
}

// Handler returns the fasthttp request handler with all routes.
func (srv *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/capture" && (method == fasthttp.MethodPost || method == fasthttp.MethodGet):
			srv.handleCapture(ctx)
		case strings.HasPrefix(path, "/artifacts/") && method == fasthttp.MethodGet:
			srv.handleArtifact(ctx, path)
		case path == "/health" && method == fasthttp.MethodGet:
			srv.handleHealth(ctx)
		case path == "/stats" && method == fasthttp.MethodGet:
			srv.handleStats(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			srv.metrics.RecordHTTPRequest(path, "404")
		}
	}
}

// NewHTTPServer builds the fasthttp server around the router. The write
// timeout leaves headroom over the longest allowed capture.
func (srv *Server) NewHTTPServer(requestTimeout time.Duration) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            srv.Handler(),
		Name:               "SnapGate",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       requestTimeout,
		MaxRequestBodySize: 64 * 1024,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: 30 * time.Second,
		Concurrency:        fasthttp.DefaultConcurrency,
	}
}
