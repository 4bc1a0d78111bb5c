package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/admission"
	"github.com/snapgate/engine/internal/capture/faults"
	"github.com/snapgate/engine/internal/common/requestid"
	"github.com/snapgate/engine/pkg/types"
)

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ErrorResponse wraps an error payload with the request id.
type ErrorResponse struct {
	RequestID string    `json:"request_id,omitempty"`
	Error     ErrorBody `json:"error"`
}

// HealthResponse reports component health for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	EngineState   string `json:"engine_state"`
	EngineHealthy bool   `json:"engine_healthy"`
	Relaunches    int64  `json:"relaunches"`
	Redis         string `json:"redis"`
}

// StatsResponse reports service counters for GET /stats.
type StatsResponse struct {
	Cache       interface{} `json:"cache"`
	EngineState string      `json:"engine_state"`
	Relaunches  int64       `json:"relaunches"`
}

// handleCapture serves POST and GET /capture.
func (srv *Server) handleCapture(ctx *fasthttp.RequestCtx) {
	req, err := parseCaptureRequest(ctx)
	if err != nil {
		srv.writeFault(ctx, "", faults.New(faults.KindValidation, err.Error()), admission.Decision{})
		return
	}

	if req.RequestID == "" {
		req.RequestID = requestid.GenerateRequestID(string(ctx.Request.Header.Peek("X-Request-ID")))
	}

	clientKey := admission.ClientKey(ctx)

	result, decision, err := srv.service.Capture(ctx, clientKey, req)
	if err != nil {
		srv.writeFault(ctx, req.RequestID, faults.Classify(err), decision)
		return
	}

	setRateHeaders(ctx, decision)
	ctx.Response.Header.Set("X-Cache", result.CacheStatus)

	if ctx.QueryArgs().GetBool("raw") {
		payload, err := srv.service.Payload(result.Artifact.ID)
		if err != nil {
			srv.writeFault(ctx, req.RequestID, faults.Wrap(faults.KindInternal, "artifact payload unavailable", err), decision)
			return
		}
		ctx.Response.Header.Set("ETag", `"`+result.Artifact.Checksum+`"`)
		ctx.Response.Header.Set("X-Request-ID", result.RequestID)
		ctx.SetContentType("image/png")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(payload)
		srv.metrics.RecordHTTPRequest("/capture", "200")
		return
	}

	srv.writeJSON(ctx, fasthttp.StatusOK, "/capture", result)
}

// handleArtifact serves GET /artifacts/{id}.png with ETag revalidation.
func (srv *Server) handleArtifact(ctx *fasthttp.RequestCtx, path string) {
	name := strings.TrimPrefix(path, "/artifacts/")
	id := strings.TrimSuffix(name, ".png")
	if id == "" || id == name {
		srv.writeFault(ctx, "", faults.New(faults.KindNotFound, "artifact not found"), admission.Decision{})
		return
	}

	payload, err := srv.service.Payload(id)
	if err != nil {
		srv.writeFault(ctx, "", faults.New(faults.KindNotFound, "artifact not found"), admission.Decision{})
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(payload))
	ctx.Response.Header.Set("ETag", etag)
	ctx.Response.Header.Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d", int(srv.service.CacheTTL().Seconds())))

	if string(ctx.Request.Header.Peek("If-None-Match")) == etag {
		ctx.SetStatusCode(fasthttp.StatusNotModified)
		srv.metrics.RecordHTTPRequest("/artifacts", "304")
		return
	}

	ctx.SetContentType("image/png")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(payload)
	srv.metrics.RecordHTTPRequest("/artifacts", "200")
}

// handleHealth serves GET /health. The engine being not yet launched is
// healthy; an unreachable Redis is not.
func (srv *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	resp := HealthResponse{
		Status:        "ok",
		EngineState:   srv.manager.State().String(),
		EngineHealthy: srv.manager.IsHealthy(),
		Relaunches:    srv.manager.Relaunches(),
		Redis:         "ok",
	}

	status := fasthttp.StatusOK
	if err := srv.redis.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		resp.Redis = err.Error()
		status = fasthttp.StatusServiceUnavailable
	}

	srv.writeJSON(ctx, status, "/health", resp)
}

// handleStats serves GET /stats.
func (srv *Server) handleStats(ctx *fasthttp.RequestCtx) {
	stats, err := srv.service.CacheStats(ctx)
	if err != nil {
		srv.writeFault(ctx, "", faults.Wrap(faults.KindInternal, "failed to collect cache stats", err), admission.Decision{})
		return
	}

	srv.writeJSON(ctx, fasthttp.StatusOK, "/stats", StatsResponse{
		Cache:       stats,
		EngineState: srv.manager.State().String(),
		Relaunches:  srv.manager.Relaunches(),
	})
}

// parseCaptureRequest decodes a capture request from the JSON body (POST) or
// query parameters (GET).
func parseCaptureRequest(ctx *fasthttp.RequestCtx) (*types.CaptureRequest, error) {
	if ctx.IsPost() {
		req := &types.CaptureRequest{}
		if len(ctx.PostBody()) == 0 {
			return nil, fmt.Errorf("request body is required")
		}
		if err := json.Unmarshal(ctx.PostBody(), req); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %v", err)
		}
		return req, nil
	}

	args := ctx.QueryArgs()
	req := &types.CaptureRequest{
		URL:        string(args.Peek("url")),
		Appearance: types.Appearance(args.Peek("appearance")),
		Device:     types.Device(args.Peek("device")),
		WaitFor:    types.WaitStrategy(args.Peek("wait_for")),
		FullPage:   args.GetBool("full_page"),
	}

	var err error
	if req.Width, err = intArg(args, "width"); err != nil {
		return nil, err
	}
	if req.Height, err = intArg(args, "height"); err != nil {
		return nil, err
	}

	if v := args.Peek("ad_block"); len(v) > 0 {
		enabled, err := strconv.ParseBool(string(v))
		if err != nil {
			return nil, fmt.Errorf("invalid ad_block value %q", v)
		}
		req.AdBlock = &enabled
	}

	if v := args.Peek("timeout"); len(v) > 0 {
		ms, err := strconv.Atoi(string(v))
		if err != nil {
			return nil, fmt.Errorf("invalid timeout value %q", v)
		}
		req.Timeout = types.Duration(time.Duration(ms) * time.Millisecond)
	}

	return req, nil
}

func intArg(args *fasthttp.Args, name string) (int, error) {
	v := args.Peek(name)
	if len(v) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", name, v)
	}
	return n, nil
}

// setRateHeaders attaches admission state to the response. A zero decision
// (limit 0) means admission was never consulted and emits nothing.
func setRateHeaders(ctx *fasthttp.RequestCtx, d admission.Decision) {
	if d.Limit == 0 {
		return
	}
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAfter.Milliseconds(), 10))
}

// writeFault renders a classified failure as JSON with the matching HTTP
// status and rate headers.
func (srv *Server) writeFault(ctx *fasthttp.RequestCtx, requestID string, fault *faults.Fault, decision admission.Decision) {
	setRateHeaders(ctx, decision)
	if fault.Kind == faults.KindRateLimited && fault.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(fault.RetryAfter))
	}

	resp := ErrorResponse{
		RequestID: requestID,
		Error: ErrorBody{
			Kind:       string(fault.Kind),
			Message:    fault.Message,
			RetryAfter: fault.RetryAfter,
		},
	}

	srv.writeJSON(ctx, fault.Status(), string(ctx.Path()), resp)

	if fault.Kind == faults.KindInternal || fault.Kind == faults.KindCapture {
		srv.logger.Error("Request failed",
			zap.String("request_id", requestID),
			zap.String("kind", string(fault.Kind)),
			zap.String("message", fault.Message),
			zap.Error(fault.Unwrap()))
	}
}

// writeJSON marshals a response body and records the HTTP metric.
func (srv *Server) writeJSON(ctx *fasthttp.RequestCtx, statusCode int, endpoint string, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":{"kind":"internal_error","message":"failed to marshal response"}}`)
		srv.metrics.RecordHTTPRequest(endpoint, "500")
		srv.logger.Error("Failed to marshal JSON response",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
	srv.metrics.RecordHTTPRequest(endpoint, strconv.Itoa(statusCode))
}
