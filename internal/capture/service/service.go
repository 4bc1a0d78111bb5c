// Package service composes validation, admission, caching and orchestration
// into the capture pipeline behind the HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/admission"
	"github.com/snapgate/engine/internal/capture/browser"
	"github.com/snapgate/engine/internal/capture/cache"
	"github.com/snapgate/engine/internal/capture/faults"
	"github.com/snapgate/engine/internal/capture/fingerprint"
	"github.com/snapgate/engine/internal/capture/metrics"
	"github.com/snapgate/engine/internal/common/urlutil"
	"github.com/snapgate/engine/pkg/types"
)

// Capturer produces a screenshot for a validated request. Implemented by
// orchestrator.Orchestrator; faked in tests.
type Capturer interface {
	Capture(ctx context.Context, req *types.CaptureRequest) (*browser.Surface, error)
}

// Service runs the capture pipeline: validate, admit, consult the cache,
// orchestrate a render on miss, persist the artifact.
type Service struct {
	validator *urlutil.Validator
	limiter   *admission.Limiter
	store     *cache.Store
	artifacts *cache.ArtifactStore
	capturer  Capturer
	metrics   *metrics.Collector

	publicBaseURL string
	logger        *zap.Logger
}

// NewService wires the capture pipeline together.
func NewService(
	validator *urlutil.Validator,
	limiter *admission.Limiter,
	store *cache.Store,
	artifacts *cache.ArtifactStore,
	capturer Capturer,
	collector *metrics.Collector,
	publicBaseURL string,
	logger *zap.Logger,
) *Service {
	return &Service{
		validator:     validator,
		limiter:       limiter,
		store:         store,
		artifacts:     artifacts,
		capturer:      capturer,
		metrics:       collector,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
	}
}

// Capture serves one request end to end. The returned Decision always holds
// the client's current admission state, including on errors, so callers can
// surface rate headers on every response.
func (s *Service) Capture(ctx context.Context, clientKey string, req *types.CaptureRequest) (*types.CaptureResult, admission.Decision, error) {
	req.ApplyDefaults()
	req.ClampTimeout()

	if err := req.Validate(); err != nil {
		return nil, s.limiter.Status(clientKey), faults.New(faults.KindValidation, err.Error())
	}

	normalized, err := s.validator.Validate(ctx, req.URL)
	if err != nil {
		var blocked *urlutil.ErrBlockedTarget
		if errors.As(err, &blocked) {
			s.metrics.RecordBlocked()
			return nil, s.limiter.Status(clientKey), faults.New(faults.KindBlockedURL, blocked.Reason)
		}
		return nil, s.limiter.Status(clientKey), faults.New(faults.KindInvalidURL, err.Error())
	}
	req.URL = normalized

	decision := s.limiter.Check(clientKey)
	if !decision.Allowed {
		s.metrics.RecordRateLimited()
		s.logger.Warn("Request rate limited",
			zap.String("request_id", req.RequestID),
			zap.String("client", clientKey),
			zap.Int("retry_after", decision.RetryAfter))
		return nil, decision, faults.RateLimited(decision.RetryAfter)
	}

	fp := fingerprint.Derive(req)

	if artifact := s.cachedArtifact(ctx, fp, req.RequestID); artifact != nil {
		s.metrics.RecordCacheLookup(types.CacheHit)
		s.logger.Info("Cache hit",
			zap.String("request_id", req.RequestID),
			zap.String("fingerprint", fp),
			zap.String("artifact_id", artifact.ID))
		return s.result(req.RequestID, types.CacheHit, artifact, decision), decision, nil
	}
	s.metrics.RecordCacheLookup(types.CacheMiss)

	started := time.Now().UTC()
	surface, err := s.capturer.Capture(ctx, req)
	if err != nil {
		fault := faults.Classify(err)
		if fault.Kind == faults.KindTimeout {
			s.metrics.RecordCaptureTimeout()
		} else {
			s.metrics.RecordCaptureFailure(string(fault.Kind))
		}
		return nil, decision, fault
	}
	elapsed := time.Since(started)

	artifact, err := s.persist(ctx, fp, req, surface)
	if err != nil {
		s.metrics.RecordCaptureFailure(string(faults.KindInternal))
		return nil, decision, faults.Wrap(faults.KindInternal, "failed to store capture result", err)
	}

	s.metrics.RecordCaptureSuccess(elapsed)
	s.logger.Info("Capture completed",
		zap.String("request_id", req.RequestID),
		zap.String("url", req.URL),
		zap.String("fingerprint", fp),
		zap.String("artifact_id", artifact.ID),
		zap.Int64("bytes", artifact.Size),
		zap.Duration("elapsed", elapsed))

	return s.result(req.RequestID, types.CacheMiss, artifact, decision), decision, nil
}

// cachedArtifact returns a fresh cached artifact whose payload file still
// exists. Metadata without a payload is dropped so the next request
// re-renders instead of 404ing.
func (s *Service) cachedArtifact(ctx context.Context, fp, requestID string) *types.Artifact {
	artifact, err := s.store.Get(ctx, fp)
	if err != nil {
		s.logger.Warn("Cache lookup failed",
			zap.String("request_id", requestID),
			zap.String("fingerprint", fp),
			zap.Error(err))
		return nil
	}
	if artifact == nil {
		return nil
	}

	if !s.artifacts.Exists(artifact.ID) {
		s.logger.Warn("Cached metadata has no payload file, dropping entry",
			zap.String("fingerprint", fp),
			zap.String("artifact_id", artifact.ID))
		if err := s.store.Delete(ctx, fp); err != nil {
			s.logger.Warn("Failed to drop stale cache entry",
				zap.String("fingerprint", fp),
				zap.Error(err))
		}
		return nil
	}
	return artifact
}

// persist writes the rendered payload and its metadata. A metadata write
// failure is non-fatal: the response is still served and the orphaned file
// is aged out by the sweeper.
func (s *Service) persist(ctx context.Context, fp string, req *types.CaptureRequest, surface *browser.Surface) (*types.Artifact, error) {
	id := fingerprint.NewArtifactID()

	if _, err := s.artifacts.Write(id, surface.Data); err != nil {
		return nil, fmt.Errorf("write artifact payload: %w", err)
	}

	now := time.Now().UTC()
	artifact := &types.Artifact{
		ID:        id,
		URL:       req.URL,
		Width:     surface.Width,
		Height:    surface.Height,
		FullPage:  req.FullPage,
		Size:      int64(len(surface.Data)),
		Checksum:  fmt.Sprintf("%016x", xxhash.Sum64(surface.Data)),
		CreatedAt: now,
		ExpiresAt: now.Add(s.store.TTL()),
	}

	if err := s.store.Put(ctx, fp, artifact); err != nil {
		s.logger.Warn("Failed to cache artifact metadata",
			zap.String("request_id", req.RequestID),
			zap.String("fingerprint", fp),
			zap.String("artifact_id", id),
			zap.Error(err))
	}
	return artifact, nil
}

// Payload returns the stored image bytes for an artifact.
func (s *Service) Payload(id string) ([]byte, error) {
	return s.artifacts.Read(id)
}

// RateStatus reports a client's current admission state without consuming
// an attempt.
func (s *Service) RateStatus(clientKey string) admission.Decision {
	return s.limiter.Status(clientKey)
}

// CacheTTL exposes the configured artifact lifetime, used for response
// cache headers.
func (s *Service) CacheTTL() time.Duration {
	return s.store.TTL()
}

// CacheStats returns cache-wide entry counts and sizes.
func (s *Service) CacheStats(ctx context.Context) (*cache.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) result(requestID, cacheStatus string, artifact *types.Artifact, decision admission.Decision) *types.CaptureResult {
	return &types.CaptureResult{
		RequestID:   requestID,
		CacheStatus: cacheStatus,
		Artifact:    artifact,
		ArtifactURL: s.publicBaseURL + "/artifacts/" + artifact.FileName(),
		Rate:        rateStatus(decision),
	}
}

// rateStatus converts an admission decision into response metadata.
func rateStatus(d admission.Decision) types.RateStatus {
	return types.RateStatus{
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		ResetMs:    d.ResetAfter.Milliseconds(),
		RetryAfter: d.RetryAfter,
	}
}
