package service

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/admission"
	"github.com/snapgate/engine/internal/capture/browser"
	"github.com/snapgate/engine/internal/capture/cache"
	"github.com/snapgate/engine/internal/capture/faults"
	"github.com/snapgate/engine/internal/common/config"
	"github.com/snapgate/engine/internal/common/redis"
	"github.com/snapgate/engine/internal/common/urlutil"
	"github.com/snapgate/engine/pkg/types"
)

var testPNG = append([]byte("\x89PNG\r\n\x1a\n"), []byte("payload-bytes")...)

type fakeCapturer struct {
	surface *browser.Surface
	err     error
	calls   int
}

func (f *fakeCapturer) Capture(ctx context.Context, req *types.CaptureRequest) (*browser.Surface, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.surface, nil
}

type testEnv struct {
	service  *Service
	capturer *fakeCapturer
	store    *cache.Store
	limiter  *admission.Limiter
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := cache.NewStore(client, time.Hour, time.Minute, zap.NewNop())

	artifacts, err := cache.NewArtifactStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	limiter := admission.NewLimiter(rateLimit, time.Minute)

	capturer := &fakeCapturer{
		surface: &browser.Surface{Data: testPNG, Width: 1280, Height: 800},
	}

	validator := urlutil.NewValidatorWithLookup(publicLookup)

	svc := NewService(validator, limiter, store, artifacts, capturer, nil,
		"https://shots.example.com", zap.NewNop())

	return &testEnv{service: svc, capturer: capturer, store: store, limiter: limiter}
}

func publicLookup(ctx context.Context, host string) ([]net.IP, error) {
	return []net.IP{net.ParseIP("93.184.216.34")}, nil
}

func captureRequest() *types.CaptureRequest {
	return &types.CaptureRequest{
		RequestID: "req-1",
		URL:       "https://example.com/page",
	}
}

func TestCaptureMissThenHit(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	first, decision, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, types.CacheMiss, first.CacheStatus)
	require.NotNil(t, first.Artifact)
	assert.Equal(t, int64(len(testPNG)), first.Artifact.Size)
	assert.Equal(t, 1280, first.Artifact.Width)
	assert.NotEmpty(t, first.Artifact.Checksum)
	assert.Contains(t, first.ArtifactURL, "https://shots.example.com/artifacts/")
	assert.Contains(t, first.ArtifactURL, first.Artifact.ID)
	assert.Equal(t, 1, env.capturer.calls)

	second, _, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.NoError(t, err)
	assert.Equal(t, types.CacheHit, second.CacheStatus)
	assert.Equal(t, first.Artifact.ID, second.Artifact.ID)
	assert.Equal(t, 1, env.capturer.calls, "cache hit must not re-render")

	payload, err := env.service.Payload(first.Artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, testPNG, payload)
}

func TestCaptureDifferentOptionsMiss(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	_, _, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.NoError(t, err)

	darkReq := captureRequest()
	darkReq.Appearance = types.AppearanceDark
	result, _, err := env.service.Capture(ctx, "client-a", darkReq)
	require.NoError(t, err)

	assert.Equal(t, types.CacheMiss, result.CacheStatus)
	assert.Equal(t, 2, env.capturer.calls)
}

func TestCaptureValidationFault(t *testing.T) {
	env := newTestEnv(t, 10)

	req := captureRequest()
	req.Device = "fridge"

	_, _, err := env.service.Capture(context.Background(), "client-a", req)
	require.Error(t, err)

	fault := faults.As(err)
	require.NotNil(t, fault)
	assert.Equal(t, faults.KindValidation, fault.Kind)
	assert.Equal(t, 0, env.capturer.calls)
}

func TestCaptureInvalidURLFault(t *testing.T) {
	env := newTestEnv(t, 10)

	req := captureRequest()
	req.URL = "ftp://example.com/file"

	_, _, err := env.service.Capture(context.Background(), "client-a", req)
	require.Error(t, err)

	fault := faults.As(err)
	require.NotNil(t, fault)
	assert.Equal(t, faults.KindInvalidURL, fault.Kind)
}

func TestCaptureBlockedURLFault(t *testing.T) {
	env := newTestEnv(t, 10)

	req := captureRequest()
	req.URL = "http://169.254.169.254/latest/meta-data/"

	_, _, err := env.service.Capture(context.Background(), "client-a", req)
	require.Error(t, err)

	fault := faults.As(err)
	require.NotNil(t, fault)
	assert.Equal(t, faults.KindBlockedURL, fault.Kind)
	assert.Equal(t, 403, fault.Status())
	assert.Equal(t, 0, env.capturer.calls)
}

func TestCaptureRateLimited(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	_, _, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.NoError(t, err)

	_, decision, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.Error(t, err)
	assert.False(t, decision.Allowed)

	fault := faults.As(err)
	require.NotNil(t, fault)
	assert.Equal(t, faults.KindRateLimited, fault.Kind)
	assert.Positive(t, fault.RetryAfter)
	assert.Equal(t, 1, env.capturer.calls, "denied request must not render")

	// Another client is unaffected.
	_, _, err = env.service.Capture(ctx, "client-b", captureRequest())
	require.NoError(t, err)
}

func TestCaptureEngineFaultPassesThrough(t *testing.T) {
	env := newTestEnv(t, 10)
	env.capturer.err = faults.New(faults.KindCapture, "rendering engine failed for example.com")

	_, _, err := env.service.Capture(context.Background(), "client-a", captureRequest())
	require.Error(t, err)

	fault := faults.As(err)
	require.NotNil(t, fault)
	assert.Equal(t, faults.KindCapture, fault.Kind)
	assert.Equal(t, 502, fault.Status())
}

func TestCaptureRawErrorClassified(t *testing.T) {
	env := newTestEnv(t, 10)
	env.capturer.err = errors.New("something unexpected")

	_, _, err := env.service.Capture(context.Background(), "client-a", captureRequest())
	require.Error(t, err)

	fault := faults.As(err)
	require.NotNil(t, fault)
	assert.Equal(t, faults.KindInternal, fault.Kind)
}

func TestCaptureDropsMetadataWithoutPayload(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	first, _, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.NoError(t, err)

	// Simulate the payload file disappearing underneath the metadata.
	require.NoError(t, env.service.artifacts.Delete(first.Artifact.ID))

	second, _, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.NoError(t, err)
	assert.Equal(t, types.CacheMiss, second.CacheStatus)
	assert.NotEqual(t, first.Artifact.ID, second.Artifact.ID)
	assert.Equal(t, 2, env.capturer.calls)
}

func TestCaptureNormalizesURLBeforeFingerprint(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()

	_, _, err := env.service.Capture(ctx, "client-a", captureRequest())
	require.NoError(t, err)

	shouty := captureRequest()
	shouty.URL = "HTTPS://EXAMPLE.com/page"
	result, _, err := env.service.Capture(ctx, "client-a", shouty)
	require.NoError(t, err)

	assert.Equal(t, types.CacheHit, result.CacheStatus, "case differences in scheme and host must not defeat the cache")
}
