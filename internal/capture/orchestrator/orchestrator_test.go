package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/browser"
	"github.com/snapgate/engine/internal/capture/faults"
	"github.com/snapgate/engine/pkg/types"
)

var validPNG = append([]byte("\x89PNG\r\n\x1a\n"), []byte{
	0, 0, 0, 13, 'I', 'H', 'D', 'R',
	0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0,
}...)

type fakeSession struct {
	navigateErr error
	navigateFn  func(ctx context.Context) error
	awaitErr    error
	awaitFn     func(ctx context.Context) error
	captureErr  error
	surface     *browser.Surface
	closed      int32
	armed       bool
}

func (f *fakeSession) ArmInterception(ctx context.Context, blocked func(string) bool) error {
	f.armed = true
	return nil
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	if f.navigateFn != nil {
		return f.navigateFn(ctx)
	}
	return f.navigateErr
}

func (f *fakeSession) AwaitReady(ctx context.Context, wait types.WaitStrategy, budget, settle time.Duration) error {
	if f.awaitFn != nil {
		return f.awaitFn(ctx)
	}
	return f.awaitErr
}

func (f *fakeSession) Capture(ctx context.Context, fullPage bool) (*browser.Surface, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	if f.surface != nil {
		return f.surface, nil
	}
	return &browser.Surface{Data: validPNG, Width: 1280, Height: 800}, nil
}

func (f *fakeSession) Close() { atomic.AddInt32(&f.closed, 1) }

type fakeEngine struct {
	sessions   []*fakeSession
	sessionErr error
	next       int
}

func (f *fakeEngine) IsAlive() bool       { return true }
func (f *fakeEngine) Terminate() error    { return nil }
func (f *fakeEngine) Version() string     { return "fake/1.0" }
func (f *fakeEngine) ActiveSessions() int { return 0 }

func (f *fakeEngine) NewSession(ctx context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	if f.next >= len(f.sessions) {
		return nil, errors.New("no scripted session left")
	}
	s := f.sessions[f.next]
	f.next++
	return s, nil
}

type fakeProvider struct {
	engine      *fakeEngine
	acquireErr  error
	invalidated int32
}

func (f *fakeProvider) Acquire(ctx context.Context) (browser.Handle, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return f.engine, nil
}

func (f *fakeProvider) Invalidate(h browser.Handle) { atomic.AddInt32(&f.invalidated, 1) }

func testRequest() *types.CaptureRequest {
	req := &types.CaptureRequest{
		RequestID: "req-1",
		URL:       "https://example.com/page",
	}
	req.ApplyDefaults()
	req.Timeout = types.Duration(5 * time.Second)
	return req
}

func newTestOrchestrator(p Provider) *Orchestrator {
	cfg := Config{
		WaitBudget:  100 * time.Millisecond,
		SettleDelay: 0,
		Retry:       RetryPolicy{MaxAttempts: 3},
	}
	return New(p, func(string) bool { return false }, cfg, zap.NewNop())
}

func TestCaptureSuccess(t *testing.T) {
	session := &fakeSession{}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	surface, err := o.Capture(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1280, surface.Width)
	assert.True(t, session.armed)
	assert.Equal(t, int32(1), session.closed)
	assert.Equal(t, int32(0), provider.invalidated)
}

func TestCaptureSkipsInterceptionWhenAdBlockOff(t *testing.T) {
	session := &fakeSession{}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	req := testRequest()
	off := false
	req.AdBlock = &off

	_, err := o.Capture(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, session.armed)
}

func TestCaptureRetriesAfterEngineCrash(t *testing.T) {
	crashed := &fakeSession{navigateErr: errors.New("websocket: close 1006 (abnormal closure)")}
	healthy := &fakeSession{}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{crashed, healthy}}}
	o := newTestOrchestrator(provider)

	surface, err := o.Capture(context.Background(), testRequest())
	require.NoError(t, err)
	assert.NotNil(t, surface)
	assert.Equal(t, int32(1), provider.invalidated)
	assert.Equal(t, int32(1), crashed.closed)
	assert.Equal(t, int32(1), healthy.closed)
}

func TestCaptureExhaustsRetries(t *testing.T) {
	mk := func() *fakeSession {
		return &fakeSession{navigateErr: errors.New("target closed")}
	}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{mk(), mk(), mk()}}}
	o := newTestOrchestrator(provider)

	_, err := o.Capture(context.Background(), testRequest())
	require.Error(t, err)

	f := faults.As(err)
	require.NotNil(t, f)
	assert.Equal(t, faults.KindCapture, f.Kind)
	assert.Contains(t, f.Message, "example.com")

	// The final attempt is not followed by an invalidation.
	assert.Equal(t, int32(2), provider.invalidated)
}

func TestCaptureNavigationFailureNotRetried(t *testing.T) {
	session := &fakeSession{navigateErr: errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED")}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	_, err := o.Capture(context.Background(), testRequest())
	require.Error(t, err)

	f := faults.As(err)
	require.NotNil(t, f)
	assert.Equal(t, faults.KindCapture, f.Kind)
	assert.Contains(t, f.Message, "could not resolve host")
	assert.Contains(t, f.Message, "example.com")
	assert.Equal(t, int32(0), provider.invalidated)
}

func TestCaptureBadImageNotRetried(t *testing.T) {
	session := &fakeSession{captureErr: browser.ErrBadImage}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	_, err := o.Capture(context.Background(), testRequest())
	require.Error(t, err)

	f := faults.As(err)
	require.NotNil(t, f)
	assert.Equal(t, faults.KindCapture, f.Kind)
	assert.Contains(t, f.Message, "invalid screenshot")
	assert.Equal(t, int32(0), provider.invalidated)
}

func TestCaptureWaitBudgetOverrunIsNotFatal(t *testing.T) {
	session := &fakeSession{awaitErr: browser.ErrWaitTimeout}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	surface, err := o.Capture(context.Background(), testRequest())
	require.NoError(t, err)
	assert.NotNil(t, surface)
}

func TestCaptureWaitOutlivesRequestTimeout(t *testing.T) {
	session := &fakeSession{awaitFn: func(ctx context.Context) error {
		if _, bounded := ctx.Deadline(); bounded {
			return errors.New("readiness wait must not carry the request deadline")
		}
		time.Sleep(60 * time.Millisecond)
		return browser.ErrWaitTimeout
	}}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	req := testRequest()
	req.Timeout = types.Duration(20 * time.Millisecond)

	// The wait step runs well past the request timeout and the capture
	// still lands with whatever loaded.
	surface, err := o.Capture(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, surface)
}

func TestCaptureNavigationCarriesRequestDeadline(t *testing.T) {
	var bounded bool
	session := &fakeSession{navigateFn: func(ctx context.Context) error {
		_, bounded = ctx.Deadline()
		return nil
	}}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	_, err := o.Capture(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, bounded, "navigation should run under the request timeout")
}

func TestCaptureTimeout(t *testing.T) {
	session := &fakeSession{navigateFn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	provider := &fakeProvider{engine: &fakeEngine{sessions: []*fakeSession{session}}}
	o := newTestOrchestrator(provider)

	req := testRequest()
	req.Timeout = types.Duration(20 * time.Millisecond)

	_, err := o.Capture(context.Background(), req)
	require.Error(t, err)

	f := faults.As(err)
	require.NotNil(t, f)
	assert.Equal(t, faults.KindTimeout, f.Kind)
	assert.Equal(t, 504, f.Status())
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}

	assert.True(t, p.ShouldRetry(1, errors.New("rpc error: target closed")))
	assert.True(t, p.ShouldRetry(2, errors.New("browser has been closed")))
	assert.False(t, p.ShouldRetry(3, errors.New("target closed")), "last attempt never retries")
	assert.False(t, p.ShouldRetry(1, nil))
	assert.False(t, p.ShouldRetry(1, errors.New("net::ERR_CONNECTION_REFUSED")))
	assert.False(t, p.ShouldRetry(1, faults.New(faults.KindBlockedURL, "blocked")))
}
