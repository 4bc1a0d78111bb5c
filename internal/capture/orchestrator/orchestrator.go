// Package orchestrator drives a capture end to end: acquire the shared
// engine, open an isolated session, navigate, wait, screenshot. Crashed
// engines are discarded and the attempt is replayed on a fresh one.
package orchestrator

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/browser"
	"github.com/snapgate/engine/internal/capture/faults"
	"github.com/snapgate/engine/pkg/types"
)

// Provider hands out the shared engine handle and takes dead ones back.
type Provider interface {
	Acquire(ctx context.Context) (browser.Handle, error)
	Invalidate(h browser.Handle)
}

// Config holds the rendering pipeline knobs shared by all requests.
type Config struct {
	// WaitBudget caps how long a session waits for the readiness event.
	// Overruns are logged and the capture proceeds with whatever loaded.
	WaitBudget time.Duration

	// SettleDelay holds the page after readiness so late paints land.
	SettleDelay time.Duration

	Retry RetryPolicy
}

func DefaultBudgets() Config {
	return Config{
		WaitBudget:  10 * time.Second,
		SettleDelay: 500 * time.Millisecond,
		Retry:       DefaultRetryPolicy,
	}
}

// Orchestrator owns the capture pipeline.
type Orchestrator struct {
	provider Provider
	blocked  func(url string) bool
	config   Config
	logger   *zap.Logger
}

func New(provider Provider, blocked func(url string) bool, config Config, logger *zap.Logger) *Orchestrator {
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryPolicy
	}
	return &Orchestrator{
		provider: provider,
		blocked:  blocked,
		config:   config,
		logger:   logger,
	}
}

// Capture renders the requested page and returns the screenshot surface.
// The request timeout bounds navigation only; the readiness wait runs on its
// own fixed budget, so a page that loads slowly degrades to a best-effort
// capture instead of failing.
func (o *Orchestrator) Capture(ctx context.Context, req *types.CaptureRequest) (*browser.Surface, error) {
	host := hostOf(req.URL)

	var lastErr error
	for attempt := 1; attempt <= o.config.Retry.MaxAttempts; attempt++ {
		surface, handle, err := o.attempt(ctx, req)
		if err == nil {
			if attempt > 1 {
				o.logger.Info("Capture succeeded after retry",
					zap.String("request_id", req.RequestID),
					zap.Int("attempt", attempt))
			}
			return surface, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The caller went away; no point in another attempt.
			return nil, faults.Wrap(faults.KindTimeout, "capture timed out for "+host, ctx.Err())
		}

		if !o.config.Retry.ShouldRetry(attempt, err) {
			break
		}

		o.logger.Warn("Engine failure during capture, relaunching",
			zap.String("request_id", req.RequestID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if handle != nil {
			o.provider.Invalidate(handle)
		}
	}

	switch {
	case faults.As(lastErr) != nil:
		return nil, faults.As(lastErr)
	case errors.Is(lastErr, context.DeadlineExceeded):
		return nil, faults.Wrap(faults.KindTimeout, "capture timed out for "+host, lastErr)
	case isCrashSignal(lastErr):
		return nil, faults.Wrap(faults.KindCapture, "rendering engine failed for "+host, lastErr)
	default:
		return nil, faults.Wrap(faults.KindCapture, "capture failed for "+host, lastErr)
	}
}

// attempt runs one pass of the pipeline. The returned handle is non-nil when
// an engine was acquired, so the caller can invalidate it on crash.
func (o *Orchestrator) attempt(ctx context.Context, req *types.CaptureRequest) (*browser.Surface, browser.Handle, error) {
	handle, err := o.provider.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	session, err := handle.NewSession(ctx, browser.SessionConfig{
		RequestID: req.RequestID,
		Width:     req.Width,
		Height:    req.Height,
		Device:    req.Device,
		DarkMode:  req.Appearance == types.AppearanceDark,
	})
	if err != nil {
		return nil, handle, err
	}
	defer session.Close()

	if req.AdBlockEnabled() && o.blocked != nil {
		if err := session.ArmInterception(ctx, o.blocked); err != nil {
			return nil, handle, err
		}
	}

	host := hostOf(req.URL)

	navCtx, cancelNav := context.WithTimeout(ctx, req.Timeout.ToDuration())
	err = session.Navigate(navCtx, req.URL)
	cancelNav()
	if err != nil {
		if isCrashSignal(err) {
			return nil, handle, err
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, handle, faults.Wrap(faults.KindTimeout, "navigation timed out for "+host, err)
		}
		return nil, handle, faults.ClassifyNavigation(host, "", err)
	}

	err = session.AwaitReady(ctx, req.WaitFor, o.config.WaitBudget, o.config.SettleDelay)
	if errors.Is(err, browser.ErrWaitTimeout) {
		// Readiness never fired inside the budget; capture what loaded.
		o.logger.Debug("Readiness wait exceeded budget, capturing anyway",
			zap.String("request_id", req.RequestID),
			zap.String("wait_for", string(req.WaitFor)),
			zap.Duration("budget", o.config.WaitBudget))
	} else if err != nil {
		return nil, handle, err
	}

	surface, err := session.Capture(ctx, req.FullPage)
	if err != nil {
		if errors.Is(err, browser.ErrBadImage) {
			return nil, handle, faults.Wrap(faults.KindCapture, "engine produced an invalid screenshot for "+host, err)
		}
		return nil, handle, err
	}

	return surface, handle, nil
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
