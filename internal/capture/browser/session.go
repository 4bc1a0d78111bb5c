package browser

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/snapgate/engine/pkg/types"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// lifecycleEventFor maps a wait strategy to the page lifecycle event name.
func lifecycleEventFor(wait types.WaitStrategy) string {
	switch wait {
	case types.WaitDOMContentLoaded:
		return "DOMContentLoaded"
	case types.WaitLoad:
		return "load"
	default:
		return "networkIdle"
	}
}

// pageSession is a page inside its own incognito browser context. Disposing
// the context wipes cookies, storage, and cache, which is what keeps
// requests isolated from each other.
type pageSession struct {
	engine *Engine
	cfg    SessionConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bctxID cdp.BrowserContextID

	frameID  string
	loaderID string

	fetchHandlers int64
	release       func()
	closed        int32
	closeOnce     sync.Once
}

func newPageSession(e *Engine, cfg SessionConfig) (*pageSession, error) {
	c := chromedp.FromContext(e.ctx)
	bexec := cdp.WithExecutor(e.ctx, c.Browser)

	bctxID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(bexec)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(bctxID).Do(bexec)
	if err != nil {
		_ = target.DisposeBrowserContext(bctxID).Do(bexec)
		return nil, fmt.Errorf("failed to create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(e.ctx, chromedp.WithTargetID(targetID))

	s := &pageSession{
		engine: e,
		cfg:    cfg,
		logger: e.logger,
		ctx:    tabCtx,
		cancel: tabCancel,
		bctxID: bctxID,
	}

	if err := s.configure(); err != nil {
		s.dispose()
		return nil, err
	}

	return s, nil
}

// configure applies the device emulation before any navigation happens.
func (s *pageSession) configure() error {
	if err := chromedp.Run(s.ctx, configureTasks(s.cfg)); err != nil {
		return fmt.Errorf("failed to configure session: %w", err)
	}
	return nil
}

// configureTasks builds the emulation setup for a session: user agent,
// viewport, color scheme, touch, plus the policy overrides that keep pages
// from blocking capture. CSP bypass must come after page enable.
func configureTasks(cfg SessionConfig) chromedp.Tasks {
	profile := ProfileFor(cfg.Device)
	width, height := profile.Viewport(cfg.Width, cfg.Height)

	scheme := "light"
	if cfg.DarkMode {
		scheme = "dark"
	}

	tasks := chromedp.Tasks{
		network.Enable(),
		enableLifecycle(),
		page.SetBypassCSP(true),
		security.SetIgnoreCertificateErrors(true),
		emulation.SetUserAgentOverride(profile.UserAgent),
		emulation.SetDeviceMetricsOverride(width, height, profile.ScaleFactor, profile.Mobile),
		emulation.SetEmulatedMedia().WithFeatures([]*emulation.MediaFeature{
			{Name: "prefers-color-scheme", Value: scheme},
		}),
	}

	if profile.Touch {
		tasks = append(tasks, emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(5))
	}

	return tasks
}

// enableLifecycle enables page lifecycle events
func enableLifecycle() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

// run executes actions on the session tab, tying its lifetime to the caller
// context so a request timeout tears the tab down.
func (s *pageSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrSessionClosed
	}

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	err := chromedp.Run(s.ctx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ArmInterception enables request interception. Requests whose URL matches
// the blocked predicate are aborted, everything else continues untouched.
func (s *pageSession) ArmInterception(ctx context.Context, blocked func(url string) bool) error {
	return s.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			chromedp.ListenTarget(ctx, func(event interface{}) {
				ev, ok := event.(*fetch.EventRequestPaused)
				if !ok {
					return
				}

				atomic.AddInt64(&s.fetchHandlers, 1)
				go func(event *fetch.EventRequestPaused) {
					defer atomic.AddInt64(&s.fetchHandlers, -1)

					cmdCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					defer cancel()

					c := chromedp.FromContext(cmdCtx)
					executor := cdp.WithExecutor(cmdCtx, c.Target)

					if blocked != nil && blocked(event.Request.URL) {
						err := fetch.FailRequest(event.RequestID, network.ErrorReasonAborted).Do(executor)
						if err != nil {
							s.logger.Warn("Failed to abort blocked request",
								zap.String("request_id", s.cfg.RequestID),
								zap.String("url", event.Request.URL),
								zap.Error(err))
						}
						return
					}

					err := fetch.ContinueRequest(event.RequestID).Do(executor)
					if err != nil {
						s.logger.Warn("Failed to continue request, failing instead to prevent hang",
							zap.String("request_id", s.cfg.RequestID),
							zap.String("url", event.Request.URL),
							zap.Error(err))
						_ = fetch.FailRequest(event.RequestID, network.ErrorReasonAborted).Do(executor)
					}
				}(ev)
			})
			return nil
		}),
		fetch.Enable(),
	)
}

// Navigate loads the target URL and records the frame and loader IDs so the
// ready wait can match lifecycle events to this navigation.
func (s *pageSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		frameID, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNavigateFailed, err)
		}
		if errorText != "" {
			return fmt.Errorf("%w: %s", ErrNavigateFailed, errorText)
		}

		s.frameID = string(frameID)
		s.loaderID = string(loaderID)
		return nil
	}))
}

// AwaitReady waits for the lifecycle event of the requested strategy, then
// holds for the settle delay. A budget overrun returns ErrWaitTimeout.
func (s *pageSession) AwaitReady(ctx context.Context, wait types.WaitStrategy, budget, settle time.Duration) error {
	eventName := lifecycleEventFor(wait)

	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return waitForLifecycleEvent(ctx, eventName, s.frameID, s.loaderID, budget)
	}))
	if err != nil {
		return err
	}

	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// waitForLifecycleEvent blocks until the named event fires for the matching
// frame and loader, the budget elapses, or the context ends.
func waitForLifecycleEvent(ctx context.Context, eventName, frameID, loaderID string, budget time.Duration) error {
	ch := make(chan struct{})

	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			if string(e.FrameID) == frameID && string(e.LoaderID) == loaderID && string(e.Name) == eventName {
				cancel()
				close(ch)
			}
		}
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(budget):
		return ErrWaitTimeout
	}
}

// Capture takes the screenshot and validates the result is a real PNG.
func (s *pageSession) Capture(ctx context.Context, fullPage bool) (*Surface, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}

	if err := s.run(ctx, action); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	if len(buf) < len(pngMagic) || !bytes.Equal(buf[:len(pngMagic)], pngMagic) {
		return nil, ErrBadImage
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	return &Surface{Data: buf, Width: cfg.Width, Height: cfg.Height}, nil
}

// Close tears the session down: the page is closed first, then the incognito
// context is disposed so nothing the page wrote survives.
func (s *pageSession) Close() {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)

		s.waitFetchHandlers()

		closeCtx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
		if err := chromedp.Run(closeCtx, page.Close()); err != nil {
			s.logger.Debug("Page close failed during session teardown",
				zap.String("request_id", s.cfg.RequestID),
				zap.Error(err))
		}
		cancel()

		s.dispose()

		if s.release != nil {
			s.release()
		}

		s.logger.Debug("Session closed", zap.String("request_id", s.cfg.RequestID))
	})
}

// dispose cancels the tab and drops the incognito browser context.
func (s *pageSession) dispose() {
	s.cancel()

	if s.engine.ctx.Err() != nil {
		return
	}

	c := chromedp.FromContext(s.engine.ctx)
	disposeCtx, cancel := context.WithTimeout(s.engine.ctx, 3*time.Second)
	defer cancel()

	bexec := cdp.WithExecutor(disposeCtx, c.Browser)
	if err := target.DisposeBrowserContext(s.bctxID).Do(bexec); err != nil {
		s.logger.Debug("Browser context dispose failed",
			zap.String("request_id", s.cfg.RequestID),
			zap.Error(err))
	}
}

// waitFetchHandlers lets in-flight interception goroutines drain before the
// tab goes away.
func (s *pageSession) waitFetchHandlers() {
	timeout := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&s.fetchHandlers) <= 0 {
			return
		}

		select {
		case <-timeout:
			s.logger.Warn("Timeout waiting for fetch handlers to complete",
				zap.String("request_id", s.cfg.RequestID),
				zap.Int64("remaining", atomic.LoadInt64(&s.fetchHandlers)))
			return
		case <-ticker.C:
		}
	}
}
