// Package browser drives the shared headless rendering engine and the
// isolated page sessions screenshots are taken in.
package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/snapgate/engine/pkg/types"
)

// SessionConfig carries the per-request rendering parameters.
type SessionConfig struct {
	RequestID string
	Width     int
	Height    int
	Device    types.Device
	DarkMode  bool
}

// Surface is a captured screenshot with its pixel dimensions.
type Surface struct {
	Data   []byte
	Width  int
	Height int
}

// Handle is a running rendering engine process.
type Handle interface {
	IsAlive() bool
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
	Terminate() error
	Version() string
	ActiveSessions() int
}

// Session is an isolated page context inside the engine. Sessions share the
// engine process but no cookies, storage, or cache.
type Session interface {
	ArmInterception(ctx context.Context, blocked func(url string) bool) error
	Navigate(ctx context.Context, url string) error
	AwaitReady(ctx context.Context, wait types.WaitStrategy, budget, settle time.Duration) error
	Capture(ctx context.Context, fullPage bool) (*Surface, error)
	Close()
}

// Engine wraps a headless Chrome process. A buffered channel caps the number
// of concurrent sessions.
type Engine struct {
	config *Config
	logger *zap.Logger

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	ctx             context.Context
	cancel          context.CancelFunc

	version  string
	sessions chan struct{}
	closed   int32
}

// Launch starts a new engine process and verifies it responds.
func Launch(config *Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		config:   config,
		logger:   logger,
		sessions: make(chan struct{}, config.CalculateSessionLimit()),
	}

	if err := e.startProcess(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	logger.Info("Rendering engine launched",
		zap.String("version", e.version),
		zap.Int("session_limit", cap(e.sessions)))

	return e, nil
}

func (e *Engine) startProcess() error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("hide-scrollbars", true),
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	e.allocatorCtx, e.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)

	e.ctx, e.cancel = chromedp.NewContext(e.allocatorCtx)

	if err := chromedp.Run(e.ctx); err != nil {
		e.cancel()
		e.allocatorCancel()
		return fmt.Errorf("failed to start engine process: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(e.ctx, e.config.LaunchTimeout)
	defer cancel()

	if err := chromedp.Run(probeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		e.version = product
		return nil
	})); err != nil {
		e.cancel()
		e.allocatorCancel()
		return fmt.Errorf("engine did not respond after start: %w", err)
	}

	return nil
}

// IsAlive probes the engine with a version query.
func (e *Engine) IsAlive() bool {
	if atomic.LoadInt32(&e.closed) != 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.config.HealthTimeout)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		return err
	}))

	return err == nil
}

// Version returns the engine version string captured at launch.
func (e *Engine) Version() string {
	return e.version
}

// ActiveSessions returns the number of sessions currently held open.
func (e *Engine) ActiveSessions() int {
	return len(e.sessions)
}

// Terminate shuts the engine process down. Open sessions die with it.
func (e *Engine) Terminate() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}
	if e.allocatorCancel != nil {
		e.allocatorCancel()
	}

	e.logger.Info("Rendering engine terminated")
	return nil
}

// NewSession opens an isolated page session, blocking while the concurrent
// session cap is saturated.
func (e *Engine) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if atomic.LoadInt32(&e.closed) != 0 {
		return nil, ErrEngineClosed
	}

	select {
	case e.sessions <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrSessionLimit, ctx.Err())
	case <-e.ctx.Done():
		return nil, ErrEngineClosed
	}

	release := func() {
		select {
		case <-e.sessions:
		default:
		}
	}

	s, err := newPageSession(e, cfg)
	if err != nil {
		release()
		return nil, err
	}
	s.release = release

	e.logger.Debug("Session opened",
		zap.String("request_id", cfg.RequestID),
		zap.Int("active_sessions", len(e.sessions)))

	return s, nil
}
