package browser

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// State is the lifecycle phase of the managed engine.
type State int32

const (
	StateUninitialized State = iota
	StateLaunching
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Launcher starts an engine process. Manager calls it at most once at a time.
type Launcher func() (Handle, error)

// launchAttempt is shared by every caller waiting on one launch, so all of
// them observe the same handle or the same error.
type launchAttempt struct {
	done   chan struct{}
	handle Handle
	err    error
}

// Manager owns the shared engine handle. The engine launches lazily on first
// acquire, concurrent acquires coalesce into a single launch, and a failed or
// invalidated engine resets to uninitialized so the next acquire relaunches.
type Manager struct {
	launcher Launcher
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	handle     Handle
	attempt    *launchAttempt
	relaunches int64
}

func NewManager(launcher Launcher, logger *zap.Logger) *Manager {
	return &Manager{
		launcher: launcher,
		logger:   logger,
		state:    StateUninitialized,
	}
}

// Acquire returns a live engine handle, launching one first if needed.
// Callers arriving during a launch block until that launch settles. A ready
// handle that stops answering the liveness probe is discarded and replaced
// before it is ever handed out.
func (m *Manager) Acquire(ctx context.Context) (Handle, error) {
	deadProbes := 0
	for {
		m.mu.Lock()
		switch m.state {
		case StateClosing, StateClosed:
			m.mu.Unlock()
			return nil, ErrEngineClosed

		case StateReady:
			h := m.handle
			m.mu.Unlock()
			if h.IsAlive() {
				return h, nil
			}
			deadProbes++
			if deadProbes > 1 {
				return nil, ErrEngineDead
			}
			m.logger.Warn("Engine stopped responding to liveness probe, discarding handle")
			m.Invalidate(h)

		case StateLaunching:
			a := m.attempt
			m.mu.Unlock()
			if _, err := waitAttempt(ctx, a); err != nil {
				return nil, err
			}

		default:
			a := &launchAttempt{done: make(chan struct{})}
			m.attempt = a
			m.state = StateLaunching
			m.mu.Unlock()

			go m.runLaunch(a)
			if _, err := waitAttempt(ctx, a); err != nil {
				return nil, err
			}
		}
	}
}

func waitAttempt(ctx context.Context, a *launchAttempt) (Handle, error) {
	select {
	case <-a.done:
		if a.err != nil {
			return nil, a.err
		}
		return a.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) runLaunch(a *launchAttempt) {
	m.logger.Info("Launching rendering engine")
	h, err := m.launcher()

	m.mu.Lock()
	switch {
	case m.state == StateClosing || m.state == StateClosed:
		// Shutdown raced the launch; the fresh engine is not wanted.
		if h != nil {
			_ = h.Terminate()
		}
		a.err = ErrEngineClosed

	case err != nil:
		m.state = StateUninitialized
		a.err = err
		m.logger.Error("Engine launch failed", zap.Error(err))

	default:
		m.state = StateReady
		m.handle = h
		a.handle = h
	}
	m.attempt = nil
	m.mu.Unlock()

	close(a.done)
}

// Invalidate discards a handle believed dead. Only the current handle resets
// the state; stale invalidations from concurrent retries are ignored.
func (m *Manager) Invalidate(h Handle) {
	m.mu.Lock()
	if m.state != StateReady || m.handle != h {
		m.mu.Unlock()
		return
	}

	m.handle = nil
	m.state = StateUninitialized
	m.relaunches++
	m.mu.Unlock()

	m.logger.Warn("Engine handle invalidated, next acquire relaunches")
	_ = h.Terminate()
}

// IsHealthy reports whether a ready engine responds to a liveness probe.
func (m *Manager) IsHealthy() bool {
	m.mu.Lock()
	h := m.handle
	ready := m.state == StateReady
	m.mu.Unlock()

	return ready && h != nil && h.IsAlive()
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Relaunches returns how many times the engine has been invalidated.
func (m *Manager) Relaunches() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relaunches
}

// Shutdown terminates the engine and rejects any further acquires. A launch
// in flight is waited for and its engine torn down.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return
	}

	attempt := m.attempt
	handle := m.handle
	m.state = StateClosing
	m.handle = nil
	m.mu.Unlock()

	if attempt != nil {
		<-attempt.done
	}
	if handle != nil {
		_ = handle.Terminate()
	}

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()

	m.logger.Info("Engine manager shut down")
}
