package engine

import (
	"context"
	"sync"
)

// Handle controls and observes one run of an engine.
type Handle struct {
	started chan struct{}
	stopped chan struct{}
	stop    func()

	mu  sync.Mutex
	err error
}

func newHandle(stop func()) *Handle {
	return &Handle{
		started: make(chan struct{}),
		stopped: make(chan struct{}),
		stop:    stop,
	}
}

func (h *Handle) markStarted() {
	close(h.started)
}

func (h *Handle) markStopped(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.stopped)
}

// AwaitStartup blocks until every OnStart hook ran and the run accepts
// intents. A run that stops before getting there returns its error, or
// ErrNotRunning for a clean stop.
func (h *Handle) AwaitStartup(ctx context.Context) error {
	select {
	case <-h.started:
		return nil
	case <-h.stopped:
		select {
		case <-h.started:
			return nil
		default:
		}
		if err := h.Err(); err != nil {
			return err
		}
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitStopped blocks until the run has fully stopped and returns the
// fatal error that stopped it, if any.
func (h *Handle) AwaitStopped(ctx context.Context) error {
	select {
	case <-h.stopped:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped is closed once the run has fully stopped.
func (h *Handle) Stopped() <-chan struct{} {
	return h.stopped
}

// IsStarted reports whether the run is past startup and not yet stopped.
func (h *Handle) IsStarted() bool {
	select {
	case <-h.stopped:
		return false
	default:
	}
	select {
	case <-h.started:
		return true
	default:
		return false
	}
}

// IsActive reports whether the run has not yet stopped. Unlike IsStarted
// it is true while OnStart hooks are still running.
func (h *Handle) IsActive() bool {
	select {
	case <-h.stopped:
		return false
	default:
		return true
	}
}

// Close requests the run to stop. It does not wait; use AwaitStopped.
func (h *Handle) Close() {
	h.stop()
}

// Err returns the fatal error of a stopped run, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
