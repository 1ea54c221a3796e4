package plugins

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/mvistore/internal/engine"
)

// Reducer computes the next State for an intent. It may emit actions
// through p.
type Reducer[S, I, A any] func(ctx context.Context, p engine.Pipeline[S, I, A], s S, intent I) (S, error)

// Reduce handles every intent by running fn inside a state transaction.
// The intent is consumed.
func Reduce[S, I, A any](fn Reducer[S, I, A]) engine.Plugin[S, I, A] {
	return engine.Plugin[S, I, A]{
		Name: "reduce",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], intent I) (I, bool, error) {
			var zero I
			err := p.UpdateState(ctx, func(ctx context.Context, s S) (S, error) {
				return fn(ctx, p, s, intent)
			})
			return zero, false, err
		},
	}
}

// Recover handles exceptions with fn. fn returns nil when it handled the
// error (it may have updated State as the recovery) and the error to pass
// it on.
func Recover[S, I, A any](fn func(ctx context.Context, p engine.Pipeline[S, I, A], err error) error) engine.Plugin[S, I, A] {
	return engine.Plugin[S, I, A]{
		Name:        "recover",
		OnException: fn,
	}
}

// Init runs fn once per run, before any intent is processed.
func Init[S, I, A any](fn func(ctx context.Context, p engine.Pipeline[S, I, A]) error) engine.Plugin[S, I, A] {
	return engine.Plugin[S, I, A]{
		Name:    "init",
		OnStart: fn,
	}
}

// Undelivered reports intents and actions the engine dropped. Either
// callback may be nil.
func Undelivered[S, I, A any](onIntent func(I), onAction func(A)) engine.Plugin[S, I, A] {
	return engine.Plugin[S, I, A]{
		Name:                "undelivered",
		OnUndeliveredIntent: onIntent,
		OnUndeliveredAction: onAction,
	}
}

// DisallowRestart fails the second Start of an engine with a usage error
// wrapping engine.ErrRestartForbidden.
func DisallowRestart[S, I, A any]() engine.Plugin[S, I, A] {
	var started atomic.Bool
	return engine.Plugin[S, I, A]{
		Name: "disallow_restart",
		OnStart: func(_ context.Context, p engine.Pipeline[S, I, A]) error {
			if started.Swap(true) {
				return engine.NewUsageError(p.Name(), "start", engine.ErrRestartForbidden)
			}
			return nil
		},
	}
}

// ResetState puts State back to initial when a run stops, so the next run
// starts from scratch.
func ResetState[S, I, A any](initial S) engine.Plugin[S, I, A] {
	return engine.Plugin[S, I, A]{
		Name: "reset_state",
		OnStop: func(_ context.Context, p engine.Pipeline[S, I, A], _ error) {
			p.UpdateStateImmediate(func(S) S { return initial })
		},
	}
}

// StateHistory keeps the last states that passed through a History plugin.
type StateHistory[S any] struct {
	mu     sync.Mutex
	limit  int
	states []S
}

// NewStateHistory keeps up to limit states; limit <= 0 keeps everything.
func NewStateHistory[S any](limit int) *StateHistory[S] {
	return &StateHistory[S]{limit: limit}
}

func (h *StateHistory[S]) add(s S) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, s)
	if h.limit > 0 && len(h.states) > h.limit {
		h.states = h.states[len(h.states)-h.limit:]
	}
}

// States returns the recorded states, oldest first.
func (h *StateHistory[S]) States() []S {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]S(nil), h.states...)
}

// History records every State transition proposed to it into h.
func History[S, I, A any](h *StateHistory[S]) engine.Plugin[S, I, A] {
	return engine.Plugin[S, I, A]{
		Name: "history",
		OnState: func(_ context.Context, _ engine.Pipeline[S, I, A], _, next S) (S, bool, error) {
			h.add(next)
			return next, true, nil
		},
	}
}
