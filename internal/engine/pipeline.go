package engine

import (
	"context"
	"log/slog"
)

// Pipeline is the view of a running engine that hooks receive.
//
// Contexts handed to hooks carry engine markers (state lock ownership,
// exception handling). Pass them on to nested calls; a fresh context
// loses re-entrancy.
type Pipeline[S, I, A any] interface {
	// Name returns the engine identity.
	Name() string

	// Config returns the engine configuration.
	Config() Config

	// State returns the current State without locking.
	State() S

	// UpdateState runs fn inside a state transaction and commits its result
	// through the OnState chain.
	UpdateState(ctx context.Context, fn func(ctx context.Context, s S) (S, error)) error

	// WithState runs fn inside a state transaction without changing State.
	WithState(ctx context.Context, fn func(ctx context.Context, s S) error) error

	// UpdateStateImmediate swaps State lock-free, bypassing OnState.
	UpdateStateImmediate(fn func(s S) S)

	// Send enqueues an intent without blocking.
	Send(intent I) error

	// Submit enqueues an intent, waiting for queue space.
	Submit(ctx context.Context, intent I) error

	// Emit publishes an action, waiting for buffer space.
	Emit(ctx context.Context, action A) error

	// Action publishes an action without blocking.
	Action(action A) error

	// Launch runs fn on a child goroutine of the current run. The returned
	// function cancels it. Launch returns nil when no run is active.
	Launch(fn func(ctx context.Context) error) context.CancelFunc

	// Subscribers returns the current subscriber count.
	Subscribers() int

	// Logger returns the engine logger.
	Logger() *slog.Logger
}
