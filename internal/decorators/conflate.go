package decorators

import (
	"context"
	"sync"

	"github.com/roach88/mvistore/internal/engine"
)

// conflator remembers the last value it let through.
type conflator[T any] struct {
	mu   sync.Mutex
	eq   func(a, b T) bool
	last T
	has  bool
}

// admit reports whether v differs from the previous admitted value.
func (c *conflator[T]) admit(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.has && c.eq(c.last, v) {
		return false
	}
	c.last, c.has = v, true
	return true
}

func (c *conflator[T]) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.last, c.has = zero, false
}

// ConflateIntents drops an intent equal (by eq) to the one before it.
// Dropped intents are consumed, not forwarded.
func ConflateIntents[S, I, A any](eq func(a, b I) bool) engine.Decorator[S, I, A] {
	c := &conflator[I]{eq: eq}
	return engine.Decorator[S, I, A]{
		Name: "conflate_intents",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			if !c.admit(intent) {
				var zero I
				return zero, false, nil
			}
			return child.Intent(ctx, p, intent)
		},
		OnStop: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], err error) {
			c.reset()
			child.Stop(ctx, p, err)
		},
	}
}

// ConflateActions drops an action equal (by eq) to the one before it.
func ConflateActions[S, I, A any](eq func(a, b A) bool) engine.Decorator[S, I, A] {
	c := &conflator[A]{eq: eq}
	return engine.Decorator[S, I, A]{
		Name: "conflate_actions",
		OnAction: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], action A) (A, bool, error) {
			if !c.admit(action) {
				var zero A
				return zero, false, nil
			}
			return child.Action(ctx, p, action)
		},
		OnStop: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], err error) {
			c.reset()
			child.Stop(ctx, p, err)
		},
	}
}

// Equal is an eq function for comparable types.
func Equal[T comparable](a, b T) bool {
	return a == b
}
