package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// snapshot is a committed State and its clock version.
type snapshot[S any] struct {
	value   S
	version int64
}

// txKey marks a context as holding the lock of one particular cell.
type txKey struct{ cell any }

// stateCell holds the current State.
//
// Writers commit new snapshots; readers load them without locking.
// Observers read the published snapshot, which tracks the current one
// except while the cell is sealed (between runs). Sealing lets OnStop
// hooks reset state without subscribers seeing it.
type stateCell[S any] struct {
	current   atomic.Pointer[snapshot[S]]
	published atomic.Pointer[snapshot[S]]
	strategy  StateStrategy
	clock     *Clock
	lock      chan struct{}

	mu      sync.Mutex
	sealed  bool
	changed chan struct{} // closed and replaced on every publish
}

func newStateCell[S any](initial S, strategy StateStrategy) *stateCell[S] {
	c := &stateCell[S]{
		strategy: strategy,
		clock:    NewClock(),
		lock:     make(chan struct{}, 1),
		sealed:   true,
		changed:  make(chan struct{}),
	}
	first := &snapshot[S]{value: initial, version: c.clock.Next()}
	c.current.Store(first)
	c.published.Store(first)
	return c
}

func (c *stateCell[S]) load() *snapshot[S] {
	return c.current.Load()
}

// holds reports whether ctx was handed out by a transaction on this cell.
func (c *stateCell[S]) holds(ctx context.Context) bool {
	return ctx.Value(txKey{cell: c}) != nil
}

// transaction runs fn under the cell's discipline. In atomic mode fn holds
// the lock and receives a context marking that; a nested call with that
// context re-enters (or fails with ErrRecursiveStateTransaction when the
// cell is not reentrant). In immediate mode fn runs unguarded.
func (c *stateCell[S]) transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.strategy.Mode == StateImmediate {
		return fn(ctx)
	}
	if c.holds(ctx) {
		if !c.strategy.Reentrant {
			return ErrRecursiveStateTransaction
		}
		return fn(ctx)
	}

	// select picks at random between ready cases; a cancelled caller must
	// not win a free lock.
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.lock }()

	return fn(context.WithValue(ctx, txKey{cell: c}, true))
}

// commit stores value as the new current State.
//
// In immediate mode the store only succeeds if prev is still current; the
// caller retries on false. In atomic mode the commit always succeeds and
// only loops to stay ordered against concurrent immediate updates.
// Versions are drawn after the current snapshot is loaded, so they are
// strictly increasing in commit order.
func (c *stateCell[S]) commit(prev *snapshot[S], value S) bool {
	for {
		cur := c.current.Load()
		if c.strategy.Mode == StateImmediate && cur != prev {
			return false
		}
		next := &snapshot[S]{value: value, version: c.clock.Next()}
		if c.current.CompareAndSwap(cur, next) {
			c.publish(next)
			return true
		}
		if c.strategy.Mode == StateImmediate {
			return false
		}
	}
}

// modify applies fn with a CAS loop, bypassing any lock.
func (c *stateCell[S]) modify(fn func(S) S) {
	for {
		cur := c.current.Load()
		next := &snapshot[S]{value: fn(cur.value), version: c.clock.Next()}
		if c.current.CompareAndSwap(cur, next) {
			c.publish(next)
			return
		}
	}
}

func (c *stateCell[S]) publish(s *snapshot[S]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return
	}
	// Publishes race with each other outside the lock; never go backwards.
	if old := c.published.Load(); old != nil && old.version >= s.version {
		return
	}
	c.published.Store(s)
	close(c.changed)
	c.changed = make(chan struct{})
}

// observe returns the published snapshot and a channel closed on the next
// publish. Callers must read the channel before waiting on it.
func (c *stateCell[S]) observe() (*snapshot[S], <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published.Load(), c.changed
}

// seal stops publishing. Commits still update the current State.
func (c *stateCell[S]) seal() {
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
}

// unseal resumes publishing and publishes the current State.
func (c *stateCell[S]) unseal() {
	c.mu.Lock()
	c.sealed = false
	c.mu.Unlock()
	c.publish(c.current.Load())
}
