package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// SubscriberCount is one transition of the subscriber count.
type SubscriberCount struct {
	Previous int
	Current  int
}

// Subscribed reports whether the transition is an increase.
func (c SubscriberCount) Subscribed() bool {
	return c.Current > c.Previous
}

func packCount(prev, cur int) uint64 {
	return uint64(uint32(prev))<<32 | uint64(uint32(cur))
}

func unpackCount(v uint64) SubscriberCount {
	return SubscriberCount{Previous: int(uint32(v >> 32)), Current: int(uint32(v))}
}

// subscriberTracker counts subscribers.
//
// The (previous, current) pair lives in one atomic word updated by
// compare-and-swap, so readers always see a consistent pair. While a run
// is attached every transition is also queued, in transition order, for
// the run's dispatcher.
type subscriberTracker struct {
	count atomic.Uint64

	mu      sync.Mutex
	pending *queue[SubscriberCount]
}

func (t *subscriberTracker) current() int {
	return unpackCount(t.count.Load()).Current
}

// add applies delta and returns the transition. The count never drops
// below zero.
func (t *subscriberTracker) add(delta int) SubscriberCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		old := t.count.Load()
		cur := unpackCount(old).Current
		next := max(cur+delta, 0)
		if t.count.CompareAndSwap(old, packCount(cur, next)) {
			change := SubscriberCount{Previous: cur, Current: next}
			if t.pending != nil && change.Previous != change.Current {
				t.pending.offer(change)
			}
			return change
		}
	}
}

// attach starts queueing transitions for a new run. Subscribers that are
// already present show up as a single 0 -> n transition.
func (t *subscriberTracker) attach() *queue[SubscriberCount] {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := newQueue[SubscriberCount](0, OverflowSuspend)
	if n := t.current(); n > 0 {
		q.offer(SubscriberCount{Previous: 0, Current: n})
	}
	t.pending = q
	return q
}

// detach stops queueing and discards transitions the run never dispatched.
func (t *subscriberTracker) detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		t.pending.close()
		t.pending = nil
	}
}

// Subscription is a live subscription to an engine's States and Actions.
//
// Release it with Close or by cancelling the context passed to Subscribe.
// The subscriber count is decremented exactly once.
type Subscription[S any] struct {
	latest  atomic.Pointer[snapshot[S]]
	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once
}

// State returns the latest State delivered to this subscription.
func (s *Subscription[S]) State() S {
	return s.latest.Load().value
}

// Version returns the clock version of the latest delivered State.
func (s *Subscription[S]) Version() int64 {
	return s.latest.Load().version
}

// Done is closed once the subscription has been released.
func (s *Subscription[S]) Done() <-chan struct{} {
	return s.done
}

// Close releases the subscription and waits for its delivery goroutines.
func (s *Subscription[S]) Close() {
	s.cancel()
	<-s.done
}
