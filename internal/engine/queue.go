package engine

import (
	"context"
	"sync"
)

// queue is a thread-safe FIFO with an optional capacity and an overflow
// policy.
//
// Capacity <= 0 means unbounded. Items that do not fit are returned to the
// caller so it can report them as undelivered; the queue never silently
// discards anything.
//
// Waiting is channel-based so Put and Take can select on ctx.Done(). Each
// signal channel has a buffer of one; a consumer that leaves items behind
// re-signals so the next waiter wakes up.
type queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	overflow Overflow
	closed   bool
	ready    chan struct{} // items may be available
	space    chan struct{} // capacity may be available
}

func newQueue[T any](capacity int, overflow Overflow) *queue[T] {
	return &queue[T]{
		items:    make([]T, 0, initialCap(capacity)),
		capacity: capacity,
		overflow: overflow,
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

func initialCap(capacity int) int {
	if capacity > 0 && capacity < 64 {
		return capacity
	}
	return 64
}

// offer adds v without blocking.
//
// A full queue applies the overflow policy: DropOldest evicts the head and
// returns it, DropLatest and Suspend return v itself, Fail returns
// ErrQueueFull. A closed queue returns ErrNotRunning.
func (q *queue[T]) offer(v T) ([]T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.offerLocked(v)
}

func (q *queue[T]) offerLocked(v T) ([]T, error) {
	if q.closed {
		return nil, ErrNotRunning
	}
	if q.hasSpaceLocked() {
		q.pushLocked(v)
		return nil, nil
	}

	switch q.overflow {
	case OverflowDropOldest:
		oldest := q.popLocked()
		q.pushLocked(v)
		return []T{oldest}, nil
	case OverflowFail:
		return nil, ErrQueueFull
	default:
		return []T{v}, nil
	}
}

// put adds v, waiting for space under the Suspend policy. Other policies
// behave like offer.
func (q *queue[T]) put(ctx context.Context, v T) ([]T, error) {
	for {
		q.mu.Lock()
		if q.closed || q.hasSpaceLocked() || q.overflow != OverflowSuspend {
			dropped, err := q.offerLocked(v)
			q.mu.Unlock()
			return dropped, err
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-space:
		}
	}
}

// take removes and returns the head, waiting until an item arrives, ctx is
// done or the queue is closed.
func (q *queue[T]) take(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.popLocked()
			if len(q.items) > 0 {
				signal(q.ready)
			}
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrNotRunning
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-ready:
		}
	}
}

// close stops the queue and returns every item still buffered, in order.
// Blocked producers and consumers wake up with ErrNotRunning.
func (q *queue[T]) close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	rest := q.items
	q.items = nil
	close(q.ready)
	close(q.space)
	return rest
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) hasSpaceLocked() bool {
	return q.capacity <= 0 || len(q.items) < q.capacity
}

func (q *queue[T]) pushLocked(v T) {
	q.items = append(q.items, v)
	signal(q.ready)
	if q.hasSpaceLocked() {
		// Hand the wake-up on to the next blocked producer.
		signal(q.space)
	}
}

func (q *queue[T]) popLocked() T {
	v := q.items[0]

	// Clear the slot so the backing array does not retain the item.
	var zero T
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	signal(q.space)
	return v
}

// signal performs a non-blocking send; a full buffer coalesces signals.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
