package engine

import "sync/atomic"

// Clock is a monotonic logical clock.
//
// The engine stamps every committed State with Clock.Next(); the journal
// stamps every record of a run the same way. Ordering never depends on
// wall-clock time.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start. Next returns start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out by Next.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
