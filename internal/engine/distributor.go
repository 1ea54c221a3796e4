package engine

import (
	"context"
	"errors"
	"sync"
)

// actionSink is one subscriber's view of the distributor. Under broadcast
// it owns a buffer; otherwise it reads the shared one.
type actionSink[A any] struct {
	id  uint64
	buf *queue[A]
}

// distributor routes emitted actions to subscribers according to the
// configured strategy.
//
// It outlives individual runs: subscriber registrations persist across
// restarts while the buffers are recreated on every open and drained on
// close. Between runs Emit fails with ErrNotRunning and readers park until
// the next open.
type distributor[A any] struct {
	cfg ActionConfig

	mu       sync.Mutex
	open     bool
	shared   *queue[A]
	sinks    map[uint64]*actionSink[A]
	nextID   uint64
	reopened chan struct{} // closed on open, replaced on close
}

func newDistributor[A any](cfg ActionConfig) *distributor[A] {
	return &distributor[A]{
		cfg:      cfg,
		sinks:    make(map[uint64]*actionSink[A]),
		reopened: make(chan struct{}),
	}
}

func (d *distributor[A]) newBuffer() *queue[A] {
	return newQueue[A](d.cfg.BufferSize, d.cfg.Overflow)
}

// start opens fresh buffers for a run.
func (d *distributor[A]) start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = true
	if d.cfg.Strategy == ActionsBroadcast {
		for _, s := range d.sinks {
			s.buf = d.newBuffer()
		}
	} else {
		d.shared = d.newBuffer()
	}
	close(d.reopened)
}

// stop closes every buffer and returns the actions nobody received.
func (d *distributor[A]) stop() []A {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil
	}
	d.open = false
	d.reopened = make(chan struct{})

	var rest []A
	if d.shared != nil {
		rest = append(rest, d.shared.close()...)
	}
	for _, s := range d.sinks {
		if s.buf != nil {
			rest = append(rest, s.buf.close()...)
		}
	}
	return rest
}

// subscribe registers an action reader.
func (d *distributor[A]) subscribe() (*actionSink[A], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.cfg.Strategy {
	case ActionsDisabled:
		return nil, ErrActionsDisabled
	case ActionsConsume:
		if len(d.sinks) > 0 {
			return nil, ErrActionsAlreadyConsumed
		}
	}

	d.nextID++
	s := &actionSink[A]{id: d.nextID}
	if d.open && d.cfg.Strategy == ActionsBroadcast {
		s.buf = d.newBuffer()
	}
	d.sinks[s.id] = s
	return s, nil
}

// unsubscribe removes a reader. Actions left in its own buffer are
// returned as undelivered.
func (d *distributor[A]) unsubscribe(s *actionSink[A]) []A {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.sinks, s.id)
	if d.cfg.Strategy == ActionsBroadcast && s.buf != nil {
		rest := s.buf.close()
		s.buf = nil
		return rest
	}
	return nil
}

// emit delivers action to the configured buffers. When block is set a
// full suspending buffer waits for space. The returned slice holds the
// actions that could not be delivered.
func (d *distributor[A]) emit(ctx context.Context, action A, block bool) ([]A, error) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil, ErrNotRunning
	}
	var targets []*queue[A]
	if d.cfg.Strategy == ActionsBroadcast {
		for _, s := range d.sinks {
			if s.buf != nil {
				targets = append(targets, s.buf)
			}
		}
	} else {
		targets = append(targets, d.shared)
	}
	d.mu.Unlock()

	if len(targets) == 0 {
		return []A{action}, nil
	}

	var dropped []A
	var errs []error
	for _, q := range targets {
		var out []A
		var err error
		if block {
			out, err = q.put(ctx, action)
		} else {
			out, err = q.offer(action)
		}
		dropped = append(dropped, out...)
		if err != nil {
			// A buffer closed under us belongs to a departed subscriber.
			if errors.Is(err, ErrNotRunning) && d.cfg.Strategy == ActionsBroadcast {
				continue
			}
			dropped = append(dropped, action)
			errs = append(errs, err)
		}
	}
	return dropped, errors.Join(errs...)
}

// next returns the next action for s, parking between runs.
func (d *distributor[A]) next(ctx context.Context, s *actionSink[A]) (A, error) {
	for {
		d.mu.Lock()
		buf := d.shared
		if d.cfg.Strategy == ActionsBroadcast {
			buf = s.buf
		}
		open := d.open
		reopened := d.reopened
		d.mu.Unlock()

		if !open || buf == nil {
			select {
			case <-ctx.Done():
				var zero A
				return zero, ctx.Err()
			case <-reopened:
				continue
			}
		}

		a, err := buf.take(ctx)
		if err == nil {
			return a, nil
		}
		if ctx.Err() != nil {
			var zero A
			return zero, ctx.Err()
		}
		// Buffer closed by stop: wait for the next run.
		select {
		case <-ctx.Done():
			var zero A
			return zero, ctx.Err()
		case <-reopened:
		}
	}
}
