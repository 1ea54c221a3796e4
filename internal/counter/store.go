package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/mvistore/internal/engine"
	"github.com/roach88/mvistore/internal/plugins"
)

// load is the OnStart work: Loading becomes Count(0). A restarted store
// keeps its count.
func load(ctx context.Context, p Pipeline) error {
	return p.UpdateState(ctx, func(_ context.Context, s State) (State, error) {
		if s.Loaded {
			return s, nil
		}
		return Count(0), nil
	})
}

// reduce computes the next State for an intent.
func reduce(ctx context.Context, p Pipeline, s State, i Intent) (State, error) {
	next := s
	switch i.Kind {
	case Increment:
		next.Count++
	case Decrement:
		next.Count--
	case Add:
		next.Count += i.Amount
	case Reset:
		next.Count = 0
		if err := p.Action(Action{Kind: WasReset, Count: s.Count}); err != nil {
			return s, err
		}
		return next, nil
	case Fail:
		return s, ErrFailRequested
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownIntent, i.Kind)
	}

	if s.Count >= 0 && next.Count < 0 {
		if err := p.Emit(ctx, Action{Kind: WentNegative, Count: next.Count}); err != nil {
			return s, err
		}
	}
	return next, nil
}

// recoverFailure handles ErrFailRequested by emitting Failed.
func recoverFailure(_ context.Context, p Pipeline, err error) error {
	if !errors.Is(err, ErrFailRequested) {
		return err
	}
	return p.Action(Action{Kind: Failed, Count: p.State().Count})
}

// Core returns the counter's own plugins composed into one: load on
// start, reduce intents, recover requested failures.
func Core() Plugin {
	return engine.MustCompose("counter",
		plugins.Init(load),
		plugins.Reduce(reduce),
		plugins.Recover(recoverFailure),
	)
}

type options struct {
	observers  []Plugin
	decorators []Decorator
	after      []Plugin
}

// Option configures New.
type Option func(*options)

// WithObservers registers plugins ahead of the core, so they see every
// intent before the reducer consumes it.
func WithObservers(ps ...Plugin) Option {
	return func(o *options) {
		o.observers = append(o.observers, ps...)
	}
}

// WithDecorators wraps the core; the first decorator is outermost.
func WithDecorators(ds ...Decorator) Option {
	return func(o *options) {
		o.decorators = append(o.decorators, ds...)
	}
}

// WithPlugins registers plugins after the core.
func WithPlugins(ps ...Plugin) Option {
	return func(o *options) {
		o.after = append(o.after, ps...)
	}
}

// New creates a counter store in the Loading state.
func New(cfg engine.Config, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	chain := append([]Plugin{}, o.observers...)
	chain = append(chain, engine.Decorate(Core(), o.decorators...))
	chain = append(chain, o.after...)

	return engine.New(Loading, cfg, chain...)
}
