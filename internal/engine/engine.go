package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Engine is an MVI store: one State, an intent queue and an action
// distributor, driven by a composed plugin.
//
// Thread-safety model:
//   - Send, Submit, Subscribe, State, Close: safe from any goroutine
//   - Start: at most one run at a time; restartable after Stopped
//   - hooks: invoked from the processing goroutine (intents), producer
//     goroutines (OnIntentEnqueue) and subscriber goroutines
//     (OnActionDispatch)
type Engine[S, I, A any] struct {
	identity string
	cfg      Config
	logger   *slog.Logger
	plugin   Plugin[S, I, A]

	state   *stateCell[S]
	actions *distributor[A]
	subs    subscriberTracker

	mu    sync.Mutex // serializes Start and run swaps
	phase atomic.Int32
	run   atomic.Pointer[run[I]]
}

// New creates an engine in the Created phase.
//
// Plugins are composed in the given order. Pass a single plugin built with
// Decorate to put decorators around the chain.
func New[S, I, A any](initial S, cfg Config, plugins ...Plugin[S, I, A]) (*Engine[S, I, A], error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewUsageError(cfg.Name, "new", err)
	}

	cfg.Name = NormalizeName(cfg.Name)
	if cfg.IDs == nil {
		cfg.IDs = UUIDv7Generator{}
	}
	identity := cfg.Name
	if identity == "" {
		identity = cfg.IDs.Generate()
	}

	plugin, err := Compose(identity, plugins...)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine[S, I, A]{
		identity: identity,
		cfg:      cfg,
		logger:   logger.With("engine", identity),
		plugin:   plugin,
		state:    newStateCell(initial, cfg.State),
		actions:  newDistributor[A](cfg.Actions),
	}
	e.phase.Store(int32(PhaseCreated))
	return e, nil
}

// MustNew is New that panics on error.
func MustNew[S, I, A any](initial S, cfg Config, plugins ...Plugin[S, I, A]) *Engine[S, I, A] {
	e, err := New(initial, cfg, plugins...)
	if err != nil {
		panic(err)
	}
	return e
}

// Identity returns the normalized name, or the generated id of an unnamed
// engine.
func (e *Engine[S, I, A]) Identity() string {
	return e.identity
}

// Equal reports whether other has the same identity.
func (e *Engine[S, I, A]) Equal(other Identifiable) bool {
	return other != nil && e.identity == other.Identity()
}

// Name returns the engine identity.
func (e *Engine[S, I, A]) Name() string {
	return e.identity
}

func (e *Engine[S, I, A]) String() string {
	return fmt.Sprintf("Engine(%s)", e.identity)
}

// Config returns a copy of the configuration.
func (e *Engine[S, I, A]) Config() Config {
	return e.cfg
}

// Logger returns the engine logger.
func (e *Engine[S, I, A]) Logger() *slog.Logger {
	return e.logger
}

// Phase returns the lifecycle phase.
func (e *Engine[S, I, A]) Phase() Phase {
	return Phase(e.phase.Load())
}

// Subscribers returns the current subscriber count.
func (e *Engine[S, I, A]) Subscribers() int {
	return e.subs.current()
}

// State returns the current State.
func (e *Engine[S, I, A]) State() S {
	return e.state.load().value
}

// Version returns the clock version of the current State.
func (e *Engine[S, I, A]) Version() int64 {
	return e.state.load().version
}

// UpdateState runs fn inside a state transaction. The result goes through
// the OnState chain; a veto keeps the old State. Errors from fn or the
// chain are returned unchanged and nothing is committed.
func (e *Engine[S, I, A]) UpdateState(ctx context.Context, fn func(ctx context.Context, s S) (S, error)) error {
	return e.state.transaction(ctx, func(ctx context.Context) error {
		for {
			prev := e.state.load()
			next, err := fn(ctx, prev.value)
			if err != nil {
				return err
			}
			next, ok, err := e.plugin.State(ctx, e, prev.value, next)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if e.state.commit(prev, next) {
				return nil
			}
		}
	})
}

// WithState runs fn inside a state transaction with the current State.
func (e *Engine[S, I, A]) WithState(ctx context.Context, fn func(ctx context.Context, s S) error) error {
	return e.state.transaction(ctx, func(ctx context.Context) error {
		return fn(ctx, e.state.load().value)
	})
}

// UpdateStateImmediate swaps the State with a compare-and-swap loop. It
// takes no lock and skips the OnState chain; fn may run more than once.
func (e *Engine[S, I, A]) UpdateStateImmediate(fn func(s S) S) {
	e.state.modify(fn)
}

// Send enqueues intent without blocking.
//
// A full queue applies the overflow policy; under Suspend the new intent
// is dropped. Dropped intents go to OnUndeliveredIntent. Only the Fail
// policy reports the overflow, as ErrQueueFull.
func (e *Engine[S, I, A]) Send(intent I) error {
	r := e.active()
	if r == nil {
		return NewUsageError(e.identity, "send", ErrNotRunning)
	}
	intent, ok := e.plugin.IntentEnqueue(intent)
	if !ok {
		return nil
	}
	dropped, err := r.intents.offer(intent)
	return e.afterEnqueue(intent, dropped, err, "send")
}

// Submit enqueues intent, waiting for space when the queue is full and
// the policy is Suspend.
func (e *Engine[S, I, A]) Submit(ctx context.Context, intent I) error {
	r := e.active()
	if r == nil {
		return NewUsageError(e.identity, "submit", ErrNotRunning)
	}
	intent, ok := e.plugin.IntentEnqueue(intent)
	if !ok {
		return nil
	}
	dropped, err := r.intents.put(ctx, intent)
	return e.afterEnqueue(intent, dropped, err, "submit")
}

func (e *Engine[S, I, A]) afterEnqueue(intent I, dropped []I, err error, op string) error {
	for _, d := range dropped {
		e.undeliveredIntent(d)
	}
	if err == nil {
		return nil
	}
	e.undeliveredIntent(intent)
	switch {
	case errors.Is(err, ErrNotRunning):
		return NewUsageError(e.identity, op, err)
	case errors.Is(err, ErrQueueFull):
		return NewRecoverableError(e.identity, op, err)
	default:
		return err
	}
}

// Emit publishes action, waiting for buffer space under the Suspend
// policy. The OnAction chain runs first and may veto or replace it.
func (e *Engine[S, I, A]) Emit(ctx context.Context, action A) error {
	return e.emit(ctx, action, true)
}

// Action publishes action without blocking.
func (e *Engine[S, I, A]) Action(action A) error {
	return e.emit(context.Background(), action, false)
}

func (e *Engine[S, I, A]) emit(ctx context.Context, action A, block bool) error {
	if e.cfg.Actions.Strategy == ActionsDisabled {
		return NewUsageError(e.identity, "emit", ErrActionsDisabled)
	}
	if e.active() == nil {
		return NewUsageError(e.identity, "emit", ErrNotRunning)
	}

	action, ok, err := e.plugin.Action(ctx, e, action)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	dropped, err := e.actions.emit(ctx, action, block)
	for _, d := range dropped {
		e.undeliveredAction(d)
	}
	if errors.Is(err, ErrNotRunning) {
		return NewUsageError(e.identity, "emit", err)
	}
	return err
}

// Launch runs fn on a child goroutine of the active run. Errors other than
// those caused by cancellation go through exception handling. Returns nil
// when no run is active.
func (e *Engine[S, I, A]) Launch(fn func(ctx context.Context) error) context.CancelFunc {
	r := e.active()
	if r == nil {
		return nil
	}
	return r.launch(func(ctx context.Context) {
		err := protect(func() error { return fn(ctx) })
		if err != nil && ctx.Err() == nil {
			e.handleException(ctx, r, err)
		}
	})
}

// Subscribe attaches onState and onAction (either may be nil) to the
// engine until ctx is done or the subscription is closed.
//
// onState receives the latest State, skipping intermediate values when the
// subscriber is slow; versions never go backwards. onAction receives
// actions according to the action strategy. Callbacks run on goroutines
// owned by the subscription and must not call Close on it.
func (e *Engine[S, I, A]) Subscribe(ctx context.Context, onState func(S), onAction func(A)) (*Subscription[S], error) {
	var sink *actionSink[A]
	if onAction != nil {
		var err error
		if sink, err = e.actions.subscribe(); err != nil {
			return nil, NewUsageError(e.identity, "subscribe", err)
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[S]{cancel: cancel, done: make(chan struct{})}
	first, _ := e.state.observe()
	sub.latest.Store(first)

	e.subs.add(1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.deliverStates(sctx, sub, onState)
	}()
	if sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.deliverActions(sctx, sink, onAction)
		}()
	}

	go func() {
		<-sctx.Done()
		wg.Wait()
		sub.release.Do(func() {
			if sink != nil {
				for _, a := range e.actions.unsubscribe(sink) {
					e.undeliveredAction(a)
				}
			}
			e.subs.add(-1)
			close(sub.done)
		})
	}()

	return sub, nil
}

func (e *Engine[S, I, A]) deliverStates(ctx context.Context, sub *Subscription[S], onState func(S)) {
	var last int64
	for {
		snap, changed := e.state.observe()
		if snap.version > last {
			last = snap.version
			sub.latest.Store(snap)
			if onState != nil {
				if err := protect(func() error { onState(snap.value); return nil }); err != nil {
					e.logger.Error("state subscriber panicked", "error", err)
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

func (e *Engine[S, I, A]) deliverActions(ctx context.Context, sink *actionSink[A], onAction func(A)) {
	for {
		action, err := e.actions.next(ctx, sink)
		if err != nil {
			return
		}
		r := e.run.Load()
		if r == nil {
			continue
		}
		err = protect(func() error {
			a, ok, err := e.plugin.ActionDispatch(r.ctx, e, action)
			if err != nil || !ok {
				return err
			}
			onAction(a)
			return nil
		})
		if err != nil {
			e.handleException(r.ctx, r, err)
		}
	}
}

func (e *Engine[S, I, A]) undeliveredIntent(intent I) {
	if err := protect(func() error { e.plugin.UndeliveredIntent(intent); return nil }); err != nil {
		e.logger.Error("undelivered intent hook failed", "error", err)
	}
}

func (e *Engine[S, I, A]) undeliveredAction(action A) {
	if err := protect(func() error { e.plugin.UndeliveredAction(action); return nil }); err != nil {
		e.logger.Error("undelivered action hook failed", "error", err)
	}
}

// active returns the current run if it accepts work.
func (e *Engine[S, I, A]) active() *run[I] {
	switch e.Phase() {
	case PhaseStarting, PhaseRunning:
		return e.run.Load()
	default:
		return nil
	}
}

var _ Pipeline[int, string, string] = (*Engine[int, string, string])(nil)
