package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Phase is the lifecycle phase of an engine.
type Phase int32

const (
	PhaseCreated Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// run is the scope of one Start..Stopped cycle.
type run[I any] struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	intents *queue[I]
	handle  *Handle
	sem     *semaphore.Weighted

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	fatal   error
}

// launch starts fn on a child goroutine tracked by the run. After teardown
// began it returns nil and fn never runs.
func (r *run[I]) launch(fn func(ctx context.Context)) context.CancelFunc {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil
	}
	r.wg.Add(1)
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(r.ctx)
	go func() {
		defer r.wg.Done()
		defer cancel()
		fn(ctx)
	}()
	return cancel
}

// fail records the first fatal error and cancels the run.
func (r *run[I]) fail(err error) {
	r.mu.Lock()
	if r.fatal == nil {
		r.fatal = err
	}
	r.mu.Unlock()
	r.cancel(err)
}

func (r *run[I]) fatalErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// wait blocks new children and waits for the running ones.
func (r *run[I]) wait() {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	r.wg.Wait()
}

// Start begins a run bound to ctx and returns its handle.
//
// Start returns immediately; OnStart hooks run on the processing
// goroutine. Intents sent while they run are queued. Starting an engine
// that has not stopped yet fails with ErrAlreadyStarted.
func (e *Engine[S, I, A]) Start(ctx context.Context) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.Phase() {
	case PhaseStarting, PhaseRunning, PhaseStopping:
		return nil, NewUsageError(e.identity, "start", ErrAlreadyStarted)
	}

	rctx, cancel := context.WithCancelCause(ctx)
	r := &run[I]{
		ctx:     rctx,
		cancel:  cancel,
		intents: newQueue[I](e.cfg.IntentCapacity, e.cfg.IntentOverflow),
	}
	r.handle = newHandle(func() { cancel(nil) })
	if e.cfg.ParallelIntents && e.cfg.MaxParallelIntents > 0 {
		r.sem = semaphore.NewWeighted(int64(e.cfg.MaxParallelIntents))
	}

	e.run.Store(r)
	e.phase.Store(int32(PhaseStarting))

	go e.loop(r)

	return r.handle, nil
}

// Close stops the current run, if any, without waiting.
func (e *Engine[S, I, A]) Close() {
	if r := e.run.Load(); r != nil {
		r.cancel(nil)
	}
}

// Stop stops the current run and waits until it is fully stopped.
func (e *Engine[S, I, A]) Stop(ctx context.Context) error {
	r := e.run.Load()
	if r == nil {
		return nil
	}
	r.cancel(nil)
	return r.handle.AwaitStopped(ctx)
}

func (e *Engine[S, I, A]) loop(r *run[I]) {
	defer e.teardown(r)

	e.logger.Info("engine starting")
	e.state.unseal()
	e.actions.start()
	notices := e.subs.attach()

	if err := protect(func() error { return e.plugin.Start(r.ctx, e) }); err != nil {
		e.handleException(r.ctx, r, err)
	}
	if r.ctx.Err() != nil {
		return
	}

	e.phase.Store(int32(PhaseRunning))
	r.handle.markStarted()
	e.logger.Info("engine running")

	r.launch(func(ctx context.Context) { e.dispatchSubscriptions(ctx, r, notices) })

	for {
		intent, err := r.intents.take(r.ctx)
		if err != nil {
			return
		}
		if r.ctx.Err() != nil {
			e.undeliveredIntent(intent)
			return
		}

		if !e.cfg.ParallelIntents {
			e.processIntent(r.ctx, r, intent)
			continue
		}

		if r.sem != nil {
			if err := r.sem.Acquire(r.ctx, 1); err != nil {
				e.undeliveredIntent(intent)
				return
			}
		}
		cancel := r.launch(func(ctx context.Context) {
			if r.sem != nil {
				defer r.sem.Release(1)
			}
			e.processIntent(ctx, r, intent)
		})
		if cancel == nil {
			if r.sem != nil {
				r.sem.Release(1)
			}
			e.undeliveredIntent(intent)
		}
	}
}

// processIntent feeds one intent to the OnIntent chain. An intent that
// comes out of the chain without a veto was not handled. An intent whose
// chain fails after the run began stopping was cut off and is reported
// as undelivered.
func (e *Engine[S, I, A]) processIntent(ctx context.Context, r *run[I], intent I) {
	var out I
	var unhandled bool
	err := protect(func() error {
		var err error
		out, unhandled, err = e.plugin.Intent(ctx, e, intent)
		return err
	})
	if err != nil && r.ctx.Err() != nil {
		e.undeliveredIntent(intent)
		return
	}
	if err != nil {
		e.handleException(ctx, r, err)
		return
	}
	if !unhandled {
		return
	}
	if e.cfg.Debug {
		r.fail(NewUsageError(e.identity, "intent", fmt.Errorf("%w: %v", ErrUnhandledIntent, out)))
		return
	}
	e.logger.Warn("intent was not handled", "intent", fmt.Sprintf("%v", out))
}

type exceptionKey struct{}

// handleException offers err to the OnException chain. An error that
// escapes the chain, a usage error, or any error raised while an
// exception is already being handled stops the run.
func (e *Engine[S, I, A]) handleException(ctx context.Context, r *run[I], err error) {
	if r.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return
	}
	if IsUsage(err) || ctx.Value(exceptionKey{}) != nil {
		r.fail(err)
		return
	}

	hctx := context.WithValue(ctx, exceptionKey{}, true)
	var rest error
	if perr := protect(func() error {
		rest = e.plugin.Exception(hctx, e, err)
		return nil
	}); perr != nil {
		r.fail(perr)
		return
	}
	if rest != nil {
		r.fail(rest)
		return
	}
	e.logger.Debug("exception handled", "error", err)
}

// dispatchSubscriptions delivers subscriber-count transitions to the
// plugin, in order, from a single goroutine.
func (e *Engine[S, I, A]) dispatchSubscriptions(ctx context.Context, r *run[I], notices *queue[SubscriberCount]) {
	for {
		change, err := notices.take(ctx)
		if err != nil {
			return
		}
		err = protect(func() error {
			if change.Subscribed() {
				e.plugin.Subscribe(ctx, e, change.Current)
			} else {
				e.plugin.Unsubscribe(ctx, e, change.Current)
			}
			return nil
		})
		if err != nil {
			e.handleException(ctx, r, err)
		}
	}
}

// teardown stops a run: cancel, await children, drain, OnStop, Stopped.
func (e *Engine[S, I, A]) teardown(r *run[I]) {
	e.phase.Store(int32(PhaseStopping))
	e.logger.Info("engine stopping")

	r.cancel(nil)
	r.wait()

	e.subs.detach()
	e.state.seal()
	for _, intent := range r.intents.close() {
		e.undeliveredIntent(intent)
	}
	for _, action := range e.actions.stop() {
		e.undeliveredAction(action)
	}

	fatal := r.fatalErr()
	stopCtx := context.WithoutCancel(r.ctx)
	if err := protect(func() error { e.plugin.Stop(stopCtx, e, fatal); return nil }); err != nil {
		e.logger.Error("stop hook failed", "error", err)
	}

	e.mu.Lock()
	e.phase.Store(int32(PhaseStopped))
	e.mu.Unlock()
	r.handle.markStopped(fatal)

	if fatal != nil {
		e.logger.Error("engine stopped", "error", fatal)
	} else {
		e.logger.Info("engine stopped")
	}
}
