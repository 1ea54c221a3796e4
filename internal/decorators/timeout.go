package decorators

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/roach88/mvistore/internal/engine"
)

// ErrIntentTimeout is returned when a child does not finish in time and
// no fallback is configured. A timed-out child also gets it from every
// write it attempts after the deadline.
var ErrIntentTimeout = errors.New("intent timed out")

// Fallback produces the result of an intent whose handler timed out.
type Fallback[S, I, A any] func(ctx context.Context, p engine.Pipeline[S, I, A], intent I) (I, bool, error)

type intentResult[I any] struct {
	intent I
	ok     bool
	err    error
}

// TimeoutIntents runs the child's OnIntent with a deadline of d. When the
// deadline passes the child is cancelled and fallback's result is used
// instead (nil fallback: ErrIntentTimeout). d <= 0 disables the timeout.
//
// The child runs on a goroutine of the engine run, so stopping the engine
// waits for it. Once the deadline passed its state updates, sends and
// emits are refused.
func TimeoutIntents[S, I, A any](d time.Duration, fallback Fallback[S, I, A]) engine.Decorator[S, I, A] {
	return engine.Decorator[S, I, A]{
		Name: "timeout_intents",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			if d <= 0 {
				return child.Intent(ctx, p, intent)
			}

			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			guarded := &expiringPipeline[S, I, A]{Pipeline: p}
			done := make(chan intentResult[I], 1)
			launched := p.Launch(func(context.Context) error {
				var res intentResult[I]
				defer func() {
					if r := recover(); r != nil {
						res.err = &engine.PanicError{Value: r, Stack: debug.Stack()}
					}
					done <- res
				}()
				res.intent, res.ok, res.err = child.Intent(tctx, guarded, intent)
				return nil
			})
			if launched == nil {
				var zero I
				if err := ctx.Err(); err != nil {
					return zero, false, err
				}
				return zero, false, engine.ErrNotRunning
			}

			select {
			case res := <-done:
				return res.intent, res.ok, res.err
			case <-tctx.Done():
			}

			// A result that raced the deadline still wins.
			select {
			case res := <-done:
				return res.intent, res.ok, res.err
			default:
			}
			guarded.expire()

			if ctx.Err() != nil {
				var zero I
				return zero, false, ctx.Err()
			}
			if fallback == nil {
				var zero I
				return zero, false, fmt.Errorf("%w after %s", ErrIntentTimeout, d)
			}
			return fallback(ctx, p, intent)
		},
	}
}

// expiringPipeline refuses writes once expired.
type expiringPipeline[S, I, A any] struct {
	engine.Pipeline[S, I, A]
	expired atomic.Bool
}

func (p *expiringPipeline[S, I, A]) expire() {
	p.expired.Store(true)
}

func (p *expiringPipeline[S, I, A]) UpdateState(ctx context.Context, fn func(ctx context.Context, s S) (S, error)) error {
	if p.expired.Load() {
		return ErrIntentTimeout
	}
	return p.Pipeline.UpdateState(ctx, func(ctx context.Context, s S) (S, error) {
		next, err := fn(ctx, s)
		if err == nil && p.expired.Load() {
			return s, ErrIntentTimeout
		}
		return next, err
	})
}

func (p *expiringPipeline[S, I, A]) UpdateStateImmediate(fn func(s S) S) {
	if p.expired.Load() {
		return
	}
	p.Pipeline.UpdateStateImmediate(fn)
}

func (p *expiringPipeline[S, I, A]) Send(intent I) error {
	if p.expired.Load() {
		return ErrIntentTimeout
	}
	return p.Pipeline.Send(intent)
}

func (p *expiringPipeline[S, I, A]) Submit(ctx context.Context, intent I) error {
	if p.expired.Load() {
		return ErrIntentTimeout
	}
	return p.Pipeline.Submit(ctx, intent)
}

func (p *expiringPipeline[S, I, A]) Emit(ctx context.Context, action A) error {
	if p.expired.Load() {
		return ErrIntentTimeout
	}
	return p.Pipeline.Emit(ctx, action)
}

func (p *expiringPipeline[S, I, A]) Action(action A) error {
	if p.expired.Load() {
		return ErrIntentTimeout
	}
	return p.Pipeline.Action(action)
}
