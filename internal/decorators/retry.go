package decorators

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/mvistore/internal/engine"
)

// RetryStrategy decides how many times and with which delays a failing
// hook is retried.
type RetryStrategy struct {
	// Retries is the number of attempts after the first one.
	Retries int

	newBackOff func() backoff.BackOff
}

// Exponential doubles the delay after every retry, starting at initial.
func Exponential(retries int, initial time.Duration) RetryStrategy {
	return RetryStrategy{
		Retries: retries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.RandomizationFactor = 0
			b.Multiplier = 2
			b.MaxInterval = backoff.DefaultMaxInterval
			return b
		},
	}
}

// Fixed waits delay between retries.
func Fixed(retries int, delay time.Duration) RetryStrategy {
	return RetryStrategy{
		Retries:    retries,
		newBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(delay) },
	}
}

// Immediate retries without waiting.
func Immediate(retries int) RetryStrategy {
	return RetryStrategy{
		Retries:    retries,
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

// Once retries a single time without waiting.
var Once = Immediate(1)

// Delays returns the schedule the strategy would wait through, without
// waiting. Useful for logging and tests.
func (s RetryStrategy) Delays() []time.Duration {
	b := s.backOff()
	out := make([]time.Duration, 0, s.Retries)
	for i := 0; i < s.Retries; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		out = append(out, d)
	}
	return out
}

func (s RetryStrategy) backOff() backoff.BackOff {
	if s.newBackOff == nil {
		return &backoff.ZeroBackOff{}
	}
	b := s.newBackOff()
	b.Reset()
	return b
}

// retry runs attempt until it succeeds, the selector rejects the error,
// the strategy runs out of retries or ctx is done. The last error is
// returned.
func retry(ctx context.Context, s RetryStrategy, selector func(error) bool, attempt func() error) error {
	err := attempt()
	if err == nil {
		return nil
	}

	b := s.backOff()
	for n := 0; n < s.Retries; n++ {
		if selector != nil && !selector(err) {
			return err
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			return err
		}
		if d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = attempt(); err == nil {
			return nil
		}
	}
	return err
}

// RetryIntents re-runs the child's OnIntent while it fails with an error
// accepted by selector (nil accepts every error).
func RetryIntents[S, I, A any](s RetryStrategy, selector func(error) bool) engine.Decorator[S, I, A] {
	return engine.Decorator[S, I, A]{
		Name: "retry_intents",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			var out I
			var ok bool
			err := retry(ctx, s, selector, func() error {
				var err error
				out, ok, err = child.Intent(ctx, p, intent)
				return err
			})
			return out, ok, err
		},
	}
}

// RetryActions re-runs the child's OnAction while it fails.
func RetryActions[S, I, A any](s RetryStrategy, selector func(error) bool) engine.Decorator[S, I, A] {
	return engine.Decorator[S, I, A]{
		Name: "retry_actions",
		OnAction: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], action A) (A, bool, error) {
			var out A
			var ok bool
			err := retry(ctx, s, selector, func() error {
				var err error
				out, ok, err = child.Action(ctx, p, action)
				return err
			})
			return out, ok, err
		},
	}
}
