package decorators

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/mvistore/internal/engine"
)

// DebounceIntents delays every intent by timeout and drops it when a newer
// intent arrives first: only the last intent of a burst reaches the child.
// A timeout <= 0 delivers synchronously. Pending intents die with the run.
func DebounceIntents[S, I, A any](timeout time.Duration) engine.Decorator[S, I, A] {
	var mu sync.Mutex
	var cancel context.CancelFunc
	var generation uint64

	return engine.Decorator[S, I, A]{
		Name: "debounce_intents",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			if timeout <= 0 {
				return child.Intent(ctx, p, intent)
			}

			mu.Lock()
			defer mu.Unlock()

			if cancel != nil {
				cancel()
			}
			generation++
			mine := generation

			cancel = p.Launch(func(ctx context.Context) error {
				t := time.NewTimer(timeout)
				defer t.Stop()
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}

				mu.Lock()
				if generation != mine {
					mu.Unlock()
					return nil
				}
				cancel = nil
				mu.Unlock()

				_, _, err := child.Intent(ctx, p, intent)
				return err
			})
			if cancel == nil {
				// No active run to wait in: deliver now.
				return child.Intent(ctx, p, intent)
			}

			var zero I
			return zero, false, nil
		},
		OnStop: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], err error) {
			mu.Lock()
			if cancel != nil {
				cancel()
				cancel = nil
			}
			mu.Unlock()
			child.Stop(ctx, p, err)
		},
	}
}
