package decorators

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/mvistore/internal/engine"
)

// BatchMode selects when a batch is flushed.
type BatchMode struct {
	size   int
	window time.Duration
}

// BatchAmount flushes whenever n intents are buffered.
func BatchAmount(n int) BatchMode {
	return BatchMode{size: max(n, 1)}
}

// BatchTime flushes every d.
func BatchTime(d time.Duration) BatchMode {
	return BatchMode{window: d}
}

// BatchIntents buffers intents and forwards them to the child in arrival
// order when the batch is flushed. On stop every buffered intent is
// forwarded before the child's OnStop runs.
func BatchIntents[S, I, A any](mode BatchMode) engine.Decorator[S, I, A] {
	var mu sync.Mutex
	var buf []I

	flush := func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A]) error {
		mu.Lock()
		items := buf
		buf = nil
		mu.Unlock()

		var errs []error
		for _, intent := range items {
			if _, _, err := child.Intent(ctx, p, intent); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return engine.Decorator[S, I, A]{
		Name: "batch_intents",
		OnStart: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A]) error {
			if mode.window > 0 {
				p.Launch(func(ctx context.Context) error {
					ticker := time.NewTicker(mode.window)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							if err := flush(ctx, p, child); err != nil {
								return err
							}
						}
					}
				})
			}
			return child.Start(ctx, p)
		},
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			mu.Lock()
			buf = append(buf, intent)
			full := mode.size > 0 && len(buf) >= mode.size
			mu.Unlock()

			var zero I
			if full {
				return zero, false, flush(ctx, p, child)
			}
			return zero, false, nil
		},
		OnStop: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], err error) {
			if ferr := flush(ctx, p, child); ferr != nil {
				p.Logger().Error("flushing batch on stop", "error", ferr)
			}
			child.Stop(ctx, p, err)
		},
	}
}
