package plugins

import (
	"context"
	"sync"

	"github.com/roach88/mvistore/internal/engine"
)

// WhileSubscribed runs fn while at least threshold subscribers are attached.
// fn is launched when the count reaches threshold and cancelled when it drops
// below; it starts again on the next rise. threshold < 1 is treated as 1.
func WhileSubscribed[S, I, A any](threshold int, fn func(ctx context.Context, p engine.Pipeline[S, I, A]) error) engine.Plugin[S, I, A] {
	threshold = max(threshold, 1)

	var mu sync.Mutex
	var cancel context.CancelFunc

	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		if cancel != nil {
			cancel()
			cancel = nil
		}
	}

	return engine.Plugin[S, I, A]{
		Name: "while_subscribed",
		OnSubscribe: func(_ context.Context, p engine.Pipeline[S, I, A], n int) {
			if n < threshold {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if cancel != nil {
				return
			}
			cancel = p.Launch(func(ctx context.Context) error {
				return fn(ctx, p)
			})
		},
		OnUnsubscribe: func(_ context.Context, _ engine.Pipeline[S, I, A], n int) {
			if n < threshold {
				stop()
			}
		},
		OnStop: func(context.Context, engine.Pipeline[S, I, A], error) {
			stop()
		},
	}
}
