package plugins

import (
	"context"
	"sync"

	"github.com/roach88/mvistore/internal/engine"
)

// Progress counts intents whose handling finished, whatever the outcome.
// Drivers use Wait to know when a batch of sent intents went through the
// chain.
type Progress struct {
	mu      sync.Mutex
	done    int
	changed chan struct{}
}

// NewProgress creates a counter at zero.
func NewProgress() *Progress {
	return &Progress{changed: make(chan struct{})}
}

// Done returns the number of finished intents.
func (pr *Progress) Done() int {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.done
}

// Wait blocks until at least n intents finished or ctx is done.
func (pr *Progress) Wait(ctx context.Context, n int) error {
	for {
		pr.mu.Lock()
		if pr.done >= n {
			pr.mu.Unlock()
			return nil
		}
		changed := pr.changed
		pr.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (pr *Progress) tick() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.done++
	close(pr.changed)
	pr.changed = make(chan struct{})
}

// Tracked is a decorator that ticks pr after the child handled an intent.
// An intent that failed ticks once the child's OnException saw the error,
// so recovery work is done by the time Wait returns. Undelivered intents
// tick too, so Wait does not hang on dropped intents.
func Tracked[S, I, A any](pr *Progress) engine.Decorator[S, I, A] {
	return engine.Decorator[S, I, A]{
		Name: "tracked",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			out, ok, err := child.Intent(ctx, p, intent)
			if err == nil {
				pr.tick()
			}
			return out, ok, err
		},
		OnException: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], err error) error {
			defer pr.tick()
			return child.Exception(ctx, p, err)
		},
		OnUndeliveredIntent: func(child engine.Plugin[S, I, A], intent I) {
			defer pr.tick()
			child.UndeliveredIntent(intent)
		},
	}
}
