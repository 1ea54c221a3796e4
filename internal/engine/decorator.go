package engine

import "context"

// Decorator wraps a child plugin. Each hook receives the child and decides
// whether, when and how often the child's hook runs. Absent hooks pass
// straight through to the child.
type Decorator[S, I, A any] struct {
	Name string

	OnStart func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A]) error
	OnStop  func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], err error)

	// OnIntentEnqueue runs on the producer goroutine, like the plugin hook.
	OnIntentEnqueue func(child Plugin[S, I, A], intent I) (I, bool)

	OnIntent         func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], intent I) (I, bool, error)
	OnAction         func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], action A) (A, bool, error)
	OnActionDispatch func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], action A) (A, bool, error)
	OnState          func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], old, new S) (S, bool, error)
	OnException      func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], err error) error

	OnSubscribe   func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], subscribers int)
	OnUnsubscribe func(ctx context.Context, p Pipeline[S, I, A], child Plugin[S, I, A], subscribers int)

	OnUndeliveredIntent func(child Plugin[S, I, A], intent I)
	OnUndeliveredAction func(child Plugin[S, I, A], action A)
}

// Wrap returns a plugin that routes every hook through the decorator. The
// result keeps the child's name.
func (d Decorator[S, I, A]) Wrap(child Plugin[S, I, A]) Plugin[S, I, A] {
	out := child

	if d.OnStart != nil {
		out.OnStart = func(ctx context.Context, p Pipeline[S, I, A]) error {
			return d.OnStart(ctx, p, child)
		}
	}
	if d.OnStop != nil {
		out.OnStop = func(ctx context.Context, p Pipeline[S, I, A], err error) {
			d.OnStop(ctx, p, child, err)
		}
	}
	if d.OnIntentEnqueue != nil {
		out.OnIntentEnqueue = func(intent I) (I, bool) {
			return d.OnIntentEnqueue(child, intent)
		}
	}
	if d.OnIntent != nil {
		out.OnIntent = func(ctx context.Context, p Pipeline[S, I, A], intent I) (I, bool, error) {
			return d.OnIntent(ctx, p, child, intent)
		}
	}
	if d.OnAction != nil {
		out.OnAction = func(ctx context.Context, p Pipeline[S, I, A], action A) (A, bool, error) {
			return d.OnAction(ctx, p, child, action)
		}
	}
	if d.OnActionDispatch != nil {
		out.OnActionDispatch = func(ctx context.Context, p Pipeline[S, I, A], action A) (A, bool, error) {
			return d.OnActionDispatch(ctx, p, child, action)
		}
	}
	if d.OnState != nil {
		out.OnState = func(ctx context.Context, p Pipeline[S, I, A], old, new S) (S, bool, error) {
			return d.OnState(ctx, p, child, old, new)
		}
	}
	if d.OnException != nil {
		out.OnException = func(ctx context.Context, p Pipeline[S, I, A], err error) error {
			return d.OnException(ctx, p, child, err)
		}
	}
	if d.OnSubscribe != nil {
		out.OnSubscribe = func(ctx context.Context, p Pipeline[S, I, A], n int) {
			d.OnSubscribe(ctx, p, child, n)
		}
	}
	if d.OnUnsubscribe != nil {
		out.OnUnsubscribe = func(ctx context.Context, p Pipeline[S, I, A], n int) {
			d.OnUnsubscribe(ctx, p, child, n)
		}
	}
	if d.OnUndeliveredIntent != nil {
		out.OnUndeliveredIntent = func(intent I) {
			d.OnUndeliveredIntent(child, intent)
		}
	}
	if d.OnUndeliveredAction != nil {
		out.OnUndeliveredAction = func(action A) {
			d.OnUndeliveredAction(child, action)
		}
	}
	return out
}

// Decorate applies decorators to child. The first decorator is the
// outermost: it sees every event first and decides what reaches the rest.
func Decorate[S, I, A any](child Plugin[S, I, A], decorators ...Decorator[S, I, A]) Plugin[S, I, A] {
	for i := len(decorators) - 1; i >= 0; i-- {
		child = decorators[i].Wrap(child)
	}
	return child
}
