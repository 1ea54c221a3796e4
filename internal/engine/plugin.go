package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Plugin is a named set of optional hooks. A nil hook is absent.
//
// Value hooks return the (possibly replaced) value and ok; ok == false is a
// veto that stops the chain. OnException returns nil when it handled the
// error and the error (or a replacement) to pass it on.
type Plugin[S, I, A any] struct {
	Name string

	OnStart func(ctx context.Context, p Pipeline[S, I, A]) error
	OnStop  func(ctx context.Context, p Pipeline[S, I, A], err error)

	// OnIntentEnqueue runs on the producer goroutine before the intent is
	// queued.
	OnIntentEnqueue func(intent I) (I, bool)

	OnIntent         func(ctx context.Context, p Pipeline[S, I, A], intent I) (I, bool, error)
	OnAction         func(ctx context.Context, p Pipeline[S, I, A], action A) (A, bool, error)
	OnActionDispatch func(ctx context.Context, p Pipeline[S, I, A], action A) (A, bool, error)
	OnState          func(ctx context.Context, p Pipeline[S, I, A], old, new S) (S, bool, error)
	OnException      func(ctx context.Context, p Pipeline[S, I, A], err error) error

	OnSubscribe   func(ctx context.Context, p Pipeline[S, I, A], subscribers int)
	OnUnsubscribe func(ctx context.Context, p Pipeline[S, I, A], subscribers int)

	OnUndeliveredIntent func(intent I)
	OnUndeliveredAction func(action A)
}

// The methods below invoke a hook, treating an absent hook as pass-through.

func (pl Plugin[S, I, A]) Start(ctx context.Context, p Pipeline[S, I, A]) error {
	if pl.OnStart == nil {
		return nil
	}
	return pl.OnStart(ctx, p)
}

func (pl Plugin[S, I, A]) Stop(ctx context.Context, p Pipeline[S, I, A], err error) {
	if pl.OnStop != nil {
		pl.OnStop(ctx, p, err)
	}
}

func (pl Plugin[S, I, A]) IntentEnqueue(intent I) (I, bool) {
	if pl.OnIntentEnqueue == nil {
		return intent, true
	}
	return pl.OnIntentEnqueue(intent)
}

func (pl Plugin[S, I, A]) Intent(ctx context.Context, p Pipeline[S, I, A], intent I) (I, bool, error) {
	if pl.OnIntent == nil {
		return intent, true, nil
	}
	return pl.OnIntent(ctx, p, intent)
}

func (pl Plugin[S, I, A]) Action(ctx context.Context, p Pipeline[S, I, A], action A) (A, bool, error) {
	if pl.OnAction == nil {
		return action, true, nil
	}
	return pl.OnAction(ctx, p, action)
}

func (pl Plugin[S, I, A]) ActionDispatch(ctx context.Context, p Pipeline[S, I, A], action A) (A, bool, error) {
	if pl.OnActionDispatch == nil {
		return action, true, nil
	}
	return pl.OnActionDispatch(ctx, p, action)
}

func (pl Plugin[S, I, A]) State(ctx context.Context, p Pipeline[S, I, A], old, new S) (S, bool, error) {
	if pl.OnState == nil {
		return new, true, nil
	}
	return pl.OnState(ctx, p, old, new)
}

func (pl Plugin[S, I, A]) Exception(ctx context.Context, p Pipeline[S, I, A], err error) error {
	if pl.OnException == nil {
		return err
	}
	return pl.OnException(ctx, p, err)
}

func (pl Plugin[S, I, A]) Subscribe(ctx context.Context, p Pipeline[S, I, A], subscribers int) {
	if pl.OnSubscribe != nil {
		pl.OnSubscribe(ctx, p, subscribers)
	}
}

func (pl Plugin[S, I, A]) Unsubscribe(ctx context.Context, p Pipeline[S, I, A], subscribers int) {
	if pl.OnUnsubscribe != nil {
		pl.OnUnsubscribe(ctx, p, subscribers)
	}
}

func (pl Plugin[S, I, A]) UndeliveredIntent(intent I) {
	if pl.OnUndeliveredIntent != nil {
		pl.OnUndeliveredIntent(intent)
	}
}

func (pl Plugin[S, I, A]) UndeliveredAction(action A) {
	if pl.OnUndeliveredAction != nil {
		pl.OnUndeliveredAction(action)
	}
}

// Compose folds plugins into one, hook by hook, in registration order.
//
// Value hooks form a pipe: each plugin receives the previous plugin's
// output and a veto or error stops the chain. OnException passes the error
// along until a plugin returns nil. Lifecycle, subscription and
// undelivered hooks reach every plugin; OnStart errors are joined.
//
// Names must be unique among non-empty names.
func Compose[S, I, A any](name string, plugins ...Plugin[S, I, A]) (Plugin[S, I, A], error) {
	seen := make(map[string]bool, len(plugins))
	for _, pl := range plugins {
		if pl.Name == "" {
			continue
		}
		if seen[pl.Name] {
			return Plugin[S, I, A]{}, NewUsageError(name, "compose", fmt.Errorf("%w: %q", ErrDuplicatePlugin, pl.Name))
		}
		seen[pl.Name] = true
	}

	out := Plugin[S, I, A]{Name: name}

	if hs := collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A]) error { return pl.OnStart }); len(hs) > 0 {
		out.OnStart = func(ctx context.Context, p Pipeline[S, I, A]) error {
			var errs []error
			for _, h := range hs {
				if err := protect(func() error { return h(ctx, p) }); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}
	}

	if hs := collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], error) { return pl.OnStop }); len(hs) > 0 {
		out.OnStop = func(ctx context.Context, p Pipeline[S, I, A], err error) {
			for _, h := range hs {
				if perr := protect(func() error { h(ctx, p, err); return nil }); perr != nil {
					p.Logger().Error("stop hook failed", "error", perr)
				}
			}
		}
	}

	if hs := collect(plugins, func(pl Plugin[S, I, A]) func(I) (I, bool) { return pl.OnIntentEnqueue }); len(hs) > 0 {
		out.OnIntentEnqueue = func(intent I) (I, bool) {
			for _, h := range hs {
				var ok bool
				if intent, ok = h(intent); !ok {
					return intent, false
				}
			}
			return intent, true
		}
	}

	out.OnIntent = pipe(collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], I) (I, bool, error) {
		return pl.OnIntent
	}))
	out.OnAction = pipe(collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], A) (A, bool, error) {
		return pl.OnAction
	}))
	out.OnActionDispatch = pipe(collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], A) (A, bool, error) {
		return pl.OnActionDispatch
	}))

	if hs := collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], S, S) (S, bool, error) {
		return pl.OnState
	}); len(hs) > 0 {
		out.OnState = func(ctx context.Context, p Pipeline[S, I, A], old, new S) (S, bool, error) {
			for _, h := range hs {
				var ok bool
				var err error
				if new, ok, err = h(ctx, p, old, new); err != nil || !ok {
					return new, ok, err
				}
			}
			return new, true, nil
		}
	}

	if hs := collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], error) error { return pl.OnException }); len(hs) > 0 {
		out.OnException = func(ctx context.Context, p Pipeline[S, I, A], err error) error {
			for _, h := range hs {
				if err = h(ctx, p, err); err == nil {
					return nil
				}
			}
			return err
		}
	}

	out.OnSubscribe = broadcastCount(collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], int) { return pl.OnSubscribe }))
	out.OnUnsubscribe = broadcastCount(collect(plugins, func(pl Plugin[S, I, A]) func(context.Context, Pipeline[S, I, A], int) { return pl.OnUnsubscribe }))

	if hs := collect(plugins, func(pl Plugin[S, I, A]) func(I) { return pl.OnUndeliveredIntent }); len(hs) > 0 {
		out.OnUndeliveredIntent = func(intent I) {
			for _, h := range hs {
				h(intent)
			}
		}
	}
	if hs := collect(plugins, func(pl Plugin[S, I, A]) func(A) { return pl.OnUndeliveredAction }); len(hs) > 0 {
		out.OnUndeliveredAction = func(action A) {
			for _, h := range hs {
				h(action)
			}
		}
	}

	return out, nil
}

// MustCompose is Compose that panics on duplicate names.
func MustCompose[S, I, A any](name string, plugins ...Plugin[S, I, A]) Plugin[S, I, A] {
	pl, err := Compose(name, plugins...)
	if err != nil {
		panic(err)
	}
	return pl
}

func collect[S, I, A any, H any](plugins []Plugin[S, I, A], get func(Plugin[S, I, A]) H) []H {
	var hs []H
	for _, pl := range plugins {
		h := get(pl)
		if !isNilFunc(h) {
			hs = append(hs, h)
		}
	}
	return hs
}

func pipe[S, I, A any, V any](hs []func(context.Context, Pipeline[S, I, A], V) (V, bool, error)) func(context.Context, Pipeline[S, I, A], V) (V, bool, error) {
	if len(hs) == 0 {
		return nil
	}
	return func(ctx context.Context, p Pipeline[S, I, A], v V) (V, bool, error) {
		for _, h := range hs {
			var ok bool
			var err error
			if v, ok, err = h(ctx, p, v); err != nil || !ok {
				return v, ok, err
			}
		}
		return v, true, nil
	}
}

func broadcastCount[S, I, A any](hs []func(context.Context, Pipeline[S, I, A], int)) func(context.Context, Pipeline[S, I, A], int) {
	if len(hs) == 0 {
		return nil
	}
	return func(ctx context.Context, p Pipeline[S, I, A], n int) {
		for _, h := range hs {
			if err := protect(func() error { h(ctx, p, n); return nil }); err != nil {
				p.Logger().Error("subscription hook failed", "subscribers", n, "error", err)
			}
		}
	}
}

func isNilFunc(h any) bool {
	v := reflect.ValueOf(h)
	return !v.IsValid() || (v.Kind() == reflect.Func && v.IsNil())
}
