package plugins

import (
	"context"
	"log/slog"

	"github.com/roach88/mvistore/internal/engine"
)

// Logging logs every hook at level. A nil logger uses the engine logger.
// It never changes what flows through the chain.
func Logging[S, I, A any](logger *slog.Logger, level slog.Level) engine.Plugin[S, I, A] {
	log := func(ctx context.Context, p engine.Pipeline[S, I, A], msg string, args ...any) {
		l := logger
		if l == nil {
			l = p.Logger()
		}
		l.Log(ctx, level, msg, args...)
	}

	// Undelivered hooks get no pipeline; they fall back to the default
	// logger when none was given.
	plain := func(msg string, args ...any) {
		l := logger
		if l == nil {
			l = slog.Default()
		}
		l.Log(context.Background(), level, msg, args...)
	}

	return engine.Plugin[S, I, A]{
		Name: "logging",
		OnStart: func(ctx context.Context, p engine.Pipeline[S, I, A]) error {
			log(ctx, p, "store started")
			return nil
		},
		OnStop: func(ctx context.Context, p engine.Pipeline[S, I, A], err error) {
			log(ctx, p, "store stopped", "error", err)
		},
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], intent I) (I, bool, error) {
			log(ctx, p, "intent", "intent", intent)
			return intent, true, nil
		},
		OnAction: func(ctx context.Context, p engine.Pipeline[S, I, A], action A) (A, bool, error) {
			log(ctx, p, "action", "action", action)
			return action, true, nil
		},
		OnState: func(ctx context.Context, p engine.Pipeline[S, I, A], old, next S) (S, bool, error) {
			log(ctx, p, "state", "old", old, "new", next)
			return next, true, nil
		},
		OnException: func(ctx context.Context, p engine.Pipeline[S, I, A], err error) error {
			log(ctx, p, "exception", "error", err)
			return err
		},
		OnSubscribe: func(ctx context.Context, p engine.Pipeline[S, I, A], n int) {
			log(ctx, p, "subscribed", "subscribers", n)
		},
		OnUnsubscribe: func(ctx context.Context, p engine.Pipeline[S, I, A], n int) {
			log(ctx, p, "unsubscribed", "subscribers", n)
		},
		OnUndeliveredIntent: func(intent I) {
			plain("undelivered intent", "intent", intent)
		},
		OnUndeliveredAction: func(action A) {
			plain("undelivered action", "action", action)
		},
	}
}
