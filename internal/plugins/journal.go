package plugins

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/mvistore/internal/engine"
	"github.com/roach88/mvistore/internal/journal"
)

// Journal records every run of a store into j: start, intents, actions,
// proposed states, exceptions, subscriber changes, undelivered events and
// stop. Payloads are JSON-encoded, so S, I and A should marshal.
//
// Append failures on the intent, action and state paths are returned as
// hook errors; elsewhere they are logged.
func Journal[S, I, A any](j *journal.Journal) engine.Plugin[S, I, A] {
	var mu sync.Mutex
	var runID string
	logger := slog.Default()

	current := func() (string, *slog.Logger) {
		mu.Lock()
		defer mu.Unlock()
		return runID, logger
	}

	appendLogged := func(ctx context.Context, kind journal.Kind, payload any) {
		id, log := current()
		if id == "" {
			return
		}
		if _, err := j.Append(ctx, id, kind, payload); err != nil {
			log.Error("journal append failed", "kind", kind, "error", err)
		}
	}

	appendChecked := func(ctx context.Context, kind journal.Kind, payload any) error {
		id, _ := current()
		if id == "" {
			return nil
		}
		_, err := j.Append(ctx, id, kind, payload)
		return err
	}

	return engine.Plugin[S, I, A]{
		Name: "journal",
		OnStart: func(ctx context.Context, p engine.Pipeline[S, I, A]) error {
			run, err := j.BeginRun(ctx, p.Name())
			if err != nil {
				return err
			}
			mu.Lock()
			runID = run.ID
			logger = p.Logger().With("run", run.ID)
			mu.Unlock()

			return appendChecked(ctx, journal.KindStart, p.State())
		},
		OnStop: func(ctx context.Context, p engine.Pipeline[S, I, A], cause error) {
			id, log := current()
			if id == "" {
				return
			}
			var msg *string
			if cause != nil {
				s := cause.Error()
				msg = &s
			}
			appendLogged(ctx, journal.KindStop, msg)
			if err := j.FinishRun(ctx, id, cause); err != nil {
				log.Error("journal finish failed", "error", err)
			}

			mu.Lock()
			runID = ""
			mu.Unlock()
		},
		OnIntent: func(ctx context.Context, _ engine.Pipeline[S, I, A], intent I) (I, bool, error) {
			return intent, true, appendChecked(ctx, journal.KindIntent, intent)
		},
		OnAction: func(ctx context.Context, _ engine.Pipeline[S, I, A], action A) (A, bool, error) {
			return action, true, appendChecked(ctx, journal.KindAction, action)
		},
		OnState: func(ctx context.Context, _ engine.Pipeline[S, I, A], _, next S) (S, bool, error) {
			return next, true, appendChecked(ctx, journal.KindState, next)
		},
		OnException: func(ctx context.Context, _ engine.Pipeline[S, I, A], err error) error {
			appendLogged(ctx, journal.KindException, err.Error())
			return err
		},
		OnSubscribe: func(ctx context.Context, _ engine.Pipeline[S, I, A], n int) {
			appendLogged(ctx, journal.KindSubscribers, n)
		},
		OnUnsubscribe: func(ctx context.Context, _ engine.Pipeline[S, I, A], n int) {
			appendLogged(ctx, journal.KindSubscribers, n)
		},
		OnUndeliveredIntent: func(intent I) {
			appendLogged(context.Background(), journal.KindUndeliveredIntent, intent)
		},
		OnUndeliveredAction: func(action A) {
			appendLogged(context.Background(), journal.KindUndeliveredAction, action)
		},
	}
}
