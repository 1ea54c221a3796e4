package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mvistore/internal/counter"
	"github.com/roach88/mvistore/internal/engine"
	"github.com/roach88/mvistore/internal/plugins"
)

// DefaultTimeout bounds one scenario run.
const DefaultTimeout = 5 * time.Second

// traceRecorder records hooks into a trace. Its OnStart holds the run until
// release is closed, so every intent of a scenario is queued (or dropped)
// before the first one is processed.
type traceRecorder struct {
	mu      sync.Mutex
	clock   *engine.Clock
	trace   []TraceEvent
	release chan struct{}
}

func newTraceRecorder() *traceRecorder {
	return &traceRecorder{clock: engine.NewClock(), release: make(chan struct{})}
}

func (p *traceRecorder) add(typ, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trace = append(p.trace, TraceEvent{Seq: p.clock.Next(), Type: typ, Value: value})
}

func (p *traceRecorder) events() []TraceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TraceEvent{}, p.trace...)
}

// count returns the number of recorded events of type typ.
func (p *traceRecorder) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.trace {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (p *traceRecorder) plugin() counter.Plugin {
	return counter.Plugin{
		Name: "trace",
		OnStart: func(ctx context.Context, _ counter.Pipeline) error {
			select {
			case <-p.release:
			case <-ctx.Done():
				return ctx.Err()
			}
			p.add(EventStart, "")
			return nil
		},
		OnStop: func(_ context.Context, _ counter.Pipeline, err error) {
			value := ""
			if err != nil {
				value = err.Error()
			}
			p.add(EventStop, value)
		},
		OnIntent: func(_ context.Context, _ counter.Pipeline, i counter.Intent) (counter.Intent, bool, error) {
			p.add(EventIntent, i.String())
			return i, true, nil
		},
		OnState: func(_ context.Context, _ counter.Pipeline, _, next counter.State) (counter.State, bool, error) {
			p.add(EventState, next.String())
			return next, true, nil
		},
		OnAction: func(_ context.Context, _ counter.Pipeline, a counter.Action) (counter.Action, bool, error) {
			p.add(EventAction, a.String())
			return a, true, nil
		},
		OnException: func(_ context.Context, _ counter.Pipeline, err error) error {
			p.add(EventException, err.Error())
			return err
		},
		OnUndeliveredIntent: func(i counter.Intent) {
			p.add(EventUndeliveredIntent, i.String())
		},
	}
}

// Run executes a scenario against a fresh counter store and evaluates its
// expectations. The returned error reports a harness failure (bad
// config, timeout); failed expectations are in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return RunContext(ctx, scenario)
}

// RunContext is Run with a caller-supplied deadline.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}

	pr := newTraceRecorder()
	progress := plugins.NewProgress()
	actions := &actionLog{}

	store, err := counter.New(cfg,
		counter.WithObservers(pr.plugin()),
		counter.WithDecorators(plugins.Tracked[counter.State, counter.Intent, counter.Action](progress)),
	)
	if err != nil {
		return nil, err
	}

	sub, err := store.Subscribe(ctx, nil, actions.add)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	h, err := store.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	// Intents sent while OnStart runs are queued.
	sent := 0
	for _, text := range scenario.Intents {
		intent, err := counter.ParseIntent(text)
		if err != nil {
			return nil, err
		}
		if err := store.Send(intent); err != nil && engine.IsUsage(err) {
			break
		}
		sent++
	}
	close(pr.release)

	if err := settle(ctx, h, func(ctx context.Context) error {
		if err := progress.Wait(ctx, sent); err != nil {
			return err
		}
		return actions.wait(ctx, pr.count(EventAction))
	}); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	store.Close()
	select {
	case <-h.Stopped():
	case <-ctx.Done():
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, ctx.Err())
	}

	result := NewResult()
	result.Trace = pr.events()
	result.FinalState = store.State()
	result.Actions = actions.get()

	evaluate(scenario, result, h.Err())
	return result, nil
}

// settle runs wait until it returns or the run stops on its own.
func settle(ctx context.Context, h *engine.Handle, wait func(ctx context.Context) error) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- wait(wctx) }()

	select {
	case err := <-done:
		return err
	case <-h.Stopped():
		return nil
	}
}

func scenarioConfig(s *Scenario) (engine.Config, error) {
	opts := []engine.ConfigOption{
		engine.WithName(s.Name),
		engine.WithDebug(s.Config.Debug),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithActions(engine.ActionsBroadcast, 64, engine.OverflowSuspend),
	}
	if s.Config.IntentCapacity > 0 {
		overflow := engine.OverflowSuspend
		if s.Config.IntentOverflow != "" {
			var err error
			if overflow, err = engine.ParseOverflow(s.Config.IntentOverflow); err != nil {
				return engine.Config{}, err
			}
		}
		opts = append(opts, engine.WithIntentQueue(s.Config.IntentCapacity, overflow))
	}
	cfg := engine.NewConfig(opts...)
	return cfg, cfg.Validate()
}

type actionLog struct {
	mu    sync.Mutex
	items []string
}

func (l *actionLog) add(a counter.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, a.String())
}

// wait blocks until n actions were delivered.
func (l *actionLog) wait(ctx context.Context, n int) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		l.mu.Lock()
		got := len(l.items)
		l.mu.Unlock()
		if got >= n {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *actionLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.items...)
}
