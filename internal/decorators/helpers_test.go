package decorators

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mvistore/internal/engine"
)

type (
	plugin    = engine.Plugin[int, string, string]
	decorator = engine.Decorator[int, string, string]
	pipeline  = engine.Pipeline[int, string, string]
)

type log struct {
	mu    sync.Mutex
	items []string
}

func (l *log) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, s)
}

func (l *log) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.items...)
}

func (l *log) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// recording returns a child plugin that logs intents, actions and stop.
func recording(l *log) plugin {
	return plugin{
		Name: "child",
		OnIntent: func(_ context.Context, _ pipeline, intent string) (string, bool, error) {
			l.add(intent)
			return "", false, nil
		},
		OnAction: func(_ context.Context, _ pipeline, action string) (string, bool, error) {
			l.add(action)
			return action, true, nil
		},
		OnStop: func(context.Context, pipeline, error) {
			l.add("stop")
		},
	}
}

func startEngine(t *testing.T, plugins ...plugin) *engine.Engine[int, string, string] {
	t.Helper()
	cfg := engine.NewConfig(
		engine.WithName("decorated"),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	e, err := engine.New(0, cfg, plugins...)
	require.NoError(t, err)

	h, err := e.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.AwaitStartup(context.Background()))
	t.Cleanup(func() {
		e.Close()
		_ = h.AwaitStopped(context.Background())
	})
	return e
}

const (
	waitFor = time.Second
	tick    = time.Millisecond
)
