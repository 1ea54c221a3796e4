package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPlugin = Plugin[int, string, string]
type testEngine = Engine[int, string, string]

func testConfig(opts ...ConfigOption) Config {
	base := []ConfigOption{
		WithName("test"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewConfig(append(base, opts...)...)
}

// counterReducer handles "inc", "dec" and "emit:<action>".
func counterReducer() testPlugin {
	return testPlugin{
		Name: "reducer",
		OnIntent: func(ctx context.Context, p Pipeline[int, string, string], intent string) (string, bool, error) {
			switch {
			case intent == "inc":
				return "", false, p.UpdateState(ctx, func(_ context.Context, s int) (int, error) { return s + 1, nil })
			case intent == "dec":
				return "", false, p.UpdateState(ctx, func(_ context.Context, s int) (int, error) { return s - 1, nil })
			case len(intent) > 5 && intent[:5] == "emit:":
				return "", false, p.Emit(ctx, intent[5:])
			}
			return intent, true, nil
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, plugins ...testPlugin) *testEngine {
	t.Helper()
	e, err := New(0, cfg, plugins...)
	require.NoError(t, err)
	return e
}

func startTestEngine(t *testing.T, e *testEngine) *Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h, err := e.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.AwaitStartup(ctx))
	t.Cleanup(func() {
		e.Close()
		_ = h.AwaitStopped(context.Background())
	})
	return h
}

func awaitStopped(t *testing.T, h *Handle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	select {
	case <-h.Stopped():
		return h.Err()
	case <-ctx.Done():
		t.Fatal("engine did not stop")
		return nil
	}
}

// recorder collects strings from concurrent hooks.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

const (
	waitFor = time.Second
	tick    = time.Millisecond
)
