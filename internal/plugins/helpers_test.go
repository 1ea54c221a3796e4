package plugins

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mvistore/internal/engine"
)

type (
	plugin   = engine.Plugin[int, string, string]
	pipeline = engine.Pipeline[int, string, string]
	store    = engine.Engine[int, string, string]
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// counter handles "inc", "add:<n>", "emit:<action>" and "fail".
func counter() plugin {
	return Reduce(func(ctx context.Context, p pipeline, s int, intent string) (int, error) {
		switch {
		case intent == "inc":
			return s + 1, nil
		case intent == "fail":
			return s, errBoom
		case strings.HasPrefix(intent, "add:"):
			n, err := strconv.Atoi(strings.TrimPrefix(intent, "add:"))
			return s + n, err
		case strings.HasPrefix(intent, "emit:"):
			return s, p.Emit(ctx, strings.TrimPrefix(intent, "emit:"))
		}
		return s, nil
	})
}

var errBoom = engineError("boom")

type engineError string

func (e engineError) Error() string { return string(e) }

func newStore(t *testing.T, plugins ...plugin) *store {
	t.Helper()
	cfg := engine.NewConfig(engine.WithName("counter"), engine.WithLogger(quietLogger()))
	e, err := engine.New(0, cfg, plugins...)
	require.NoError(t, err)
	return e
}

func start(t *testing.T, e *store) *engine.Handle {
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

// stop closes the run and returns the error it stopped with.
func stop(t *testing.T, e *store, h *engine.Handle) error {
	t.Helper()
	e.Close()
	select {
	case <-h.Stopped():
		return h.Err()
	case <-time.After(waitFor):
		t.Fatal("store did not stop")
		return nil
	}
}

type events struct {
	mu    sync.Mutex
	items []string
}

func (ev *events) add(s string) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.items = append(ev.items, s)
}

func (ev *events) get() []string {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]string(nil), ev.items...)
}

const (
	waitFor = time.Second
	tick    = time.Millisecond
)
