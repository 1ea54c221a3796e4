package plugins

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards a bytes.Buffer shared by hook goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogging_LogsHooksWithoutChangingFlow(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e := newStore(t, Logging[int, string, string](logger, slog.LevelDebug), counter())
	h := start(t, e)

	require.NoError(t, e.Send("inc"))
	require.NoError(t, e.Send("emit:ping"))
	require.Eventually(t, func() bool { return e.State() == 1 }, waitFor, tick)
	require.NoError(t, stop(t, e, h))

	logs := out.String()
	assert.Contains(t, logs, "msg=\"store started\"")
	assert.Contains(t, logs, "msg=intent intent=inc")
	assert.Contains(t, logs, "msg=state old=0 new=1")
	assert.Contains(t, logs, "msg=\"store stopped\"")
}

func TestLogging_BelowHandlerLevelIsSilent(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pl := Logging[int, string, string](logger, slog.LevelDebug)

	got, ok, err := pl.Intent(context.Background(), nil, "x")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", got)
	assert.Empty(t, out.String())
}
