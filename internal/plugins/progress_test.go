package plugins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvistore/internal/engine"
)

func TestProgress_WaitForIntents(t *testing.T) {
	pr := NewProgress()
	app := engine.Decorate(counter(), Tracked[int, string, string](pr))
	e := newStore(t, app)
	start(t, e)

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Send("inc"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, pr.Wait(ctx, 10))
	assert.Equal(t, 10, e.State())
	assert.Equal(t, 10, pr.Done())
}

func TestProgress_WaitHonoursContext(t *testing.T) {
	pr := NewProgress()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, pr.Wait(ctx, 1), context.DeadlineExceeded)
}

func TestProgress_CountsUndelivered(t *testing.T) {
	pr := NewProgress()
	pl := engine.Decorate(counter(), Tracked[int, string, string](pr))

	pl.UndeliveredIntent("lost")

	assert.Equal(t, 1, pr.Done())
}

func TestProgress_FailedIntentTicksAfterRecovery(t *testing.T) {
	pr := NewProgress()
	var recovered bool
	core := engine.MustCompose("core", counter(), Recover(func(_ context.Context, _ pipeline, err error) error {
		recovered = true
		return nil
	}))
	e := newStore(t, engine.Decorate(core, Tracked[int, string, string](pr)))
	start(t, e)

	require.NoError(t, e.Send("fail"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, pr.Wait(ctx, 1))
	assert.True(t, recovered, "Wait returns only after the exception chain ran")
	assert.Equal(t, 1, pr.Done())
}
