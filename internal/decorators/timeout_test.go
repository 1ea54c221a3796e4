package decorators

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvistore/internal/engine"
)

func sleepy(d time.Duration) plugin {
	return plugin{
		Name: "sleepy",
		OnIntent: func(ctx context.Context, _ pipeline, intent string) (string, bool, error) {
			select {
			case <-time.After(d):
				return "done:" + intent, false, nil
			case <-ctx.Done():
				return "", false, ctx.Err()
			}
		},
	}
}

func TestTimeoutIntents(t *testing.T) {
	fallback := func(_ context.Context, _ pipeline, intent string) (string, bool, error) {
		return "fallback:" + intent, false, nil
	}

	t.Run("fast child wins", func(t *testing.T) {
		d := TimeoutIntents[int, string, string](time.Second, fallback)
		out, _, err := d.OnIntent(context.Background(), startEngine(t), sleepy(0), "x")
		require.NoError(t, err)
		assert.Equal(t, "done:x", out)
	})

	t.Run("slow child falls back", func(t *testing.T) {
		d := TimeoutIntents[int, string, string](10*time.Millisecond, fallback)
		out, _, err := d.OnIntent(context.Background(), startEngine(t), sleepy(time.Hour), "x")
		require.NoError(t, err)
		assert.Equal(t, "fallback:x", out)
	})

	t.Run("no fallback is an error", func(t *testing.T) {
		d := TimeoutIntents[int, string, string](10*time.Millisecond, nil)
		_, _, err := d.OnIntent(context.Background(), startEngine(t), sleepy(time.Hour), "x")
		assert.ErrorIs(t, err, ErrIntentTimeout)
	})

	t.Run("zero disables", func(t *testing.T) {
		d := TimeoutIntents[int, string, string](0, fallback)
		out, _, err := d.OnIntent(context.Background(), startEngine(t), sleepy(5*time.Millisecond), "x")
		require.NoError(t, err)
		assert.Equal(t, "done:x", out)
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d := TimeoutIntents[int, string, string](time.Second, fallback)
		_, _, err := d.OnIntent(ctx, startEngine(t), sleepy(time.Hour), "x")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTimeoutIntents_LateChildCannotWrite(t *testing.T) {
	var finished atomic.Bool
	var writeErr atomic.Value
	stubborn := plugin{
		Name: "stubborn",
		OnIntent: func(ctx context.Context, p pipeline, intent string) (string, bool, error) {
			time.Sleep(100 * time.Millisecond)
			p.UpdateStateImmediate(func(s int) int { return s + 100 })
			err := p.UpdateState(ctx, func(_ context.Context, s int) (int, error) { return s + 100, nil })
			if err == nil {
				err = errors.New("late update committed")
			}
			writeErr.Store(err)
			finished.Store(true)
			return "", false, nil
		},
	}
	fellBack := make(chan struct{})
	fallback := func(context.Context, pipeline, string) (string, bool, error) {
		close(fellBack)
		return "", false, nil
	}

	e := startEngine(t, engine.Decorate(stubborn, TimeoutIntents[int, string, string](10*time.Millisecond, fallback)))
	require.NoError(t, e.Send("x"))

	select {
	case <-fellBack:
	case <-time.After(waitFor):
		t.Fatal("fallback did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, e.Stop(ctx))

	require.True(t, finished.Load(), "stopping waits for the timed-out child")
	assert.ErrorIs(t, writeErr.Load().(error), ErrIntentTimeout)
	assert.Equal(t, 0, e.State())
	assert.Equal(t, engine.PhaseStopped, e.Phase())
}

func TestTimeoutIntents_PanicKeepsStack(t *testing.T) {
	panicky := plugin{
		Name: "panicky",
		OnIntent: func(context.Context, pipeline, string) (string, bool, error) {
			panic("boom")
		},
	}
	d := TimeoutIntents[int, string, string](time.Second, nil)

	_, _, err := d.OnIntent(context.Background(), startEngine(t), panicky, "x")

	var pe *engine.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}
