package counter

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvistore/internal/engine"
)

func testConfig(opts ...engine.ConfigOption) engine.Config {
	base := []engine.ConfigOption{
		engine.WithName("counter"),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return engine.NewConfig(append(base, opts...)...)
}

func startStore(t *testing.T, s *Store) *engine.Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h, err := s.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.AwaitStartup(ctx))
	t.Cleanup(func() {
		s.Close()
		_ = h.AwaitStopped(context.Background())
	})
	return h
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in      string
		want    Intent
		wantErr bool
	}{
		{in: "increment", want: Intent{Kind: Increment}},
		{in: "  Decrement ", want: Intent{Kind: Decrement}},
		{in: "add 5", want: Intent{Kind: Add, Amount: 5}},
		{in: "add -2", want: Intent{Kind: Add, Amount: -2}},
		{in: "reset", want: Intent{Kind: Reset}},
		{in: "fail", want: Intent{Kind: Fail}},
		{in: "", wantErr: true},
		{in: "add", wantErr: true},
		{in: "add x", wantErr: true},
		{in: "reset now", wantErr: true},
		{in: "multiply 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIntent(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownIntent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Loading", Loading.String())
	assert.Equal(t, "Count(3)", Count(3).String())
	assert.Equal(t, "add 2", Intent{Kind: Add, Amount: 2}.String())
	assert.Equal(t, "went_negative(-1)", Action{Kind: WentNegative, Count: -1}.String())
}

func TestCounter_LoadingToCount3(t *testing.T) {
	var starts atomic.Int32
	var mu sync.Mutex
	var seen []State

	observer := Plugin{
		Name: "starts",
		OnStart: func(context.Context, Pipeline) error {
			starts.Add(1)
			return nil
		},
	}
	s, err := New(testConfig(), WithObservers(observer))
	require.NoError(t, err)
	assert.Equal(t, Loading, s.State())

	sub, err := s.Subscribe(context.Background(), func(st State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	}, nil)
	require.NoError(t, err)
	defer sub.Close()

	startStore(t, s)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Send(Intent{Kind: Increment}))
	}

	require.Eventually(t, func() bool { return s.State() == Count(3) }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == Count(3)
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, Loading, seen[0], "subscribers see Loading first")
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i].Loaded)
		assert.GreaterOrEqual(t, seen[i].Count, seen[i-1].Count)
	}
	mu.Unlock()
	assert.Equal(t, int32(1), starts.Load())
}

func TestCounter_Actions(t *testing.T) {
	s, err := New(testConfig(engine.WithActions(engine.ActionsBroadcast, 16, engine.OverflowSuspend)))
	require.NoError(t, err)

	var mu sync.Mutex
	var actions []Action
	sub, err := s.Subscribe(context.Background(), nil, func(a Action) {
		mu.Lock()
		defer mu.Unlock()
		actions = append(actions, a)
	})
	require.NoError(t, err)
	defer sub.Close()

	startStore(t, s)
	for _, i := range []Intent{
		{Kind: Decrement},
		{Kind: Decrement},
		{Kind: Add, Amount: 5},
		{Kind: Reset},
		{Kind: Fail},
	} {
		require.NoError(t, s.Send(i))
	}

	want := []Action{
		{Kind: WentNegative, Count: -1},
		{Kind: WasReset, Count: 3},
		{Kind: Failed, Count: 0},
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) == len(want)
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, want, actions)
	mu.Unlock()
	assert.Equal(t, Count(0), s.State())
}

func TestCounter_RestartKeepsCount(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)

	h := startStore(t, s)
	require.NoError(t, s.Send(Intent{Kind: Add, Amount: 4}))
	require.Eventually(t, func() bool { return s.State() == Count(4) }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, h.Err())

	startStore(t, s)
	require.NoError(t, s.Send(Intent{Kind: Increment}))
	require.Eventually(t, func() bool { return s.State() == Count(5) }, time.Second, time.Millisecond)
}

func TestCounter_UnknownIntentIsFatal(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	h := startStore(t, s)

	require.NoError(t, s.Send(Intent{Kind: "multiply"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, h.AwaitStopped(ctx), ErrUnknownIntent)
}
