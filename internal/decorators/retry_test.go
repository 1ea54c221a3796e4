package decorators

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flaky(failures int, attempts *int) plugin {
	return plugin{
		Name: "flaky",
		OnIntent: func(context.Context, pipeline, string) (string, bool, error) {
			*attempts++
			if *attempts <= failures {
				return "", false, errors.New("transient")
			}
			return "", false, nil
		},
	}
}

func TestRetryIntents(t *testing.T) {
	permanent := errors.New("permanent")

	tests := []struct {
		name     string
		strategy RetryStrategy
		failures int
		selector func(error) bool
		attempts int
		fails    bool
	}{
		{name: "succeeds within budget", strategy: Immediate(3), failures: 2, attempts: 3},
		{name: "budget exhausted", strategy: Once, failures: 5, attempts: 2, fails: true},
		{name: "no failure no retry", strategy: Immediate(3), failures: 0, attempts: 1},
		{name: "selector rejects", strategy: Immediate(3), failures: 5, attempts: 1, fails: true,
			selector: func(err error) bool { return errors.Is(err, permanent) }},
		{name: "fixed delay", strategy: Fixed(2, time.Millisecond), failures: 1, attempts: 2},
		{name: "exponential", strategy: Exponential(3, time.Millisecond), failures: 3, attempts: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			d := RetryIntents[int, string, string](tt.strategy, tt.selector)

			_, ok, err := d.OnIntent(context.Background(), nil, flaky(tt.failures, &attempts), "x")

			if tt.fails {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.False(t, ok)
			}
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}

func TestRetryStrategies_Delays(t *testing.T) {
	ms := time.Millisecond

	assert.Equal(t, []time.Duration{10 * ms, 20 * ms, 40 * ms, 80 * ms}, Exponential(4, 10*ms).Delays())
	assert.Equal(t, []time.Duration{5 * ms, 5 * ms}, Fixed(2, 5*ms).Delays())
	assert.Equal(t, []time.Duration{0, 0, 0}, Immediate(3).Delays())
	assert.Equal(t, []time.Duration{0}, Once.Delays())
}

func TestRetry_DelayRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	d := RetryIntents[int, string, string](Fixed(5, time.Hour), nil)

	start := time.Now()
	_, _, err := d.OnIntent(ctx, nil, flaky(10, &attempts), "x")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryActions(t *testing.T) {
	attempts := 0
	child := plugin{
		Name: "flaky-action",
		OnAction: func(_ context.Context, _ pipeline, a string) (string, bool, error) {
			attempts++
			if attempts < 2 {
				return "", false, errors.New("transient")
			}
			return a + "!", true, nil
		},
	}
	d := RetryActions[int, string, string](Once, nil)

	out, ok, err := d.OnAction(context.Background(), nil, child, "hi")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi!", out)
	assert.Equal(t, 2, attempts)
}
