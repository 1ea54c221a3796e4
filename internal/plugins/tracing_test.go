package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/mvistore/internal/engine"
)

func TestTraced_SpansPerIntent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	handled := Recover(func(context.Context, pipeline, error) error { return nil })
	app := engine.Decorate(engine.MustCompose("app", counter(), handled), Traced[int, string, string](tp))
	e := newStore(t, app)
	h := start(t, e)

	require.NoError(t, e.Send("inc"))
	require.NoError(t, e.Send("fail"))
	require.Eventually(t, func() bool { return len(recorder.Ended()) >= 3 }, waitFor, tick)
	require.NoError(t, stop(t, e, h))

	var intents, exceptions int
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "mvi.intent":
			intents++
		case "mvi.exception":
			exceptions++
			assert.Equal(t, codes.Ok, span.Status().Code, "the exception was handled")
		}
	}
	assert.Equal(t, 2, intents)
	assert.Equal(t, 1, exceptions)

	failed := recorder.Ended()[1]
	assert.Equal(t, "mvi.intent", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
}
