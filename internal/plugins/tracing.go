package plugins

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/mvistore/internal/engine"
)

const instrumentationName = "github.com/roach88/mvistore"

// Traced is a decorator that runs the child's intent, action and
// exception hooks inside spans from tp. Spans started by the child (or by
// nested state transactions) become children of the intent span.
func Traced[S, I, A any](tp trace.TracerProvider) engine.Decorator[S, I, A] {
	tracer := tp.Tracer(instrumentationName)

	return engine.Decorator[S, I, A]{
		Name: "traced",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			ctx, span := tracer.Start(ctx, "mvi.intent",
				trace.WithAttributes(
					attribute.String("mvi.store", p.Name()),
					attribute.String("mvi.intent", fmt.Sprint(intent)),
				),
			)
			defer span.End()

			out, ok, err := child.Intent(ctx, p, intent)
			span.SetAttributes(attribute.Bool("mvi.unhandled", ok))
			recordError(span, err)
			return out, ok, err
		},
		OnAction: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], action A) (A, bool, error) {
			ctx, span := tracer.Start(ctx, "mvi.action",
				trace.WithAttributes(
					attribute.String("mvi.store", p.Name()),
					attribute.String("mvi.action", fmt.Sprint(action)),
				),
			)
			defer span.End()

			out, ok, err := child.Action(ctx, p, action)
			recordError(span, err)
			return out, ok, err
		},
		OnException: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], err error) error {
			ctx, span := tracer.Start(ctx, "mvi.exception",
				trace.WithAttributes(attribute.String("mvi.store", p.Name())),
			)
			defer span.End()

			span.RecordError(err)
			rest := child.Exception(ctx, p, err)
			span.SetAttributes(attribute.Bool("mvi.handled", rest == nil))
			recordError(span, rest)
			return rest
		},
	}
}

func recordError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
