package fn

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then composes two stages, short-circuiting on error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		if r.IsErr() {
			_, err := r.Unwrap()
			return Err[C](err)
		}
		v, _ := r.Unwrap()
		return second(ctx, v)
	}
}

// TracedStage wraps a stage with OTel span creation; errors are recorded
// on the span.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer("pkg/fn").Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if result.IsErr() {
			_, err := result.Unwrap()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}

// TimedStage wraps a stage so every invocation runs under a child
// context with the given timeout. Network-bound stages always run under
// one of these.
func TimedStage[In, Out any](timeout time.Duration, stage Stage[In, Out]) Stage[In, Out] {
	if timeout <= 0 {
		return stage
	}
	return func(ctx context.Context, in In) Result[Out] {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return stage(tctx, in)
	}
}
