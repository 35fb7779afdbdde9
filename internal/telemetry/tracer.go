// Package telemetry wraps the otel tracer used for dispatch-tick and
// attempt-submission spans (SPEC_FULL.md §2.1).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the scheduler's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/airbyte-oss/scheduler-core")
}

// StartDispatchSpan starts a span covering one full dispatch tick (retrier
// -> scheduler -> submitter).
func StartDispatchSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "scheduler.dispatch_tick")
}

// StartAttemptSpan starts a span covering one attempt's submission to the
// workflow runtime.
func StartAttemptSpan(ctx context.Context, jobID int64, attemptNumber int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "scheduler.submit_attempt", trace.WithAttributes(
		attribute.Int64("job.id", jobID),
		attribute.String("attempt.number", fmt.Sprintf("%d", attemptNumber)),
	))
}
