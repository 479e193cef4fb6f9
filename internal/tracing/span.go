package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartStep opens a span for one engine Process/ForceTransition step,
// tagging it with the instance id and current state so traces line up with
// the durable event log.
func StartStep(ctx context.Context, tracer trace.Tracer, op, instanceID, stateID string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("noop")
	}
	return tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("statewheel.instance_id", instanceID),
		attribute.String("statewheel.state_id", stateID),
	))
}

// EndWithError records err on span (if non-nil) and ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
