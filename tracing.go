package pipedispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of invocation spans.
const tracerName = "github.com/bjaus/pipedispatch"

// WithTracing wraps every handler invocation in an OpenTelemetry span taken
// from the global TracerProvider. With no provider configured the global
// tracer is a no-op.
//
// Span attributes: pipedispatch.kind, pipedispatch.event_type,
// pipedispatch.call (call results only), pipedispatch.size and
// pipedispatch.io_failed. A failed invocation sets the span status to
// codes.Error.
func WithTracing() Option {
	return WithTracer(otel.Tracer(tracerName))
}

// WithTracer is WithTracing with an explicit tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// span starts the invocation span for d. The returned function ends it and
// records err. Without a tracer both are no-ops.
func (c *core) span(ctx context.Context, d Delivery) (context.Context, func(err error)) {
	if c.opts.tracer == nil {
		return ctx, func(error) {}
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipedispatch.kind", d.Kind.String()),
		attribute.Int("pipedispatch.event_type", int(d.EventType)),
		attribute.Int("pipedispatch.size", d.Size),
		attribute.Bool("pipedispatch.io_failed", d.IOFailed),
	}
	if d.Kind == KindCallResult {
		attrs = append(attrs, attribute.Int64("pipedispatch.call", int64(d.Call)))
	}

	ctx, span := c.opts.tracer.Start(ctx, "pipedispatch.invoke",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
