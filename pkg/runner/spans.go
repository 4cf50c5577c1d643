package runner

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/bowline/pkg/trace"
)

// traceSpan opens a span and returns its end func, so call sites stay a
// two-liner behind the Trace option.
func traceSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := trace.StartSpan(ctx, name, oteltrace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}
