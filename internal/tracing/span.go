package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TestSpan describes the test case a span covers.
type TestSpan struct {
	Test      string
	Lane      int
	Worker    int
	Iteration int
	SessionID string
}

// StartTestSpan starts the span that parents every request of one test run.
func StartTestSpan(ctx context.Context, tracer trace.Tracer, ts TestSpan) (context.Context, trace.Span) {
	return tracer.Start(ctx, "test "+ts.Test,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("crankloop.test", ts.Test),
			attribute.Int("crankloop.lane", ts.Lane),
			attribute.Int("crankloop.worker", ts.Worker),
			attribute.Int("crankloop.iteration", ts.Iteration),
			attribute.String("crankloop.session_id", ts.SessionID),
		),
	)
}

// StartRequestSpan starts the client span of one HTTP request. Its parent is
// whatever span ctx carries, normally the test span.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, address string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "http "+method+" "+address,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", address),
		),
	)
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		span.End()
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// InjectHTTPHeaders writes the W3C trace context of ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
