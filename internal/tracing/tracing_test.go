package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/crankloop/internal/config"
	"github.com/torosent/crankloop/internal/tracing"
)

func memoryTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("test")
}

func initProvider(t *testing.T, cfg config.TracingConfig) *tracing.Provider {
	t.Helper()
	p, err := tracing.Init(context.Background(), cfg, attribute.String("crankloop.run_id", "01RUN"))
	require.NoError(t, err)
	t.Cleanup(func() {
		// Nothing listens on the endpoint; don't wait for export retries.
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func TestInitWithoutEndpointTracesNothing(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p := initProvider(t, config.TracingConfig{})

	assert.False(t, p.ShouldPropagate())
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInitExporters(t *testing.T) {
	for _, protocol := range []string{"", "grpc", "GRPC", "http"} {
		t.Run(protocol, func(t *testing.T) {
			p := initProvider(t, config.TracingConfig{
				Endpoint:    "localhost:4317",
				Protocol:    protocol,
				ServiceName: "checkout-load",
				SampleRate:  1,
				Insecure:    true,
			})
			assert.True(t, p.ShouldPropagate(), "propagation follows tracing by default")

			_, span := p.Tracer().Start(context.Background(), "test")
			defer span.End()
			assert.True(t, span.SpanContext().IsValid())
		})
	}
}

func TestInitRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
		want string
	}{
		{"protocol", config.TracingConfig{Endpoint: "localhost:4317", Protocol: "kafka"}, "unsupported OTLP protocol"},
		{"rate below zero", config.TracingConfig{Endpoint: "localhost:4317", SampleRate: -0.1}, "sample_rate"},
		{"rate above one", config.TracingConfig{Endpoint: "localhost:4317", SampleRate: 1.5}, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracing.Init(context.Background(), tt.cfg)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestPropagateOverride(t *testing.T) {
	off, on := false, true
	p := initProvider(t, config.TracingConfig{Endpoint: "localhost:4317", Insecure: true, SampleRate: 1, Propagate: &off})
	assert.False(t, p.ShouldPropagate())

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	p = initProvider(t, config.TracingConfig{Propagate: &on})
	assert.True(t, p.ShouldPropagate(), "headers can be sent for a collector-less upstream trace")
}

func TestNilProvider(t *testing.T) {
	var p *tracing.Provider
	assert.False(t, p.ShouldPropagate())
	assert.NoError(t, p.Shutdown(context.Background()))
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
}

func TestTestAndRequestSpans(t *testing.T) {
	exporter, tracer := memoryTracer(t)

	ctx, testSpan := tracing.StartTestSpan(context.Background(), tracer, tracing.TestSpan{
		Test:      "shop.Cart.test_add",
		Lane:      5,
		Worker:    1,
		Iteration: 2,
		SessionID: "session",
	})
	_, reqSpan := tracing.StartRequestSpan(ctx, tracer, http.MethodPost, "http://shop.test/cart")
	tracing.EndSpan(reqSpan, errors.New("connection refused"), attribute.Int("http.status_code", 999))
	tracing.EndSpan(testSpan, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	req, test := spans[0], spans[1]

	assert.Equal(t, "test shop.Cart.test_add", test.Name)
	assert.Equal(t, codes.Ok, test.Status.Code)
	assert.Contains(t, test.Attributes, attribute.Int("crankloop.lane", 5))
	assert.Contains(t, test.Attributes, attribute.Int("crankloop.worker", 1))
	assert.Contains(t, test.Attributes, attribute.Int("crankloop.iteration", 2))
	assert.Contains(t, test.Attributes, attribute.String("crankloop.session_id", "session"))

	assert.Equal(t, "http POST http://shop.test/cart", req.Name)
	assert.Equal(t, trace.SpanKindClient, req.SpanKind)
	assert.Equal(t, test.SpanContext.SpanID(), req.Parent.SpanID())
	assert.Equal(t, codes.Error, req.Status.Code)
	assert.Equal(t, "connection refused", req.Status.Description)
	assert.Contains(t, req.Attributes, attribute.String("http.request.method", http.MethodPost))
	assert.Contains(t, req.Attributes, attribute.Int("http.status_code", 999))
	assert.Len(t, req.Events, 1, "the error is recorded as an event")
}

func TestInjectHTTPHeaders(t *testing.T) {
	_, tracer := memoryTracer(t)

	headers := http.Header{}
	tracing.InjectHTTPHeaders(context.Background(), headers)
	assert.Empty(t, headers.Get("traceparent"), "no span, no header")

	ctx, span := tracer.Start(context.Background(), "test")
	defer span.End()
	tracing.InjectHTTPHeaders(ctx, headers)
	assert.Contains(t, headers.Get("traceparent"), span.SpanContext().TraceID().String())
}
