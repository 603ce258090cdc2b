package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"grcgateway/internal/config"
)

// Telemetry manages the OpenTelemetry tracer used around proxied
// requests. When disabled it hands out no-op spans so call sites never
// branch on configuration.
type Telemetry struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	provider   *sdktrace.TracerProvider
}

// New creates a telemetry instance for the gateway.
func New(cfg *config.Telemetry, serviceName, version string) (*Telemetry, error) {
	t := &Telemetry{}

	if cfg == nil || !cfg.Enabled {
		t.tracer = otel.GetTracerProvider().Tracer(serviceName)
		t.propagator = propagation.NewCompositeTextMapPropagator()
		return t, nil
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	otel.SetTracerProvider(t.provider)

	t.tracer = t.provider.Tracer(serviceName)
	t.propagator = propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(t.propagator)

	return t, nil
}

// StartServerSpan starts a span for an inbound request, continuing any
// trace context carried in its headers.
func (t *Telemetry) StartServerSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	return t.tracer.Start(ctx,
		fmt.Sprintf("%s %s", r.Method, r.URL.Path),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethod(r.Method),
			semconv.HTTPTarget(r.RequestURI),
			attribute.String("net.peer.addr", r.RemoteAddr),
		),
	)
}

// StartClientSpan starts a span for the upstream call and injects the
// trace context into the outbound headers.
func (t *Telemetry) StartClientSpan(ctx context.Context, req *http.Request, service string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx,
		fmt.Sprintf("forward %s", service),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethod(req.Method),
			semconv.HTTPTarget(req.URL.RequestURI()),
			attribute.String("gateway.service", service),
		),
	)

	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return ctx, span
}

// EndSpan closes a span with the final HTTP status and error, if any.
func EndSpan(span trace.Span, statusCode int, err error) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(semconv.HTTPStatusCode(statusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if statusCode >= 500 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// Shutdown flushes any buffered spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
