// Package tracing wires optional OpenTelemetry export. When no OTLP
// endpoint is configured every helper is a no-op via the default
// global tracer provider.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "shannon"

// Setup installs an OTLP/HTTP exporter when endpoint is non-empty and
// returns a shutdown function. With an empty endpoint the global
// no-op provider stays in place.
func Setup(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := sdkresource.Merge(sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName("shannon"),
		))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan opens a span on the shannon tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EmitLLMSpan records one completed LLM call.
func EmitLLMSpan(ctx context.Context, provider string, start time.Time, iteration, promptTokens, completionTokens int) {
	_, span := otel.Tracer(tracerName).Start(ctx, "llm.complete",
		trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("llm.provider", provider),
		attribute.Int("llm.iteration", iteration),
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
	)
	span.End()
}

// EmitToolSpan records one completed tool execution.
func EmitToolSpan(ctx context.Context, tool, callID string, start time.Time, isError bool) {
	_, span := otel.Tracer(tracerName).Start(ctx, "tool.execute",
		trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("tool.name", tool),
		attribute.String("tool.call_id", callID),
		attribute.Bool("tool.error", isError),
	)
	span.End()
}
