// Package tracing wires an OpenTelemetry tracer provider exporting
// spans over OTLP/gRPC, with one span per turn, tool call, and LLM
// call (spec §AMBIENT STACK "Observability"). The teacher's own
// internal/tracing collector was not present in the retrieved pack,
// so this reimplements the same concern directly from the otel SDK.
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ebongard/renfield/internal/config"
)

// Shutdown flushes and tears down the tracer provider.
type Shutdown func(context.Context) error

// noopShutdown is returned when telemetry is disabled, so callers
// never need a nil check.
func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider per cfg.Telemetry
// (spec §6.4). Disabled or empty-endpoint config installs the otel
// no-op provider so every internal/tracing.StartSpan call elsewhere in
// the codebase stays a safe, cheap no-op.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (Shutdown, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return noopShutdown, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "renfieldd"
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(shutdownCtx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}

// Tracer is the single tracer Renfield's components use for turn/
// tool-call/LLM-call spans, named after the spec-defined operation it
// instruments rather than the package doing the instrumenting.
func Tracer() trace.Tracer {
	return otel.Tracer("renfield")
}

// StartSpan opens a span named after the operation (e.g. "turn",
// "tool_call", "llm_call") with the given attributes already applied.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
