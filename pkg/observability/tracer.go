// Package observability provides tracing and metrics for agent runs, LLM
// calls, tool executions and retrieval operations. Tracing rides the global
// OpenTelemetry provider; metrics are Prometheus collectors behind a small
// interface so callers can run without a registry.
package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingMode selects the span exporter.
type TracingMode string

const (
	// TracingNone installs a no-op provider.
	TracingNone TracingMode = "none"

	// TracingOTLP exports spans over OTLP gRPC. Langfuse and other OTLP
	// collectors are addressed through the endpoint.
	TracingOTLP TracingMode = "opentelemetry"

	// TracingConsole pretty-prints spans to stderr for local debugging.
	TracingConsole TracingMode = "console"

	// TracingLangfuse is accepted as an alias for TracingOTLP; Langfuse
	// ingests OTLP and only the endpoint differs.
	TracingLangfuse TracingMode = "langfuse"
)

type TracerConfig struct {
	Mode         TracingMode `yaml:"mode"`
	Endpoint     string      `yaml:"endpoint"`
	ServiceName  string      `yaml:"service_name"`
	SamplingRate float64     `yaml:"sampling_rate"`
}

func (c *TracerConfig) SetDefaults() {
	switch c.Mode {
	case "":
		c.Mode = TracingNone
	case TracingLangfuse:
		c.Mode = TracingOTLP
	}
	if c.ServiceName == "" {
		c.ServiceName = "loom"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

// InitGlobalTracer installs the global tracer provider for the configured
// mode. The returned provider should be shut down by the caller on exit.
func InitGlobalTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	cfg.SetDefaults()

	if cfg.Mode == TracingNone {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Mode {
	case TracingOTLP:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case TracingConsole:
		exporter, err = stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
	default:
		return nil, fmt.Errorf("unknown tracing mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
