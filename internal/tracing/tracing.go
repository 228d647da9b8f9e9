// Package tracing configures the OpenTelemetry SDK for the CLI. Engine
// packages only use the global otel.Tracer; this package decides where
// those spans go.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Setup installs a global tracer provider and returns its shutdown
// function. Without PLAYBOOK_TRACE the provider keeps the default no-op
// behavior and shutdown is trivial; with PLAYBOOK_TRACE=stdout spans are
// written to stderr as JSON.
func Setup(serviceName, version string) (func(context.Context) error, error) {
	mode := os.Getenv("PLAYBOOK_TRACE")
	if mode == "" {
		return func(context.Context) error { return nil }, nil
	}
	if mode != "stdout" && mode != "1" && mode != "true" {
		return nil, fmt.Errorf("unsupported PLAYBOOK_TRACE value %q", mode)
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Empty schema URL avoids conflicts when merging with the default
	// resource.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
