// Package tracing wires the optional OpenTelemetry OTLP exporter
// (SPEC_FULL.md's domain-stack expansion). The only spans in this service
// come from the otelgrpc interceptor on cmd/pkd-server's admin gRPC server;
// the pipeline stages themselves open no spans. None of the retrieved
// example repos wire go.opentelemetry.io/otel themselves beyond referencing
// a process-wide TracerProvider (other_examples' boulder ca.go snippet), so
// the exporter bootstrap here follows the library's own documented SDK
// setup rather than a pack-grounded pattern.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewExporter configures the global TracerProvider to export spans to
// endpoint over OTLP/gRPC. An empty endpoint installs a no-op provider so
// span creation elsewhere in the codebase stays a free no-op without an
// operator needing to configure a collector.
func NewExporter(endpoint, serviceName string) (func(context.Context) error, error) {
	if endpoint == "" {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(context.Background(), otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
