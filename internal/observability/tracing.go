package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingOptions configures SetupTracing.
type TracingOptions struct {
	ServiceName string
	Version     string
	// Stdout exports spans as JSON to Writer (os.Stdout when nil).
	Stdout bool
	Writer io.Writer
}

// SetupTracing installs a global tracer provider. Without an exporter the
// provider still creates spans so trace ids propagate, but nothing is
// exported. The returned function flushes and shuts the provider down.
func SetupTracing(opts TracingOptions) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.Version),
	)

	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if opts.Stdout {
		exporterOpts := []stdouttrace.Option{}
		if opts.Writer != nil {
			exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
		}
		exporter, err := stdouttrace.New(exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
