// Package telemetry initializes OpenTelemetry distributed tracing so a
// request's correlation ID can be followed from the Automation API
// through the Workflow Engine's node transitions. Grounded on the
// donor's internal/telemetry package (OTLP gRPC exporter + batching
// trace provider), trimmed of its custom-metrics Meter since this
// domain's counters and histograms already live in internal/metrics'
// Prometheus collectors — a second parallel metrics pipeline would just
// duplicate them.
package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the process-wide tracer, set once Init succeeds.
var Tracer trace.Tracer

// Init wires an OTLP/gRPC trace exporter into a batching TracerProvider
// and installs a W3C trace-context propagator, so the correlation ID
// a client sends with an event becomes a span attribute carried across
// the Automation API, Job Queue Adapter, and Workflow Engine. Returns a
// shutdown func that flushes pending spans.
func Init(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	log.Printf("[Telemetry] tracing initialized, exporting to %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return provider.Shutdown(shutdownCtx)
	}, nil
}
