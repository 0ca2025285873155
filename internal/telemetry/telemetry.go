// Package telemetry wires per-evaluation OpenTelemetry spans, grounded on
// the teacher's tracing package but narrowed to the stdout exporter: a
// library evaluating in-process memories has no collector endpoint to
// ship spans to, and the stdout exporter is enough to make every
// evaluation's timing and precursor fan-out inspectable.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/allaspectsdev/pensieve"

// Tracer returns the global tracer used to instrument evaluations.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Init registers a global TracerProvider writing pretty-printed spans to
// stdout, and returns a shutdown function the caller should defer. Init is
// optional: a Pensieve that never calls it just gets a no-op tracer from
// the otel SDK's default provider, so instrumentation is free until a
// caller opts in.
func Init(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	res, err := resource.New(ctx, resource.WithAttributes())
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// StartEvaluation opens a span covering one Memory.content call. The
// caller is responsible for calling span.End() and should call
// RecordOutcome once the fingerprint and cache outcome are known.
func StartEvaluation(ctx context.Context, key string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "pensieve.evaluate",
		trace.WithAttributes(attribute.String("memory.key", key)),
	)
}

// RecordOutcome annotates span with the fingerprint and hit/miss outcome
// of a content() call, once known.
func RecordOutcome(span trace.Span, fingerprint string, hit bool) {
	span.SetAttributes(
		attribute.String("memory.fingerprint", fingerprint),
		attribute.Bool("memory.cache_hit", hit),
	)
}
