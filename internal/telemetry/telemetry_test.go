package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEvaluation_AndRecordOutcome_SetExpectedAttributes(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartEvaluation(context.Background(), "fib10")
	RecordOutcome(span, "abc123", true)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	got := make(map[string]string)
	for _, a := range spans[0].Attributes {
		got[string(a.Key)] = a.Value.Emit()
	}
	if got["memory.key"] != "fib10" {
		t.Fatalf("expected memory.key=fib10, got %q", got["memory.key"])
	}
	if got["memory.fingerprint"] != "abc123" {
		t.Fatalf("expected memory.fingerprint=abc123, got %q", got["memory.fingerprint"])
	}
	if got["memory.cache_hit"] != "true" {
		t.Fatalf("expected memory.cache_hit=true, got %q", got["memory.cache_hit"])
	}
}

func TestInit_InstallsGlobalProviderAndShutsDownCleanly(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	shutdown, err := Init(context.Background(), "telemetry-test")
	if err != nil {
		t.Fatal(err)
	}
	if otel.GetTracerProvider() == prev {
		t.Fatal("expected Init to install a new global tracer provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown returned error: %v", err)
	}
}
