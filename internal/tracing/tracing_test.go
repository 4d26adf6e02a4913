package tracing

import (
	"context"
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return exporter
}

func TestStartSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "engine.execute",
		attribute.String("task_key", "agents.sdr"),
	)
	if GetTraceID(ctx) == "" {
		t.Error("GetTraceID returned empty inside a span")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "engine.execute" {
		t.Errorf("span name = %q, want engine.execute", spans[0].Name)
	}
}

func TestGetTraceIDNoSpan(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("GetTraceID(empty ctx) = %q, want empty", got)
	}
}

func TestTaskTracePropagation(t *testing.T) {
	setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "api.trigger")
	defer span.End()
	wantTrace := GetTraceID(ctx)

	headers := PropagateTraceToTask(ctx)
	if len(headers) == 0 {
		t.Fatal("PropagateTraceToTask returned no headers")
	}

	extracted := ExtractTraceFromTask(context.Background(), headers)
	childCtx, childSpan := StartSpan(extracted, "worker.task")
	defer childSpan.End()

	if got := GetTraceID(childCtx); got != wantTrace {
		t.Errorf("propagated trace id = %q, want %q", got, wantTrace)
	}
}

func TestGetOTLPEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "unset uses default", value: "", want: "tempo:4318"},
		{name: "plain host port", value: "collector:4318", want: "collector:4318"},
		{name: "strips http scheme", value: "http://collector:4318", want: "collector:4318"},
		{name: "strips https scheme", value: "https://collector:4318", want: "collector:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
			} else {
				os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.value)
				defer os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
			}
			if got := getOTLPEndpoint(); got != tt.want {
				t.Errorf("getOTLPEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}
