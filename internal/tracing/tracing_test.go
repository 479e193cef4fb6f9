package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/statewheel/engine/internal/config"
)

func TestInit_NoneExporterReturnsNoopShutdown(t *testing.T) {
	tracer, shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if tracer == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown returned error: %v", err)
	}
}

func TestInit_StdoutExporter(t *testing.T) {
	tracer, shutdown, err := Init(context.Background(), config.TracingConfig{Exporter: "stdout", ServiceName: "test-engine"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartStep(context.Background(), tracer, "engine.process", "inst-1", "start")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	span.End()
}

func TestInit_UnknownExporter(t *testing.T) {
	_, _, err := Init(context.Background(), config.TracingConfig{Exporter: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestEndWithError_RecordsErrorStatus(t *testing.T) {
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	EndWithError(span, errors.New("boom"))
}
