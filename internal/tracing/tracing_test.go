package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSyncer(exporter)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exporter
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		expected string
	}{
		{name: "host and port", endpoint: "tempo:4318", expected: "tempo:4318"},
		{name: "http scheme", endpoint: "http://collector:4318", expected: "collector:4318"},
		{name: "https scheme", endpoint: "https://collector.example.com", expected: "collector.example.com"},
		{name: "trailing slash and spaces", endpoint: " http://localhost:4318/ ", expected: "localhost:4318"},
		{name: "empty", endpoint: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeEndpoint(tt.endpoint); got != tt.expected {
				t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.endpoint, got, tt.expected)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		contains string
	}{
		{name: "disabled", ratio: 0, contains: "root:AlwaysOffSampler"},
		{name: "negative", ratio: -1, contains: "root:AlwaysOffSampler"},
		{name: "always", ratio: 1, contains: "root:AlwaysOnSampler"},
		{name: "above one", ratio: 5, contains: "root:AlwaysOnSampler"},
		{name: "ratio", ratio: 0.25, contains: "root:TraceIDRatioBased"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := sampler(tt.ratio).Description()
			if !strings.Contains(desc, tt.contains) {
				t.Errorf("sampler(%v).Description() = %q, want it to contain %q", tt.ratio, desc, tt.contains)
			}
		})
	}
}

func TestInitTracingWithoutEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	shutdown, err := InitTracing(context.Background(), Options{ServiceName: "taskd", SampleRatio: 1})
	if err != nil {
		t.Fatalf("InitTracing() error: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error: %v", err)
		}
	}()

	ctx, span := StartSpan(context.Background(), "lookup")
	defer span.End()
	if GetTraceID(ctx) == "" {
		t.Error("GetTraceID() empty after InitTracing with full sampling")
	}
}

func TestStartSpanRecordsAttributes(t *testing.T) {
	exporter := installRecorder(t)

	_, span := StartSpan(context.Background(), "task.update", TaskAttr(42), attribute.String("task.status", "DONE"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "task.update" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "task.update")
	}

	found := false
	for _, kv := range spans[0].Attributes {
		if kv.Key == "task.id" && kv.Value.AsInt64() == 42 {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing task.id=42", spans[0].Attributes)
	}
}

func TestAddSpanEvent(t *testing.T) {
	exporter := installRecorder(t)

	tests := []struct {
		name      string
		hasSpan   bool
		wantCount int
	}{
		{name: "with span", hasSpan: true, wantCount: 1},
		{name: "without span", hasSpan: false, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter.Reset()
			ctx := context.Background()
			if tt.hasSpan {
				var span oteltrace.Span
				ctx, span = StartSpan(ctx, "dispatch")
				AddSpanEvent(ctx, "retry", attribute.Int("attempt", 2))
				span.End()
			} else {
				AddSpanEvent(ctx, "retry", attribute.Int("attempt", 2))
			}

			spans := exporter.GetSpans()
			events := 0
			for _, s := range spans {
				events += len(s.Events)
			}
			if events != tt.wantCount {
				t.Errorf("recorded %d events, want %d", events, tt.wantCount)
			}
		})
	}
}

func TestSetSpanError(t *testing.T) {
	exporter := installRecorder(t)

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
	}{
		{name: "error", err: errors.New("smtp down"), wantStatus: codes.Error},
		{name: "nil error", err: nil, wantStatus: codes.Unset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter.Reset()
			ctx, span := StartSpan(context.Background(), "dispatch")
			SetSpanError(ctx, tt.err)
			span.End()

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if spans[0].Status.Code != tt.wantStatus {
				t.Errorf("span status = %v, want %v", spans[0].Status.Code, tt.wantStatus)
			}
		})
	}

	// No span in context must not panic.
	SetSpanError(context.Background(), errors.New("ignored"))
}

func TestGetTraceAndSpanID(t *testing.T) {
	installRecorder(t)

	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() without span = %q, want empty", id)
	}
	if id := GetSpanID(context.Background()); id != "" {
		t.Errorf("GetSpanID() without span = %q, want empty", id)
	}

	ctx, span := StartSpan(context.Background(), "lookup")
	defer span.End()

	if id := GetTraceID(ctx); len(id) != 32 {
		t.Errorf("GetTraceID() = %q, want 32 hex chars", id)
	}
	if id := GetSpanID(ctx); len(id) != 16 {
		t.Errorf("GetSpanID() = %q, want 16 hex chars", id)
	}
}
