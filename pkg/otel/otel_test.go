package otel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/easyops/contextcore-go/pkg/otel"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := otel.Config{}.WithDefaults()

	if cfg.ServiceName != "contextcore" {
		t.Fatalf("expected default service name, got %s", cfg.ServiceName)
	}
	if cfg.Tracing.Exporter != otel.ExporterStdout {
		t.Fatalf("expected stdout exporter, got %s", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %v", cfg.Tracing.SampleRate)
	}
	if cfg.Metrics.Interval != 60*time.Second {
		t.Fatalf("expected 60s metrics interval, got %v", cfg.Metrics.Interval)
	}
}

func TestConfigWithDefaultsKeepsExplicit(t *testing.T) {
	cfg := otel.Config{
		ServiceName: "custom",
		Tracing: otel.TracingConfig{
			Exporter:   otel.ExporterOTLPGRPC,
			Endpoint:   "collector:4317",
			SampleRate: 0.5,
		},
	}.WithDefaults()

	if cfg.ServiceName != "custom" {
		t.Fatalf("explicit service name overridden: %s", cfg.ServiceName)
	}
	if cfg.Tracing.Exporter != otel.ExporterOTLPGRPC || cfg.Tracing.Endpoint != "collector:4317" {
		t.Fatalf("explicit exporter overridden: %+v", cfg.Tracing)
	}
	if cfg.Tracing.SampleRate != 0.5 {
		t.Fatalf("explicit sample rate overridden: %v", cfg.Tracing.SampleRate)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := otel.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	cfg.Tracing.SampleRate = 1.5
	if err := cfg.Validate(); !errors.Is(err, otel.ErrInvalidSampleRate) {
		t.Fatalf("expected ErrInvalidSampleRate, got %v", err)
	}

	cfg.Tracing.SampleRate = -0.1
	if err := cfg.Validate(); !errors.Is(err, otel.ErrInvalidSampleRate) {
		t.Fatalf("expected ErrInvalidSampleRate, got %v", err)
	}
}

func TestInMemoryMetrics(t *testing.T) {
	m := otel.NewInMemoryMetrics()
	ctx := context.Background()

	m.Counter("test.counter").Add(ctx, 1)
	m.Counter("test.counter").Add(ctx, 2)
	if got := m.GetCounterValue("test.counter"); got != 3 {
		t.Fatalf("expected counter 3, got %d", got)
	}
	if got := m.GetCounterValue("test.missing"); got != 0 {
		t.Fatalf("expected 0 for unknown counter, got %d", got)
	}

	m.Gauge("test.gauge").Set(ctx, 1.5)
	m.Gauge("test.gauge").Set(ctx, 2.5)
	if got := m.GetGaugeValue("test.gauge"); got != 2.5 {
		t.Fatalf("expected gauge 2.5, got %v", got)
	}

	h := m.Histogram("test.histogram")
	h.Record(ctx, 10)
	h.Record(ctx, 20)
	values := m.Histogram("test.histogram").(*otel.InMemoryHistogram).Values()
	if len(values) != 2 || values[0] != 10 || values[1] != 20 {
		t.Fatalf("expected [10 20], got %v", values)
	}
}

func TestNoopTracerSpans(t *testing.T) {
	tracer := otel.NewNoopTracer()

	ctx, span := tracer.Start(context.Background(), "test.operation",
		otel.WithAttributes(otel.ContextID("ctx-1")))
	if ctx == nil {
		t.Fatal("expected a context back")
	}

	// all span operations are safe no-ops
	span.SetAttributes(otel.PlanAttrs(100, 2, false)...)
	span.AddEvent("something happened")
	span.RecordError(errors.New("boom"))
	span.SetStatus(otel.StatusError, "boom")
	span.End()

	if sc := span.SpanContext(); sc.TraceID != "" || sc.SpanID != "" {
		t.Fatalf("noop span must have empty identifiers: %+v", sc)
	}
}

func TestAttributeHelpers(t *testing.T) {
	if kv := otel.ContextID("ctx-1"); kv.Key != attribute.Key(otel.AttrContextID) || kv.Value.AsString() != "ctx-1" {
		t.Fatalf("unexpected context attribute: %+v", kv)
	}
	if kv := otel.PlanBudget(700); kv.Value.AsInt64() != 700 {
		t.Fatalf("unexpected budget attribute: %+v", kv)
	}

	attrs := otel.PlanAttrs(650, 3, true)
	if len(attrs) != 3 {
		t.Fatalf("expected 3 plan attributes, got %d", len(attrs))
	}
	if attrs[2].Key != attribute.Key(otel.AttrPlanTruncated) || !attrs[2].Value.AsBool() {
		t.Fatalf("unexpected truncated attribute: %+v", attrs[2])
	}
}
