package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/easyops/contextcore-go/pkg/core/config"
	coreerrors "github.com/easyops/contextcore-go/pkg/core/errors"
	"github.com/easyops/contextcore-go/pkg/otel"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	if cfg.Engine.DefaultTokenBudget != 8192 {
		t.Fatalf("expected default budget 8192, got %d", cfg.Engine.DefaultTokenBudget)
	}
	if cfg.Engine.TokenModel != "gpt-4o" {
		t.Fatalf("expected gpt-4o, got %s", cfg.Engine.TokenModel)
	}
	if cfg.Engine.MaxDepth != 64 {
		t.Fatalf("expected depth 64, got %d", cfg.Engine.MaxDepth)
	}
	if cfg.Engine.DebounceWindow != 150*time.Millisecond {
		t.Fatalf("expected 150ms debounce, got %v", cfg.Engine.DebounceWindow)
	}
	if cfg.Engine.RecomputeDelay != 200*time.Millisecond {
		t.Fatalf("expected 200ms recompute delay, got %v", cfg.Engine.RecomputeDelay)
	}
	if cfg.Store.ItemType != "memory" || cfg.Store.GraphType != "memory" {
		t.Fatalf("expected memory stores, got %s/%s", cfg.Store.ItemType, cfg.Store.GraphType)
	}
	if cfg.Observability.ExporterType != "stdout" || cfg.Observability.SampleRate != 1.0 {
		t.Fatalf("unexpected observability defaults: %+v", cfg.Observability)
	}

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"negative budget", func(c *config.Config) { c.Engine.DefaultTokenBudget = -1 }},
		{"min relevance above one", func(c *config.Config) { c.Engine.MinRelevance = 1.5 }},
		{"min relevance negative", func(c *config.Config) { c.Engine.MinRelevance = -0.1 }},
		{"zero max depth", func(c *config.Config) { c.Engine.MaxDepth = 0 }},
		{"sample rate above one", func(c *config.Config) { c.Observability.SampleRate = 2 }},
		{"unknown item store", func(c *config.Config) { c.Store.ItemType = "postgres" }},
		{"unknown graph store", func(c *config.Config) { c.Store.GraphType = "dgraph" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			if err := config.Validate(cfg); !errors.Is(err, coreerrors.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("CONTEXTCORE_OBSERVABILITY_ENABLED", "true")
	t.Setenv("CONTEXTCORE_OBSERVABILITY_ENDPOINT", "collector:4317")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.Observability.Enabled {
		t.Fatal("expected observability enabled from env")
	}
	if cfg.Observability.Endpoint != "collector:4317" {
		t.Fatalf("expected endpoint from env, got %s", cfg.Observability.Endpoint)
	}

	// untouched sections keep their defaults
	if cfg.Engine.DefaultTokenBudget != 8192 {
		t.Fatalf("expected default budget, got %d", cfg.Engine.DefaultTokenBudget)
	}
	if cfg.Store.ItemType != "memory" {
		t.Fatalf("expected memory item store, got %s", cfg.Store.ItemType)
	}
}

func TestObservabilityOTelConfig(t *testing.T) {
	obs := config.ObservabilityConfig{
		Enabled:      true,
		ServiceName:  "contextcore-test",
		ExporterType: "otlp-grpc",
		Endpoint:     "collector:4317",
		SampleRate:   0.25,
	}

	cfg := obs.OTelConfig()
	if !cfg.Enabled || !cfg.Tracing.Enabled || !cfg.Metrics.Enabled {
		t.Fatalf("expected all sections enabled, got %+v", cfg)
	}
	if cfg.ServiceName != "contextcore-test" {
		t.Fatalf("expected service name carried over, got %s", cfg.ServiceName)
	}
	if cfg.Tracing.Exporter != otel.ExporterOTLPGRPC || cfg.Metrics.Exporter != otel.ExporterOTLPGRPC {
		t.Fatalf("expected otlp-grpc exporters, got %s/%s", cfg.Tracing.Exporter, cfg.Metrics.Exporter)
	}
	if cfg.Tracing.Endpoint != "collector:4317" || cfg.Metrics.Endpoint != "collector:4317" {
		t.Fatalf("expected endpoint on both sections, got %+v", cfg)
	}
	if cfg.Tracing.SampleRate != 0.25 {
		t.Fatalf("expected sample rate 0.25, got %v", cfg.Tracing.SampleRate)
	}
	// gaps fall back to the otel defaults
	if cfg.ServiceVersion == "" || cfg.Tracing.Timeout == 0 || cfg.Metrics.Interval == 0 {
		t.Fatalf("expected defaults filled in, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("mapped config must validate: %v", err)
	}
}

func TestLoaderAccessors(t *testing.T) {
	t.Setenv("CONTEXTCORE_OBSERVABILITY_ENDPOINT", "collector:4317")

	l := config.NewLoader()
	if err := l.LoadEnv("CONTEXTCORE_"); err != nil {
		t.Fatalf("load env: %v", err)
	}

	if got := l.GetString("observability.endpoint"); got != "collector:4317" {
		t.Fatalf("expected endpoint, got %q", got)
	}
	if l.Get("observability.missing") != nil {
		t.Fatal("expected nil for a missing key")
	}
}
