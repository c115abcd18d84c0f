package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Enabled {
		t.Error("telemetry enabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"empty service version", func(c *Config) { c.ServiceVersion = "" }},
		{"negative sample rate", func(c *Config) { c.SampleRate = -0.1 }},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.5 }},
		{"zero metric interval", func(c *Config) { c.MetricInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestConfigLoadFromEnv(t *testing.T) {
	t.Setenv("STRATA_TELEMETRY_ENABLED", "true")
	t.Setenv("STRATA_TELEMETRY_SERVICE_NAME", "strata-test")
	t.Setenv("STRATA_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("STRATA_TELEMETRY_METRIC_INTERVAL", "5s")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	if !cfg.Enabled {
		t.Error("enabled not loaded")
	}
	if cfg.ServiceName != "strata-test" {
		t.Errorf("service name = %q", cfg.ServiceName)
	}
	if cfg.SampleRate != 0.25 {
		t.Errorf("sample rate = %f", cfg.SampleRate)
	}
	if cfg.MetricInterval != 5*time.Second {
		t.Errorf("metric interval = %s", cfg.MetricInterval)
	}
}

func TestDisabledConfigYieldsNoop(t *testing.T) {
	tel, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if _, ok := tel.(*NoopTelemetry); !ok {
		t.Errorf("disabled config produced %T, want noop", tel)
	}
}

func TestNoopIsSafe(t *testing.T) {
	tel := NewNoop()
	ctx := context.Background()

	tel.RecordCounter(ctx, "counter", 1)
	tel.RecordHistogram(ctx, "histogram", 1.0)
	spanCtx, span := tel.StartSpan(ctx, "span")
	span.End()
	if spanCtx == nil {
		t.Error("noop span context is nil")
	}
	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("noop shutdown: %v", err)
	}
}

func TestEngineMetricsWithNoopBackend(t *testing.T) {
	m := NewEngineMetrics(nil)
	ctx := context.Background()

	m.RecordOperation(ctx, OpTypePut, time.Now(), nil)
	m.RecordWrite(ctx, 128)
	m.RecordRead(ctx, 64)
	m.RecordFlush(ctx, time.Now(), nil)
	m.RecordCompaction(ctx, 0)
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
