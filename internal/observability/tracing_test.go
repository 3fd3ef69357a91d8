package observability

import (
	"context"
	"testing"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
)

func TestApplyTracingEnvOverridesSetVariables(t *testing.T) {
	t.Setenv("ANIMAT_TRACING_ENABLED", "TRUE")
	t.Setenv("ANIMAT_TRACING_EXPORTER", "OTLP")
	t.Setenv("ANIMAT_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("ANIMAT_OTLP_ENDPOINT", "collector:4317")

	cfg := ApplyTracingEnv(DefaultTracingConfig())
	if !cfg.Enabled {
		t.Fatalf("Enabled = false, want true")
	}
	if cfg.Exporter != "otlp" {
		t.Fatalf("Exporter = %q, want otlp", cfg.Exporter)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("SampleRatio = %v, want 0.25", cfg.SampleRatio)
	}
	if cfg.Endpoint != "collector:4317" {
		t.Fatalf("Endpoint = %q, want collector:4317", cfg.Endpoint)
	}
	if cfg.ServiceName != "animat-simulator" {
		t.Fatalf("ServiceName = %q, want default", cfg.ServiceName)
	}
}

func TestApplyTracingEnvIgnoresBadRatio(t *testing.T) {
	t.Setenv("ANIMAT_TRACING_SAMPLE_RATIO", "2")

	base := DefaultTracingConfig()
	base.SampleRatio = 0.5
	if got := ApplyTracingEnv(base).SampleRatio; got != 0.5 {
		t.Fatalf("SampleRatio = %v, want 0.5 kept", got)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), DefaultTracingConfig(), logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"
	if _, err := InitTracing(context.Background(), cfg, logging.Noop()); err == nil {
		t.Fatalf("InitTracing(zipkin) succeeded, want error")
	}
}
