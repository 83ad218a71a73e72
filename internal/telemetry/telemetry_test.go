package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestStripScheme(t *testing.T) {
	cases := map[string]string{
		"http://collector:4318":  "collector:4318",
		"https://collector:4318": "collector:4318",
		"collector:4318":         "collector:4318",
	}
	for in, want := range cases {
		if got := stripScheme(in); got != want {
			t.Fatalf("stripScheme(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvironmentDefaults(t *testing.T) {
	SetEnvironment("")
	if Environment() != "development" {
		t.Fatalf("expected development default, got %q", Environment())
	}
	SetEnvironment(" Staging ")
	defer SetEnvironment("")
	if Environment() != "staging" {
		t.Fatalf("expected lowercased environment, got %q", Environment())
	}
}

func TestDisabledProviderUsesGlobalMeter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	p, err := NewProvider(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected disabled provider")
	}
	if p.Meter("test") == nil {
		t.Fatal("expected a meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestAcquireDurationView(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := NewMeterProvider(nil, reader)
	defer func() { _ = mp.Shutdown(context.Background()) }()

	hist, err := mp.Meter("test").Float64Histogram(MetricAcquireDuration, metric.WithUnit("ms"))
	if err != nil {
		t.Fatalf("Float64Histogram: %v", err)
	}
	hist.Record(context.Background(), 501, metric.WithAttributes(PoolResultAttributes("test", "demo", ResultRecovered)...))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) != 1 || len(rm.ScopeMetrics[0].Metrics) != 1 {
		t.Fatalf("unexpected metrics %+v", rm.ScopeMetrics)
	}
	data, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected float histogram, got %T", rm.ScopeMetrics[0].Metrics[0].Data)
	}
	bounds := data.DataPoints[0].Bounds
	if len(bounds) != 13 || bounds[9] != 500 {
		t.Fatalf("expected acquire buckets, got %v", bounds)
	}
	if data.DataPoints[0].Count != 1 {
		t.Fatalf("expected one observation, got %d", data.DataPoints[0].Count)
	}
}

func TestDefaultConfigFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_METRICS_ENABLED", "true")
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_RESOURCE_ENVIRONMENT", "")
	t.Setenv("SHMPUB_ENV", "prod")

	cfg := DefaultConfig()
	if !cfg.exporting() {
		t.Fatal("expected metrics export to be requested")
	}
	if cfg.ServiceName != MeterName {
		t.Fatalf("expected default service name %q, got %q", MeterName, cfg.ServiceName)
	}
	if cfg.Environment != "prod" {
		t.Fatalf("expected SHMPUB_ENV fallback, got %q", cfg.Environment)
	}
}
