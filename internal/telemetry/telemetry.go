// Package telemetry wires shmpub metrics to an OTLP/HTTP collector through
// the OpenTelemetry SDK and names the instruments and attributes used.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	instrumentationsdk "go.opentelemetry.io/otel/sdk/instrumentation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

const (
	serviceVersion     = "1.0.0"
	defaultEnvironment = "development"
)

// acquireBuckets spans the sub-millisecond fast path up to a recovery that
// includes the 500ms backoff.
var acquireBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 25, 100, 250, 500, 750, 1000, 2500}

var environment atomic.Value

// Config selects what the Provider exports and how the resource is labelled.
type Config struct {
	Enabled          bool
	EnableMetrics    bool
	OTLPEndpoint     string
	OTLPInsecure     bool
	MetricInterval   time.Duration
	ShutdownTimeout  time.Duration
	ServiceName      string
	ServiceVersion   string
	ServiceNamespace string
	Environment      string
}

// DefaultConfig reads the standard OTEL_* variables. Metrics stay off unless
// OTEL_METRICS_ENABLED=true.
func DefaultConfig() Config {
	return Config{
		Enabled:          os.Getenv("OTEL_ENABLED") != "false",
		EnableMetrics:    os.Getenv("OTEL_METRICS_ENABLED") == "true",
		OTLPEndpoint:     envOr("localhost:4318", "OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		MetricInterval:   30 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		ServiceName:      envOr(MeterName, "OTEL_SERVICE_NAME"),
		ServiceVersion:   serviceVersion,
		ServiceNamespace: os.Getenv("OTEL_SERVICE_NAMESPACE"),
		Environment:      envOr(defaultEnvironment, "OTEL_RESOURCE_ENVIRONMENT", "SHMPUB_ENV"),
	}
}

// envOr returns the first non-blank variable among keys, or fallback.
func envOr(fallback string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return fallback
}

// exporting reports whether cfg asks for an SDK pipeline.
func (c Config) exporting() bool { return c.Enabled && c.EnableMetrics }

// Provider owns the SDK meter provider when metrics are exported. A Provider
// built with metrics off hands out meters from the global no-op provider.
type Provider struct {
	mp  *sdkmetric.MeterProvider
	cfg Config
}

// NewProvider records cfg.Environment for metric labels and, when metrics
// are enabled, installs an OTLP/HTTP pipeline as the global meter provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	SetEnvironment(cfg.Environment)
	p := &Provider{cfg: cfg}
	if !cfg.exporting() {
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(cfg)...),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(stripScheme(cfg.OTLPEndpoint))}
	if cfg.OTLPInsecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	p.mp = NewMeterProvider(res, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval)))
	otel.SetMeterProvider(p.mp)
	return p, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.ServiceNamespace != "" {
		attrs = append(attrs, semconv.ServiceNamespaceKey.String(cfg.ServiceNamespace))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, AttrEnvironment.String(strings.ToLower(cfg.Environment)))
	}
	return attrs
}

// NewMeterProvider builds an SDK meter provider with the shmpub views
// reading through reader. res may be nil.
func NewMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader), sdkmetric.WithView(acquireDurationView())}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

func acquireDurationView() sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{
			Name:  MetricAcquireDuration,
			Kind:  sdkmetric.InstrumentKindHistogram,
			Unit:  "ms",
			Scope: instrumentationsdk.Scope{},
		},
		sdkmetric.Stream{
			Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: acquireBuckets},
		},
	)
}

// Meter returns a named meter from the SDK provider, or from the global
// provider when metrics are off.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p == nil || p.mp == nil {
		return otel.Meter(name, opts...)
	}
	return p.mp.Meter(name, opts...)
}

// Enabled reports whether metrics are exported.
func (p *Provider) Enabled() bool { return p != nil && p.mp != nil }

// Shutdown flushes pending metrics, bounded by the configured timeout.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if p.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

// stripScheme turns a collector URL into the host:port the OTLP/HTTP
// exporter expects.
func stripScheme(endpoint string) string {
	for _, scheme := range []string{"http://", "https://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	return endpoint
}

// SetEnvironment sets the environment label attached to every metric.
func SetEnvironment(env string) {
	environment.Store(strings.ToLower(strings.TrimSpace(env)))
}

// Environment returns the environment label, "development" when unset.
func Environment() string {
	if env, _ := environment.Load().(string); env != "" {
		return env
	}
	return defaultEnvironment
}
