package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/shmpub/internal/telemetry"
)

type sessionMetrics struct {
	publishedCounter metric.Int64Counter
	receivedCounter  metric.Int64Counter
	linkGauge        metric.Int64UpDownCounter
}

func newSessionMetrics(meter metric.Meter) sessionMetrics {
	if meter == nil {
		meter = otel.Meter("session")
	}
	var m sessionMetrics
	m.publishedCounter, _ = meter.Int64Counter(telemetry.MetricSamplesPublished,
		metric.WithDescription("Number of samples put by local publishers"),
		metric.WithUnit("{sample}"))
	m.receivedCounter, _ = meter.Int64Counter(telemetry.MetricSamplesReceived,
		metric.WithDescription("Number of samples received from links"),
		metric.WithUnit("{sample}"))
	m.linkGauge, _ = meter.Int64UpDownCounter(telemetry.MetricSessionLinks,
		metric.WithDescription("Number of established links"),
		metric.WithUnit("{link}"))
	return m
}

func (m sessionMetrics) published(ctx context.Context, key string) {
	m.publishedCounter.Add(ctx, 1, metric.WithAttributes(telemetry.SampleAttributes(telemetry.Environment(), key)...))
}

func (m sessionMetrics) received(ctx context.Context, key string) {
	m.receivedCounter.Add(ctx, 1, metric.WithAttributes(telemetry.SampleAttributes(telemetry.Environment(), key)...))
}

func (m sessionMetrics) linkOpened(ctx context.Context, direction string) {
	m.linkGauge.Add(ctx, 1, metric.WithAttributes(telemetry.LinkAttributes(telemetry.Environment(), direction)...))
}

func (m sessionMetrics) linkClosed(ctx context.Context, direction string) {
	m.linkGauge.Add(ctx, -1, metric.WithAttributes(telemetry.LinkAttributes(telemetry.Environment(), direction)...))
}
