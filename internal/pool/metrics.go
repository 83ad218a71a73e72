package pool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/shmpub/internal/telemetry"
)

type clientMetrics struct {
	attempts  metric.Int64Counter
	failures  metric.Int64Counter
	reclaimed metric.Int64Counter
	coalesced metric.Int64Counter
	duration  metric.Float64Histogram
}

func newClientMetrics(meter metric.Meter) clientMetrics {
	if meter == nil {
		meter = otel.Meter("pool")
	}
	var m clientMetrics
	m.attempts, _ = meter.Int64Counter(telemetry.MetricAllocAttempts,
		metric.WithDescription("Number of shared memory allocation attempts"),
		metric.WithUnit("{attempt}"))
	m.failures, _ = meter.Int64Counter(telemetry.MetricAllocFailures,
		metric.WithDescription("Number of failed shared memory allocation attempts"),
		metric.WithUnit("{attempt}"))
	m.reclaimed, _ = meter.Int64Counter(telemetry.MetricGCReclaimed,
		metric.WithDescription("Bytes reclaimed by garbage collection after a failed allocation"),
		metric.WithUnit("By"))
	m.coalesced, _ = meter.Int64Counter(telemetry.MetricDefragCoalesced,
		metric.WithDescription("Free bytes coalesced by defragmentation after a failed allocation"),
		metric.WithUnit("By"))
	m.duration, _ = meter.Float64Histogram(telemetry.MetricAcquireDuration,
		metric.WithDescription("Latency of acquire operations including recovery"),
		metric.WithUnit("ms"))
	return m
}

func (m clientMetrics) attempt(ctx context.Context, pool string, failed bool) {
	attrs := metric.WithAttributes(telemetry.PoolAttributes(telemetry.Environment(), pool)...)
	m.attempts.Add(ctx, 1, attrs)
	if failed {
		m.failures.Add(ctx, 1, attrs)
	}
}

func (m clientMetrics) recovery(ctx context.Context, pool string, reclaimed, coalesced int) {
	attrs := metric.WithAttributes(telemetry.PoolAttributes(telemetry.Environment(), pool)...)
	m.reclaimed.Add(ctx, int64(reclaimed), attrs)
	m.coalesced.Add(ctx, int64(coalesced), attrs)
}

func (m clientMetrics) finish(ctx context.Context, pool, result string, start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	m.duration.Record(ctx, elapsed, metric.WithAttributes(
		telemetry.PoolResultAttributes(telemetry.Environment(), pool, result)...))
}
