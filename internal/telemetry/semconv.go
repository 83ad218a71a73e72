package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// MeterName scopes the instruments created by the shmpub commands.
const MeterName = "shmpub"

// Attribute keys for shmpub telemetry.
const (
	AttrPoolName      = attribute.Key("pool.name")
	AttrResult        = attribute.Key("result")
	AttrKey           = attribute.Key("key")
	AttrLinkDirection = attribute.Key("link.direction")
	AttrEnvironment   = attribute.Key("environment")
)

// Instrument names.
const (
	MetricAllocAttempts    = "shm.alloc.attempts"
	MetricAllocFailures    = "shm.alloc.failures"
	MetricGCReclaimed      = "shm.gc.reclaimed"
	MetricDefragCoalesced  = "shm.defrag.coalesced"
	MetricAcquireDuration  = "shm.acquire.duration"
	MetricSamplesPublished = "session.samples.published"
	MetricSamplesReceived  = "session.samples.received"
	MetricSessionLinks     = "session.links"
)

// Result values.
const (
	ResultFast      = "fast"
	ResultRecovered = "recovered"
	ResultExhausted = "exhausted"
	ResultCanceled  = "canceled"
	ResultFailed    = "failed"
)

// Link directions.
const (
	LinkInbound  = "inbound"
	LinkOutbound = "outbound"
)

// PoolAttributes returns common attributes for pool metrics.
func PoolAttributes(environment, poolName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrPoolName.String(poolName),
	}
}

// PoolResultAttributes returns pool attributes classified by outcome.
func PoolResultAttributes(environment, poolName, result string) []attribute.KeyValue {
	return append(PoolAttributes(environment, poolName), AttrResult.String(result))
}

// SampleAttributes returns attributes for sample traffic metrics.
func SampleAttributes(environment, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrKey.String(key),
	}
}

// LinkAttributes returns attributes for session link metrics.
func LinkAttributes(environment, direction string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrLinkDirection.String(direction),
	}
}
