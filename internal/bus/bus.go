// Package bus delivers samples to in-process subscribers by key expression.
package bus

import "context"

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus delivers samples to interested subscribers.
type Bus interface {
	Publish(ctx context.Context, sample *Sample) error
	Subscribe(ctx context.Context, expr string) (SubscriptionID, <-chan *Sample, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}
