// Package pool wraps shared memory pools with the acquire-with-recovery
// protocol and manages named pools for the shmpub commands.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/shmpub/errs"
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/shm"
	"github.com/coachpo/shmpub/internal/telemetry"
)

// DefaultBackoff is the pause between a failed allocation and recovery.
const DefaultBackoff = 500 * time.Millisecond

const acquireComponent = "pool/acquire"

// Allocator is the pool surface the client drives.
type Allocator interface {
	Alloc(size int) (*shm.Buffer, error)
	GarbageCollect() int
	Defragment() int
	Stats() shm.Stats
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the pool name used in logs, metrics and errors.
func WithName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithBackoff overrides the pause before recovery. Negative values are ignored.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithLogger sets the logger. Defaults to the global observability logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMeter sets the meter instruments are created from.
func WithMeter(meter metric.Meter) Option {
	return func(c *Client) {
		c.meter = meter
	}
}

// Client acquires buffers from one pool. On exhaustion it waits the backoff,
// asks the pool to collect and compact, then retries exactly once. A failed
// retry is terminal: every later Acquire returns ErrFailed.
//
// Acquire is meant to be driven by a single goroutine; the pool serializes
// the actual mutation.
type Client struct {
	alloc   Allocator
	name    string
	backoff time.Duration
	logger  observability.Logger
	meter   metric.Meter
	metrics clientMetrics
	sleep   func(context.Context, time.Duration) error

	state   atomic.Int32
	failure atomic.Pointer[ExhaustedError]
}

// NewClient wraps alloc.
func NewClient(alloc Allocator, opts ...Option) *Client {
	c := &Client{
		alloc:   alloc,
		name:    alloc.Stats().ID,
		backoff: DefaultBackoff,
		logger:  observability.Log(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.name == "" {
		c.name = "default"
	}
	c.metrics = newClientMetrics(c.meter)
	return c
}

// Name returns the pool name.
func (c *Client) Name() string { return c.name }

// State returns the current recovery state.
func (c *Client) State() State { return State(c.state.Load()) }

// Acquire returns a buffer of exactly size bytes.
func (c *Client) Acquire(ctx context.Context, size int) (*shm.Buffer, error) {
	if size <= 0 {
		return nil, errs.New(acquireComponent, errs.CodeInvalid,
			errs.WithMessage("buffer size must be positive"),
			errs.WithDetail("pool", c.name),
			errs.WithDetail("size", strconv.Itoa(size)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.State() == StateFailed {
		return nil, fmt.Errorf("%w: %w", ErrFailed, c.failure.Load())
	}

	start := time.Now()
	buf, err := c.alloc.Alloc(size)
	c.metrics.attempt(ctx, c.name, err != nil)
	if err == nil {
		c.metrics.finish(ctx, c.name, telemetry.ResultFast, start)
		return buf, nil
	}
	if !errors.Is(err, shm.ErrOutOfMemory) {
		c.metrics.finish(ctx, c.name, telemetry.ResultFailed, start)
		return nil, fmt.Errorf("pool %s: %w", c.name, err)
	}

	c.state.Store(int32(StateRecovering))
	c.logger.Debug("allocation failed, backing off",
		observability.F("pool", c.name),
		observability.F("size", size),
		observability.F("backoff", c.backoff))

	if err := ctx.Err(); err != nil {
		return nil, c.abandon(ctx, start, err)
	}
	if err := c.sleep(ctx, c.backoff); err != nil {
		return nil, c.abandon(ctx, start, err)
	}

	reclaimed := c.alloc.GarbageCollect()
	c.logger.Info("gc collected after failed allocation, retrying",
		observability.F("pool", c.name),
		observability.F("bytes", reclaimed))
	coalesced := c.alloc.Defragment()
	c.logger.Info("de-fragmented memory",
		observability.F("pool", c.name),
		observability.F("bytes", coalesced))
	c.metrics.recovery(ctx, c.name, reclaimed, coalesced)

	buf, err = c.alloc.Alloc(size)
	c.metrics.attempt(ctx, c.name, err != nil)
	if err == nil {
		c.state.Store(int32(StateFast))
		c.metrics.finish(ctx, c.name, telemetry.ResultRecovered, start)
		return buf, nil
	}

	st := c.alloc.Stats()
	exhausted := &ExhaustedError{
		Pool:      c.name,
		Requested: size,
		Free:      st.Free,
		Largest:   st.LargestFree,
		Reclaimed: reclaimed,
		Coalesced: coalesced,
		cause:     err,
	}
	c.failure.Store(exhausted)
	c.state.Store(int32(StateFailed))
	c.metrics.finish(ctx, c.name, telemetry.ResultExhausted, start)
	c.logger.Error("shared memory exhausted",
		observability.F("pool", c.name),
		observability.F("requested", size),
		observability.F("free", st.Free),
		observability.F("largest", st.LargestFree))
	return nil, exhausted
}

func (c *Client) abandon(ctx context.Context, start time.Time, err error) error {
	c.state.Store(int32(StateFast))
	c.metrics.finish(context.WithoutCancel(ctx), c.name, telemetry.ResultCanceled, start)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
