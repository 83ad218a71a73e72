package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coachpo/shmpub/errs"
	"github.com/coachpo/shmpub/internal/keyexpr"
	"github.com/coachpo/shmpub/internal/observability"
)

// MemoryBus is an in-memory implementation of Bus. Every subscriber whose
// expression matches a sample's key receives its own handle on the sample.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
	nextID       uint64
}

type subscriber struct {
	expr   string
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan *Sample

	mu     sync.RWMutex
	closed bool
}

// NewMemoryBus constructs a memory-backed bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := new(MemoryBus)
	bus.cfg = cfg
	bus.ctx = ctx
	bus.cancel = cancel
	bus.subscribers = make(map[SubscriptionID]*subscriber)
	return bus
}

// Publish fans the sample out to every matching subscriber. The caller keeps
// its own reference to sample and must still release it. A subscriber whose
// buffer is full misses the sample; the others still receive it and the
// misses are reported together.
func (b *MemoryBus) Publish(ctx context.Context, sample *Sample) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if sample == nil {
		return nil
	}
	if err := keyexpr.ValidateKey(sample.Key); err != nil {
		return errs.New("bus/publish", errs.CodeInvalid, errs.WithMessage("invalid sample key"), errs.WithCause(err))
	}
	if b.ctx.Err() != nil {
		return errs.New("bus/publish", errs.CodeClosed, errs.WithMessage("bus closed"))
	}

	// Snapshot subscribers to avoid holding lock during delivery.
	b.mu.RLock()
	matched := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if keyexpr.Match(sub.expr, sample.Key) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	var failures []error
	for _, sub := range matched {
		if err := b.deliver(ctx, sub, sample); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return observability.AggregateErrors("bus/publish", failures,
		observability.F("key", sample.Key),
		observability.F("seq", sample.Seq))
}

// Subscribe registers for samples whose key matches expr. The channel closes
// when ctx ends, on Unsubscribe, or when the bus closes. Receivers must
// release every sample they take from it.
func (b *MemoryBus) Subscribe(ctx context.Context, expr string) (SubscriptionID, <-chan *Sample, error) {
	if err := keyexpr.Validate(expr); err != nil {
		return "", nil, errs.New("bus/subscribe", errs.CodeInvalid, errs.WithMessage("invalid key expression"), errs.WithCause(err))
	}
	if b.ctx.Err() != nil {
		return "", nil, errs.New("bus/subscribe", errs.CodeClosed, errs.WithMessage("bus closed"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	sub := &subscriber{
		expr:   expr,
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan *Sample, b.cfg.BufferSize),
	}
	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	go b.observe(id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes the channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Subscribers returns the number of active subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		subs := b.subscribers
		b.subscribers = make(map[SubscriptionID]*subscriber)
		b.mu.Unlock()
		for _, sub := range subs {
			sub.close()
		}
	})
}

func (b *MemoryBus) observe(id SubscriptionID, sub *subscriber) {
	select {
	case <-sub.ctx.Done():
	case <-b.ctx.Done():
	}
	b.mu.Lock()
	if stored, ok := b.subscribers[id]; ok && stored == sub {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	sub.close()
}

func (b *MemoryBus) deliver(ctx context.Context, sub *subscriber, sample *Sample) error {
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	if sub.closed || sub.ctx.Err() != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deliver context: %w", err)
	}

	out := sample.clone()
	select {
	case sub.ch <- out:
		return nil
	default:
		out.Release()
		return errs.New("bus/publish", errs.CodeUnavailable,
			errs.WithMessage("subscriber buffer full"),
			errs.WithDetail("expr", sub.expr))
	}
}

// close shuts the channel and releases samples nobody received.
func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	close(s.ch)
	s.mu.Unlock()

	for sample := range s.ch {
		sample.Release()
	}
}
