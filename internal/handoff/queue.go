// Package handoff provides an unbounded FIFO queue connecting a producer
// goroutine to a consumer goroutine.
package handoff

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Send after Close, and by Recv once a closed queue
// is drained.
var ErrClosed = errors.New("handoff: queue closed")

// Queue is an unbounded multi-producer multi-consumer FIFO. Send never blocks.
type Queue[T any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	ready  chan struct{}
	closed bool
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: queue.New(),
		ready: make(chan struct{}),
	}
}

// Send appends v.
func (q *Queue[T]) Send(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items.Add(v)
	q.wakeLocked()
	return nil
}

// Recv blocks until an item is available, the queue is closed and drained, or
// ctx ends.
func (q *Queue[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			v, _ := q.items.Remove().(T)
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-ready:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Close stops accepting items. Queued items remain receivable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

// Drain removes and returns every queued item.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, 0, q.items.Length())
	for q.items.Length() > 0 {
		v, _ := q.items.Remove().(T)
		out = append(out, v)
	}
	return out
}

func (q *Queue[T]) wakeLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}
