package producer

import (
	"context"

	"github.com/coachpo/shmpub/internal/handoff"
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/session"
	"github.com/coachpo/shmpub/internal/shm"
)

// QueueSink forwards buffers to an in-process consumer.
type QueueSink struct {
	Queue *handoff.Queue[*shm.Buffer]
}

// Deliver enqueues buf. The consumer owns it from here on.
func (s QueueSink) Deliver(_ context.Context, buf *shm.Buffer) error {
	if err := s.Queue.Send(buf); err != nil {
		buf.Release()
		return err
	}
	return nil
}

// Putter publishes a buffer. *session.Publisher implements it.
type Putter interface {
	Put(ctx context.Context, buf *shm.Buffer) error
}

// PublisherSink publishes buffers through a session and frees them afterwards.
type PublisherSink struct {
	Publisher Putter
	Logger    observability.Logger
}

// Deliver puts buf and releases it. Only a closed session stops the loop;
// other put failures are logged.
func (s PublisherSink) Deliver(ctx context.Context, buf *shm.Buffer) error {
	defer buf.Release()
	err := s.Publisher.Put(ctx, buf)
	if err == nil {
		return nil
	}
	if session.IsClosed(err) || ctx.Err() != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = observability.Log()
	}
	logger.Error("put failed", observability.F("error", err))
	return nil
}
