// Package producer runs the allocate-write-print-deliver loop of the shmpub
// commands and the consumers that print what they receive.
package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/shmpub/errs"
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/pool"
	"github.com/coachpo/shmpub/internal/shm"
)

// Acquirer hands out shared memory buffers. *pool.Client implements it.
type Acquirer interface {
	Acquire(ctx context.Context, size int) (*shm.Buffer, error)
}

// Sink receives every buffer the loop fills. Deliver takes ownership of buf.
// A returned error stops the loop.
type Sink interface {
	Deliver(ctx context.Context, buf *shm.Buffer) error
}

// Loop repeatedly acquires a buffer, writes Payload into it as JSON, prints a
// window of the buffer and hands it to Sink.
type Loop struct {
	Client   Acquirer
	Payload  any
	Sink     Sink
	ElemSize int
	// Interval paces iterations. Zero runs unthrottled.
	Interval time.Duration
	Window   int
	Label    string
	Out      io.Writer
	// Limit stops the loop after that many deliveries. Zero runs until ctx ends.
	Limit  uint64
	Logger observability.Logger

	printer *windowPrinter
}

func (l *Loop) validate() error {
	switch {
	case l.Client == nil:
		return errs.Invalid("producer", "client required")
	case l.Sink == nil:
		return errs.Invalid("producer", "sink required")
	case l.ElemSize <= 0:
		return errs.Invalid("producer", "element size must be positive")
	case l.Interval < 0:
		return errs.Invalid("producer", "interval must not be negative")
	}
	return nil
}

// Run drives the loop until ctx ends, Limit is reached, or a buffer cannot
// be produced or delivered. It returns ctx.Err() on cancellation, nil when
// Limit is reached, and the allocation or delivery error otherwise.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.validate(); err != nil {
		return err
	}
	logger := observability.With(l.Logger, observability.F("label", l.Label))
	if l.printer == nil {
		l.printer = newWindowPrinter(l.Out, l.Label, l.Window)
	}
	limit := rate.Inf
	if l.Interval > 0 {
		limit = rate.Every(l.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	logger.Debug("producer started", observability.F("size", l.ElemSize), observability.F("interval", l.Interval))
	defer logger.Debug("producer stopped")

	for n := uint64(0); l.Limit == 0 || n < l.Limit; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("producer rate limit: %w", err)
		}
		buf, err := l.Client.Acquire(ctx, l.ElemSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			return err
		}
		if err := pool.WriteJSON(buf, l.Payload); err != nil {
			buf.Release()
			return err
		}
		l.printer.print(n, buf, buf.Len())
		if err := l.Sink.Deliver(ctx, buf); err != nil {
			return err
		}
	}
	return nil
}
