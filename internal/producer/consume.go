package producer

import (
	"context"
	"errors"
	"io"

	"github.com/coachpo/shmpub/internal/bus"
	"github.com/coachpo/shmpub/internal/handoff"
	"github.com/coachpo/shmpub/internal/shm"
)

// ReceiveLabel prefixes every window a consumer prints.
const ReceiveLabel = "Receiving SHM Data"

// Consume prints a window of each buffer taken from q and releases it. It
// returns the number of buffers consumed once q is closed and drained, or
// with ctx.Err() when ctx ends first.
func Consume(ctx context.Context, q *handoff.Queue[*shm.Buffer], window int, out io.Writer) (uint64, error) {
	printer := newWindowPrinter(out, ReceiveLabel, window)
	var n uint64
	for {
		buf, err := q.Recv(ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) {
				return n, nil
			}
			return n, err
		}
		printer.print(n, buf, buf.Len())
		buf.Release()
		n++
	}
}

// ConsumeSamples is Consume for subscriber samples. It returns when samples
// is closed or ctx ends.
func ConsumeSamples(ctx context.Context, samples <-chan *bus.Sample, window int, out io.Writer) (uint64, error) {
	printer := newWindowPrinter(out, ReceiveLabel, window)
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case sample, ok := <-samples:
			if !ok {
				return n, nil
			}
			printer.print(n, sample, sample.Len())
			sample.Release()
			n++
		}
	}
}
