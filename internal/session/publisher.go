package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/coachpo/shmpub/errs"
	"github.com/coachpo/shmpub/internal/bus"
	"github.com/coachpo/shmpub/internal/keyexpr"
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/shm"
)

// Publisher puts samples on one key.
type Publisher struct {
	s   *Session
	key string
	seq atomic.Uint64
}

// DeclarePublisher returns a publisher for key, which must not contain
// wildcards.
func (s *Session) DeclarePublisher(key string) (*Publisher, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := keyexpr.ValidateKey(key); err != nil {
		return nil, errs.New("session/publisher", errs.CodeInvalid,
			errs.WithMessage("invalid publisher key"), errs.WithCause(err))
	}
	return &Publisher{s: s, key: key}, nil
}

// Key returns the publisher's key.
func (p *Publisher) Key() string { return p.key }

// Put publishes the whole buffer. Local subscribers share the chunk; each
// link receives a copy. The caller keeps ownership of buf.
func (p *Publisher) Put(ctx context.Context, buf *shm.Buffer) error {
	if p.s.closed.Load() {
		return ErrClosed
	}
	seq := p.seq.Add(1)
	sample := bus.NewSharedSample(p.key, p.s.zid, seq, buf.Retain())
	defer sample.Release()

	var failures []error
	if err := p.s.bus.Publish(ctx, sample); err != nil {
		failures = append(failures, err)
	}

	if links := p.s.linksSnapshot(); len(links) > 0 {
		data, err := encodeFrame(frame{
			Kind:    kindSample,
			ZID:     p.s.zid,
			Key:     p.key,
			Seq:     seq,
			Payload: sample.Payload(),
		})
		if err != nil {
			return err
		}
		for _, l := range links {
			if err := l.send(ctx, data); err != nil {
				failures = append(failures, errs.New("session/put", errs.CodeNetwork,
					errs.WithDetail("zid", l.zid), errs.WithCause(err)))
			}
		}
	}
	p.s.metrics.published(ctx, p.key)

	if len(failures) == 0 {
		return nil
	}
	return observability.AggregateErrors("session/put", failures, observability.F("key", p.key), observability.F("seq", seq))
}

// Subscriber receives samples matching a key expression.
type Subscriber struct {
	// C yields matching samples. Receivers must Release each sample.
	C <-chan *bus.Sample

	s    *Session
	id   bus.SubscriptionID
	expr string
}

// DeclareSubscriber subscribes to expr until ctx ends or Close is called.
func (s *Session) DeclareSubscriber(ctx context.Context, expr string) (*Subscriber, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	id, ch, err := s.bus.Subscribe(ctx, expr)
	if err != nil {
		return nil, err
	}
	return &Subscriber{C: ch, s: s, id: id, expr: expr}, nil
}

// Expr returns the subscription's key expression.
func (sub *Subscriber) Expr() string { return sub.expr }

// Close ends the subscription and closes C.
func (sub *Subscriber) Close() {
	sub.s.bus.Unsubscribe(sub.id)
}

// IsClosed reports whether err means the session is gone.
func IsClosed(err error) bool {
	if errors.Is(err, ErrClosed) {
		return true
	}
	code, ok := errs.CodeOf(err)
	return ok && code == errs.CodeClosed
}
