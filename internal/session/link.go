package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/coachpo/shmpub/internal/bus"
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/telemetry"
)

var errDuplicateLink = errors.New("session: duplicate link")

// link is an established websocket connection to another session.
type link struct {
	zid       string
	mode      string
	direction string
	remote    string
	// dialer is the zid of the session that opened the connection.
	dialer string
	conn   *websocket.Conn

	// ready is set once our hello has been sent; samples go only to ready links.
	ready     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Session) newLink(conn *websocket.Conn, hello frame, direction, remote string) *link {
	conn.SetReadLimit(linkReadLimit)
	dialer := hello.ZID
	if direction == telemetry.LinkOutbound {
		dialer = s.zid
	}
	l := &link{
		zid:       hello.ZID,
		mode:      hello.Mode,
		direction: direction,
		remote:    remote,
		dialer:    dialer,
		conn:      conn,
		done:      make(chan struct{}),
	}
	l.ready.Store(direction == telemetry.LinkOutbound)
	return l
}

func (l *link) send(ctx context.Context, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, linkWriteTimeout)
	defer cancel()
	if err := l.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write to %s: %w", l.zid, err)
	}
	return nil
}

func (l *link) close(reason string) {
	l.closeOnce.Do(func() {
		_ = l.conn.Close(websocket.StatusNormalClosure, reason)
		close(l.done)
	})
}

func (s *Session) hello() frame {
	return frame{Kind: kindHello, ZID: s.zid, Mode: string(s.cfg.Mode)}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, linkWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func readHello(ctx context.Context, conn *websocket.Conn) (frame, error) {
	readCtx, cancel := context.WithTimeout(ctx, linkHandshakeTimeout)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		return frame{}, fmt.Errorf("read hello: %w", err)
	}
	f, err := decodeFrame(data)
	if err != nil {
		return frame{}, err
	}
	if f.Kind != kindHello {
		return frame{}, fmt.Errorf("expected hello, got %s", f.Kind)
	}
	return f, nil
}

// register adds l as the link to its zid. When a link to that zid already
// exists, both ends keep the connection dialed by the smaller zid; a losing
// new link is refused with errDuplicateLink and the winner returned.
func (s *Session) register(l *link) (*link, error) {
	if l.zid == s.zid {
		return nil, fmt.Errorf("session: refusing link to self")
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	existing, ok := s.links[l.zid]
	if ok && l.dialer >= existing.dialer {
		s.mu.Unlock()
		return existing, errDuplicateLink
	}
	s.links[l.zid] = l
	s.mu.Unlock()

	if existing != nil {
		existing.close("superseded")
		s.logger.Debug("link superseded",
			observability.F("zid", l.zid),
			observability.F("direction", existing.direction))
	}
	s.metrics.linkOpened(s.ctx, l.direction)
	s.logger.Info("link established",
		observability.F("zid", l.zid),
		observability.F("mode", l.mode),
		observability.F("direction", l.direction),
		observability.F("remote", l.remote))
	return l, nil
}

func (s *Session) unregister(l *link) {
	s.mu.Lock()
	if stored, ok := s.links[l.zid]; ok && stored == l {
		delete(s.links, l.zid)
	}
	s.mu.Unlock()
	s.metrics.linkClosed(context.WithoutCancel(s.ctx), l.direction)
}

// serveLink reads frames until the link fails, delivering samples locally.
func (s *Session) serveLink(l *link) error {
	defer func() {
		l.close("link closed")
		s.unregister(l)
		s.logger.Info("link closed",
			observability.F("zid", l.zid),
			observability.F("direction", l.direction))
	}()

	for {
		_, data, err := l.conn.Read(s.ctx)
		if err != nil {
			return fmt.Errorf("read from %s: %w", l.zid, err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			s.logger.Error("dropping malformed frame",
				observability.F("zid", l.zid),
				observability.F("error", err))
			continue
		}
		if f.Kind != kindSample {
			continue
		}
		s.metrics.received(s.ctx, f.Key)
		// Publish failures are logged by the bus.
		_ = s.bus.Publish(s.ctx, bus.NewSample(f.Key, f.ZID, f.Seq, f.Payload))
	}
}

func (s *Session) linksSnapshot() []*link {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		if l.ready.Load() {
			out = append(out, l)
		}
	}
	return out
}
