package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/telemetry"
)

// connectLoop keeps a link to ep alive until the session closes.
func (s *Session) connectLoop(ep Endpoint) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = s.cfg.MaxReconnectInterval

	for {
		if s.ctx.Err() != nil {
			return
		}

		l, existing, err := s.dial(ep)
		switch {
		case err == nil:
			backoffCfg.Reset()
			if err := s.serveLink(l); err != nil && s.ctx.Err() == nil {
				s.logger.Info("outbound link lost",
					observability.F("endpoint", ep.String()),
					observability.F("zid", l.zid),
					observability.F("error", err))
			}
		case errors.Is(err, errDuplicateLink) && existing != nil:
			// The peer already dialed us; redial once that link goes away.
			select {
			case <-s.ctx.Done():
				return
			case <-existing.done:
			}
			continue
		case s.ctx.Err() != nil:
			return
		default:
			s.logger.Debug("dial failed",
				observability.F("endpoint", ep.String()),
				observability.F("error", err))
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = s.cfg.MaxReconnectInterval
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// dial opens and registers an outbound link. When the peer is already linked
// the existing link is returned with errDuplicateLink.
func (s *Session) dial(ep Endpoint) (*link, *link, error) {
	dialCtx, cancel := context.WithTimeout(s.ctx, linkHandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, ep.URL(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	if err := writeFrame(dialCtx, conn, s.hello()); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, nil, fmt.Errorf("send hello to %s: %w", ep, err)
	}
	hello, err := readHello(dialCtx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")
		return nil, nil, fmt.Errorf("handshake with %s: %w", ep, err)
	}

	l := s.newLink(conn, hello, telemetry.LinkOutbound, ep.String())
	existing, err := s.register(l)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return nil, existing, err
	}
	return l, nil, nil
}

// dialDiscovered links to a scouted peer unless a link or dial is already
// in place. It tries each locator once; the next hello retries.
func (s *Session) dialDiscovered(zid string, eps []Endpoint) {
	s.mu.Lock()
	_, linked := s.links[zid]
	_, dialing := s.dialing[zid]
	if linked || dialing || s.closed.Load() {
		s.mu.Unlock()
		return
	}
	s.dialing[zid] = struct{}{}
	s.wg.Go(func() {
		defer func() {
			s.mu.Lock()
			delete(s.dialing, zid)
			s.mu.Unlock()
		}()
		for _, ep := range eps {
			l, _, err := s.dial(ep)
			if err != nil {
				s.logger.Debug("dial discovered peer failed",
					observability.F("zid", zid),
					observability.F("endpoint", ep.String()),
					observability.F("error", err))
				continue
			}
			if err := s.serveLink(l); err != nil && s.ctx.Err() == nil {
				s.logger.Info("discovered link lost",
					observability.F("zid", zid),
					observability.F("error", err))
			}
			return
		}
	})
	s.mu.Unlock()
}
