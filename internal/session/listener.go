package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/telemetry"
)

func (s *Session) listen(ep Endpoint) error {
	ln, err := net.Listen("tcp", ep.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", ep, err)
	}
	bound := resolvedEndpoint(ep, ln.Addr())

	mux := http.NewServeMux()
	mux.HandleFunc(linkPath, s.acceptLink)
	srv := &http.Server{
		Addr:              bound.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: serverReadHeaderTime,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.locators = append(s.locators, bound)
	s.mu.Unlock()

	started := s.spawn(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("listener stopped",
				observability.F("endpoint", bound.String()),
				observability.F("error", err))
		}
	})
	if !started {
		_ = ln.Close()
		return ErrClosed
	}
	return nil
}

func (s *Session) acceptLink(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "session closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("accept link failed",
			observability.F("remote", r.RemoteAddr),
			observability.F("error", err))
		return
	}

	hello, err := readHello(s.ctx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "handshake failed")
		s.logger.Debug("inbound handshake failed",
			observability.F("remote", r.RemoteAddr),
			observability.F("error", err))
		return
	}
	l := s.newLink(conn, hello, telemetry.LinkInbound, r.RemoteAddr)
	_, regErr := s.register(l)
	// The hello goes out even on refusal so the dialer learns our zid.
	if err := writeFrame(s.ctx, conn, s.hello()); err != nil && regErr == nil {
		l.close("handshake failed")
		s.unregister(l)
		return
	}
	l.ready.Store(true)
	if regErr != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, regErr.Error())
		s.logger.Debug("inbound link refused",
			observability.F("zid", hello.ZID),
			observability.F("reason", regErr))
		return
	}
	if err := s.serveLink(l); err != nil && s.ctx.Err() == nil {
		s.logger.Info("inbound link lost",
			observability.F("zid", l.zid),
			observability.F("error", err))
	}
}
