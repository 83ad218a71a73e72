package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/shmpub/internal/observability"
)

const scoutReadBuffer = 64 << 10

func (s *Session) startScouting() error {
	group, err := net.ResolveUDPAddr("udp4", s.cfg.ScoutAddress)
	if err != nil {
		return fmt.Errorf("resolve scout address: %w", err)
	}
	recv, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return fmt.Errorf("join scout group %s: %w", group, err)
	}
	send, err := net.DialUDP("udp4", nil, group)
	if err != nil {
		_ = recv.Close()
		return fmt.Errorf("open scout sender: %w", err)
	}

	ok := s.spawn(func() { s.scoutReceive(recv) }) &&
		s.spawn(func() { s.scoutAnnounce(send) }) &&
		s.spawn(func() {
			<-s.ctx.Done()
			_ = recv.Close()
			_ = send.Close()
		})
	if !ok {
		_ = recv.Close()
		_ = send.Close()
		return ErrClosed
	}
	return nil
}

// scoutAnnounce periodically advertises this peer's locators.
func (s *Session) scoutAnnounce(conn *net.UDPConn) {
	if s.cfg.Mode != ModePeer {
		return
	}
	ticker := time.NewTicker(s.cfg.ScoutInterval)
	defer ticker.Stop()
	for {
		if locators := s.Locators(); len(locators) > 0 {
			data, err := json.Marshal(scoutHello{ZID: s.zid, Mode: string(s.cfg.Mode), Locators: locators})
			if err == nil {
				_, err = conn.Write(data)
			}
			if err != nil && s.ctx.Err() == nil {
				s.logger.Debug("scout announce failed", observability.F("error", err))
			}
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) scoutReceive(conn *net.UDPConn) {
	buf := make([]byte, scoutReadBuffer)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("scout read failed", observability.F("error", err))
			continue
		}
		var hello scoutHello
		if err := json.Unmarshal(buf[:n], &hello); err != nil {
			continue
		}
		s.handleScoutHello(hello, src)
	}
}

func (s *Session) handleScoutHello(hello scoutHello, src *net.UDPAddr) {
	if hello.ZID == "" || hello.ZID == s.zid || hello.Mode != string(ModePeer) {
		return
	}
	// Between two listening peers only the smaller zid dials.
	if s.cfg.Mode == ModePeer && s.listening() && s.zid > hello.ZID {
		return
	}
	eps := make([]Endpoint, 0, len(hello.Locators))
	for _, raw := range hello.Locators {
		ep, err := ParseEndpoint(raw)
		if err != nil {
			continue
		}
		if ep.unspecified() && src != nil {
			ep = ep.withHost(src.IP.String())
		}
		eps = append(eps, ep)
	}
	if len(eps) == 0 {
		return
	}
	s.dialDiscovered(hello.ZID, eps)
}
