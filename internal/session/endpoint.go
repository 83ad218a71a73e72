package session

import (
	"fmt"
	"net"
	"strings"
)

const (
	protoWS  = "ws"
	protoTCP = "tcp"

	linkPath = "/shm"
)

// Endpoint is a parsed "proto/host:port" locator. "tcp" is accepted as an
// alias of "ws" since links always run over websocket.
type Endpoint struct {
	Proto string
	Host  string
	Port  string
}

// ParseEndpoint parses a locator such as "ws/127.0.0.1:7447".
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	proto, addr, ok := strings.Cut(raw, "/")
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: expected proto/host:port", raw)
	}
	switch strings.ToLower(proto) {
	case protoWS, protoTCP:
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unsupported protocol %q", raw, proto)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", raw, err)
	}
	if port == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing port", raw)
	}
	return Endpoint{Proto: protoWS, Host: host, Port: port}, nil
}

// Addr returns host:port.
func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, e.Port) }

// String renders the canonical locator form.
func (e Endpoint) String() string { return e.Proto + "/" + e.Addr() }

// URL returns the websocket URL links dial.
func (e Endpoint) URL() string { return "ws://" + e.Addr() + linkPath }

// unspecified reports whether the host is a wildcard listen address.
func (e Endpoint) unspecified() bool {
	if e.Host == "" {
		return true
	}
	ip := net.ParseIP(e.Host)
	return ip != nil && ip.IsUnspecified()
}

// withHost returns a copy with the host replaced.
func (e Endpoint) withHost(host string) Endpoint {
	e.Host = host
	return e
}
