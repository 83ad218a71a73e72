// Package session connects shmpub processes into a small pub/sub mesh.
//
// Within a process, samples are delivered zero-copy through an in-memory bus.
// Between processes, every link receives one copy of each published sample
// over websocket. Samples are never forwarded: a sample received from a link
// only reaches local subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/shmpub/errs"
	"github.com/coachpo/shmpub/internal/bus"
	"github.com/coachpo/shmpub/internal/observability"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Mode selects how the session participates in the mesh.
type Mode string

const (
	// ModePeer listens for links and dials configured or discovered peers.
	ModePeer Mode = "peer"
	// ModeClient only dials out.
	ModeClient Mode = "client"
)

// ParseMode validates a textual mode. Empty means peer.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePeer:
		return ModePeer, nil
	case ModeClient:
		return ModeClient, nil
	default:
		return "", fmt.Errorf("unknown session mode %q (expected peer or client)", s)
	}
}

const (
	// DefaultScoutAddress is the multicast group hellos are exchanged on.
	DefaultScoutAddress = "224.0.0.224:7446"
	// DefaultListen is used by peers configured without listen endpoints.
	DefaultListen = "ws/0.0.0.0:0"

	defaultScoutInterval   = time.Second
	defaultMaxReconnect    = 10 * time.Second
	defaultSubscriberQueue = 64
	linkWriteTimeout       = 5 * time.Second
	linkHandshakeTimeout   = 5 * time.Second
	linkReadLimit          = 64 << 20
	serverReadHeaderTime   = 5 * time.Second
)

// Config describes a session.
type Config struct {
	Mode    Mode
	Connect []string
	Listen  []string

	MulticastScouting bool
	ScoutAddress      string
	ScoutInterval     time.Duration

	// SubscriberBuffer bounds each subscriber's queue.
	SubscriberBuffer int
	// MaxReconnectInterval caps the backoff between dials of a connect endpoint.
	MaxReconnectInterval time.Duration

	Logger observability.Logger
	Meter  metric.Meter
}

func (c Config) normalize() (Config, []Endpoint, []Endpoint, error) {
	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return c, nil, nil, errs.New("session/open", errs.CodeInvalid, errs.WithMessage(err.Error()))
	}
	c.Mode = mode
	if c.ScoutAddress == "" {
		c.ScoutAddress = DefaultScoutAddress
	}
	if c.ScoutInterval <= 0 {
		c.ScoutInterval = defaultScoutInterval
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = defaultSubscriberQueue
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = defaultMaxReconnect
	}
	if c.Logger == nil {
		c.Logger = observability.Log()
	}

	if c.Mode == ModeClient {
		if len(c.Listen) > 0 {
			return c, nil, nil, errs.New("session/open", errs.CodeInvalid,
				errs.WithMessage("client mode cannot listen"),
				errs.WithRemediation("drop the listen endpoints or use peer mode"))
		}
		if len(c.Connect) == 0 && !c.MulticastScouting {
			return c, nil, nil, errs.New("session/open", errs.CodeInvalid,
				errs.WithMessage("client mode needs connect endpoints or multicast scouting"))
		}
	} else if len(c.Listen) == 0 {
		c.Listen = []string{DefaultListen}
	}

	parse := func(raw []string) ([]Endpoint, error) {
		out := make([]Endpoint, 0, len(raw))
		for _, r := range raw {
			ep, err := ParseEndpoint(r)
			if err != nil {
				return nil, errs.New("session/open", errs.CodeInvalid, errs.WithMessage(err.Error()))
			}
			out = append(out, ep)
		}
		return out, nil
	}
	listen, err := parse(c.Listen)
	if err != nil {
		return c, nil, nil, err
	}
	connect, err := parse(c.Connect)
	if err != nil {
		return c, nil, nil, err
	}
	return c, listen, connect, nil
}

// Session is an open pub/sub session.
type Session struct {
	cfg     Config
	zid     string
	logger  observability.Logger
	bus     *bus.MemoryBus
	metrics sessionMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu       sync.Mutex
	links    map[string]*link
	dialing  map[string]struct{}
	servers  []*http.Server
	locators []Endpoint

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open validates cfg, starts listeners, connect loops and scouting.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg, listen, connect, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		cfg:     cfg,
		zid:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		logger:  cfg.Logger,
		bus:     bus.NewMemoryBus(bus.MemoryConfig{BufferSize: cfg.SubscriberBuffer}),
		metrics: newSessionMetrics(cfg.Meter),
		ctx:     sessCtx,
		cancel:  cancel,
		links:   make(map[string]*link),
		dialing: make(map[string]struct{}),
	}

	for _, ep := range listen {
		if err := s.listen(ep); err != nil {
			_ = s.Close(context.Background())
			return nil, errs.New("session/open", errs.CodeNetwork,
				errs.WithMessage("listen failed"),
				errs.WithDetail("endpoint", ep.String()),
				errs.WithCause(err))
		}
	}
	for _, ep := range connect {
		s.spawn(func() { s.connectLoop(ep) })
	}
	if cfg.MulticastScouting {
		if err := s.startScouting(); err != nil {
			if cfg.Mode == ModeClient && len(connect) == 0 {
				_ = s.Close(context.Background())
				return nil, errs.New("session/open", errs.CodeNetwork,
					errs.WithMessage("multicast scouting unavailable and no connect endpoints"),
					errs.WithCause(err))
			}
			s.logger.Error("multicast scouting disabled", observability.F("error", err))
		}
	}

	s.logger.Info("session opened",
		observability.F("zid", s.zid),
		observability.F("mode", string(cfg.Mode)),
		observability.F("locators", strings.Join(s.Locators(), ",")))
	return s, nil
}

// ID returns the session's zid.
func (s *Session) ID() string { return s.zid }

// Mode returns the session mode.
func (s *Session) Mode() Mode { return s.cfg.Mode }

// Locators lists the endpoints the session accepts links on.
func (s *Session) Locators() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.locators))
	for _, ep := range s.locators {
		out = append(out, ep.String())
	}
	return out
}

// Peers lists the zids of connected sessions.
func (s *Session) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.links))
	for zid := range s.links {
		out = append(out, zid)
	}
	return out
}

// Close tears down links, listeners, scouting and the local bus.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errList []error
		s.mu.Lock()
		s.closed.Store(true)
		s.cancel()
		servers := s.servers
		links := make([]*link, 0, len(s.links))
		for _, l := range s.links {
			links = append(links, l)
		}
		s.mu.Unlock()

		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errList = append(errList, fmt.Errorf("shutdown listener %s: %w", srv.Addr, err))
			}
		}
		for _, l := range links {
			l.close("session closed")
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errList = append(errList, fmt.Errorf("timeout waiting for session goroutines: %w", ctx.Err()))
		}

		s.bus.Close()
		s.closeErr = errors.Join(errList...)
		s.logger.Info("session closed", observability.F("zid", s.zid))
	})
	return s.closeErr
}

// spawn runs fn on the session wait group unless the session is closing.
func (s *Session) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.wg.Go(fn)
	return true
}

func (s *Session) listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locators) > 0
}

func resolvedEndpoint(ep Endpoint, addr net.Addr) Endpoint {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return Endpoint{Proto: ep.Proto, Host: ep.Host, Port: fmt.Sprint(tcp.Port)}
	}
	return ep
}
