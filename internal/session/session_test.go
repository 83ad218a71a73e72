package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/shmpub/errs"
	"github.com/coachpo/shmpub/internal/bus"
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/shm"
)

const loopback = "ws/127.0.0.1:0"

func openSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = observability.Nop()
	}
	cfg.MaxReconnectInterval = 50 * time.Millisecond
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func newBuffer(t *testing.T, payload string) (*shm.Buffer, *shm.Pool) {
	t.Helper()
	seg, err := shm.NewHeapSegment("session", 1024)
	require.NoError(t, err)
	p := shm.NewPool("session", seg)
	t.Cleanup(func() { _ = p.Close() })
	buf, err := p.Alloc(len(payload))
	require.NoError(t, err)
	_, err = buf.Write([]byte(payload))
	require.NoError(t, err)
	return buf, p
}

func receive(t *testing.T, sub *Subscriber) *bus.Sample {
	t.Helper()
	select {
	case s, ok := <-sub.C:
		require.True(t, ok, "subscriber closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sample")
		return nil
	}
}

func waitLinked(t *testing.T, sessions ...*Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range sessions {
			if len(s.Peers()) == 0 {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("tcp/127.0.0.1:7447")
	require.NoError(t, err)
	require.Equal(t, "ws/127.0.0.1:7447", ep.String())
	require.Equal(t, "ws://127.0.0.1:7447/shm", ep.URL())

	ep, err = ParseEndpoint("ws/[::1]:7447")
	require.NoError(t, err)
	require.Equal(t, "::1", ep.Host)

	for _, bad := range []string{"127.0.0.1:7447", "udp/127.0.0.1:7447", "ws/127.0.0.1", "ws/host:"} {
		_, err := ParseEndpoint(bad)
		require.Error(t, err, bad)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModePeer, m)
	m, err = ParseMode("Client")
	require.NoError(t, err)
	require.Equal(t, ModeClient, m)
	_, err = ParseMode("router")
	require.Error(t, err)
}

func TestOpenRejectsInvalidClientConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Mode: ModeClient, Listen: []string{loopback}, Logger: observability.Nop()})
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeInvalid, code)

	_, err = Open(context.Background(), Config{Mode: ModeClient, Logger: observability.Nop()})
	code, _ = errs.CodeOf(err)
	require.Equal(t, errs.CodeInvalid, code)

	_, err = Open(context.Background(), Config{Listen: []string{"bogus"}, Logger: observability.Nop()})
	code, _ = errs.CodeOf(err)
	require.Equal(t, errs.CodeInvalid, code)
}

func TestOpenReportsResolvedLocator(t *testing.T) {
	s := openSession(t, Config{Listen: []string{loopback}})
	locators := s.Locators()
	require.Len(t, locators, 1)
	ep, err := ParseEndpoint(locators[0])
	require.NoError(t, err)
	require.NotEqual(t, "0", ep.Port)
	require.Len(t, s.ID(), 32)
	require.Equal(t, ModePeer, s.Mode())
}

func TestOpenListenConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Open(context.Background(), Config{Listen: []string{"ws/" + ln.Addr().String()}, Logger: observability.Nop()})
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeNetwork, code)
}

func TestPutDeliversLocallyWithoutCopy(t *testing.T) {
	s := openSession(t, Config{Listen: []string{loopback}})
	sub, err := s.DeclareSubscriber(context.Background(), "demo/**")
	require.NoError(t, err)
	pub, err := s.DeclarePublisher("demo/example/shmpub")
	require.NoError(t, err)

	buf, p := newBuffer(t, "local-payload")
	require.NoError(t, pub.Put(context.Background(), buf))
	buf.Release()

	got := receive(t, sub)
	require.True(t, got.Shared())
	require.Equal(t, uint64(1), got.Seq)
	require.Equal(t, s.ID(), got.Source)
	require.Equal(t, "local-payload", string(got.Payload()))
	require.Equal(t, 1, p.Stats().LiveChunks)
	got.Release()
	require.Equal(t, 0, p.Stats().LiveChunks)
}

func TestPutReachesLinkedPeer(t *testing.T) {
	a := openSession(t, Config{Listen: []string{loopback}})
	b := openSession(t, Config{Mode: ModeClient, Connect: a.Locators()})
	waitLinked(t, a, b)
	require.Equal(t, []string{a.ID()}, b.Peers())

	subB, err := b.DeclareSubscriber(context.Background(), "demo/*/shmpub")
	require.NoError(t, err)
	subA, err := a.DeclareSubscriber(context.Background(), "demo/**")
	require.NoError(t, err)

	pubA, err := a.DeclarePublisher("demo/example/shmpub")
	require.NoError(t, err)
	buf, _ := newBuffer(t, "from-a")
	require.NoError(t, pubA.Put(context.Background(), buf))
	buf.Release()

	remote := receive(t, subB)
	require.False(t, remote.Shared())
	require.Equal(t, "from-a", string(remote.Payload()))
	require.Equal(t, a.ID(), remote.Source)
	receive(t, subA).Release()

	pubB, err := b.DeclarePublisher("demo/other/key")
	require.NoError(t, err)
	buf, _ = newBuffer(t, "from-b")
	require.NoError(t, pubB.Put(context.Background(), buf))
	buf.Release()
	got := receive(t, subA)
	require.Equal(t, "from-b", string(got.Payload()))
	require.Equal(t, "demo/other/key", got.Key)
}

func TestDuplicateLinksCollapse(t *testing.T) {
	a := openSession(t, Config{Listen: []string{loopback}})
	locator := a.Locators()[0]
	b := openSession(t, Config{Mode: ModeClient, Connect: []string{locator, locator}})
	waitLinked(t, a, b)
	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Len(t, a.Peers(), 1)
	require.Len(t, b.Peers(), 1)
}

func TestReceivedSamplesAreNotForwarded(t *testing.T) {
	a := openSession(t, Config{Listen: []string{loopback}})
	b := openSession(t, Config{Listen: []string{loopback}, Connect: a.Locators()})
	c := openSession(t, Config{Mode: ModeClient, Connect: b.Locators()})
	waitLinked(t, a, b, c)
	require.Eventually(t, func() bool { return len(b.Peers()) == 2 }, 3*time.Second, 10*time.Millisecond)

	subB, err := b.DeclareSubscriber(context.Background(), "**")
	require.NoError(t, err)
	subC, err := c.DeclareSubscriber(context.Background(), "**")
	require.NoError(t, err)

	pub, err := a.DeclarePublisher("demo/a")
	require.NoError(t, err)
	buf, _ := newBuffer(t, "hop")
	require.NoError(t, pub.Put(context.Background(), buf))
	buf.Release()

	require.Equal(t, "hop", string(receive(t, subB).Payload()))
	select {
	case s := <-subC.C:
		t.Fatalf("sample %q was forwarded", s.Key)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestScoutHelloSmallerZidDials(t *testing.T) {
	a := openSession(t, Config{Listen: []string{"ws/0.0.0.0:0"}})
	b := openSession(t, Config{Listen: []string{loopback}})
	hello := scoutHello{ZID: a.ID(), Mode: string(ModePeer), Locators: a.Locators()}
	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7446}

	if b.ID() > a.ID() {
		b.handleScoutHello(hello, src)
		time.Sleep(100 * time.Millisecond)
		require.Empty(t, b.Peers(), "larger zid must wait to be dialed")
		a.handleScoutHello(scoutHello{ZID: b.ID(), Mode: string(ModePeer), Locators: b.Locators()}, src)
	} else {
		b.handleScoutHello(hello, src)
	}
	waitLinked(t, a, b)

	b.handleScoutHello(hello, src)
	a.handleScoutHello(scoutHello{ZID: b.ID(), Mode: string(ModePeer), Locators: b.Locators()}, src)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, a.Peers(), 1)
	require.Len(t, b.Peers(), 1)
}

func TestClosedSession(t *testing.T) {
	s, err := Open(context.Background(), Config{Listen: []string{loopback}, Logger: observability.Nop()})
	require.NoError(t, err)
	pub, err := s.DeclarePublisher("demo/key")
	require.NoError(t, err)
	sub, err := s.DeclareSubscriber(context.Background(), "demo/**")
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, ok := <-sub.C
	require.False(t, ok)
	buf, _ := newBuffer(t, "x")
	require.ErrorIs(t, pub.Put(context.Background(), buf), ErrClosed)
	_, err = s.DeclarePublisher("demo/key")
	require.True(t, IsClosed(err))
	_, err = s.DeclareSubscriber(context.Background(), "demo/**")
	require.ErrorIs(t, err, ErrClosed)
}

func TestDeclarePublisherRejectsWildcards(t *testing.T) {
	s := openSession(t, Config{Listen: []string{loopback}})
	_, err := s.DeclarePublisher("demo/*")
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeInvalid, code)
}
