package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/shm"
)

// Segment backings accepted by Spec.Backing.
const (
	BackingShm  = "shm"
	BackingHeap = "heap"
)

const drainPollInterval = 10 * time.Millisecond

// Spec describes a pool sized as ElementNumber buffers of ElementSize bytes.
type Spec struct {
	ElementSize   int
	ElementNumber int
	// Backing selects a mapped segment (BackingShm, default) or process memory.
	Backing string
	// SegmentName defaults to the pool name.
	SegmentName string
}

// Capacity returns the pool size in bytes.
func (s Spec) Capacity() int { return s.ElementSize * s.ElementNumber }

func (s Spec) validate() error {
	if s.ElementSize <= 0 {
		return fmt.Errorf("element size must be positive, got %d", s.ElementSize)
	}
	if s.ElementNumber <= 0 {
		return fmt.Errorf("element number must be positive, got %d", s.ElementNumber)
	}
	if s.ElementSize > math.MaxInt/s.ElementNumber {
		return fmt.Errorf("pool of %d x %d bytes overflows", s.ElementNumber, s.ElementSize)
	}
	switch s.Backing {
	case "", BackingShm, BackingHeap:
		return nil
	default:
		return fmt.Errorf("unknown backing %q", s.Backing)
	}
}

type managedPool struct {
	name   string
	pool   *shm.Pool
	client *Client
	debug  *debugState
}

// Manager coordinates named shared memory pools, handing out buffers through
// each pool's Client and tearing the segments down on shutdown.
type Manager struct {
	mu           sync.RWMutex
	pools        map[string]*managedPool
	opts         []Option
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewManager constructs a manager. The options are applied to every client it
// creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		pools:      make(map[string]*managedPool),
		opts:       opts,
		shutdownCh: make(chan struct{}),
	}
}

// RegisterPool creates the segment and pool described by spec under name.
func (m *Manager) RegisterPool(name string, spec Spec) error {
	if name == "" {
		return errors.New("pool manager: pool name must be non-empty")
	}
	if err := spec.validate(); err != nil {
		return fmt.Errorf("pool manager: pool %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.shutdownCh:
		return ErrManagerClosed
	default:
	}
	if _, exists := m.pools[name]; exists {
		return fmt.Errorf("pool manager: pool %s already registered", name)
	}

	segName := spec.SegmentName
	if segName == "" {
		segName = name
	}
	var (
		seg *shm.Segment
		err error
	)
	if spec.Backing == BackingHeap {
		seg, err = shm.NewHeapSegment(segName, spec.Capacity())
	} else {
		seg, err = shm.CreateSegment(segName, spec.Capacity())
	}
	if err != nil {
		return fmt.Errorf("pool manager: pool %s: %w", name, err)
	}

	p := shm.NewPool(name, seg)
	opts := append(append([]Option(nil), m.opts...), WithName(name))
	m.pools[name] = &managedPool{
		name:   name,
		pool:   p,
		client: NewClient(p, opts...),
		debug:  newDebugState(name),
	}
	return nil
}

// Acquire returns a buffer from the named pool respecting manager shutdown state.
func (m *Manager) Acquire(ctx context.Context, name string, size int) (*shm.Buffer, error) {
	select {
	case <-m.shutdownCh:
		return nil, ErrManagerClosed
	default:
	}

	mp, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	buf, err := mp.client.Acquire(ctx, size)
	if err != nil {
		return nil, err
	}
	mp.debug.recordAcquire(buf)
	return buf, nil
}

// Client returns the allocation client of the named pool.
func (m *Manager) Client(name string) (*Client, error) {
	mp, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return mp.client, nil
}

// Stats returns the named pool's occupancy.
func (m *Manager) Stats(name string) (shm.Stats, error) {
	mp, err := m.lookup(name)
	if err != nil {
		return shm.Stats{}, err
	}
	return mp.pool.Stats(), nil
}

// Pools lists registered pool names in order.
func (m *Manager) Pools() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Shutdown refuses new acquisitions, waits for outstanding buffers to be
// released or for ctx to expire (defaulting to 5 seconds), then closes every
// pool. Leases still held at the deadline are logged and reported.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
	}
	if cancel != nil {
		defer cancel()
	}

	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
	})

	pools := m.snapshot()
	var waitErr error
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		remaining := outstanding(pools)
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			m.logOutstanding(pools, remaining)
			waitErr = fmt.Errorf("shutdown timeout: %d buffers unreleased", remaining)
		case <-ticker.C:
			continue
		}
		break
	}

	closeErrs := make([]error, 0, len(pools))
	for _, mp := range pools {
		if err := mp.pool.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("close pool %s: %w", mp.name, err))
		}
	}
	return errors.Join(waitErr, errors.Join(closeErrs...))
}

func (m *Manager) lookup(name string) (*managedPool, error) {
	m.mu.RLock()
	mp, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotRegistered, name)
	}
	return mp, nil
}

func (m *Manager) snapshot() []*managedPool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*managedPool, 0, len(m.pools))
	for _, mp := range m.pools {
		out = append(out, mp)
	}
	return out
}

func outstanding(pools []*managedPool) int {
	total := 0
	for _, mp := range pools {
		total += mp.pool.Stats().LiveChunks
	}
	return total
}

func (m *Manager) logOutstanding(pools []*managedPool, remaining int) {
	logger := observability.Log()
	logger.Error("pool manager: shutdown timed out with live buffers",
		observability.F("remaining", remaining))
	for _, mp := range pools {
		st := mp.pool.Stats()
		if st.LiveChunks == 0 {
			continue
		}
		logger.Error("pool manager: leaked buffers",
			observability.F("pool", mp.name),
			observability.F("live", st.LiveChunks),
			observability.F("used", st.Used))
		for _, stack := range mp.debug.activeStacks() {
			logger.Error("pool manager: leak candidate",
				observability.F("pool", mp.name),
				observability.F("stack", stack))
		}
	}
}

// Bound is an acquirer fixed to one pool of a manager.
type Bound struct {
	m    *Manager
	name string
}

// Bind returns an acquirer for the named pool.
func (m *Manager) Bind(name string) (Bound, error) {
	if _, err := m.lookup(name); err != nil {
		return Bound{}, err
	}
	return Bound{m: m, name: name}, nil
}

// Acquire takes a buffer from the bound pool.
func (b Bound) Acquire(ctx context.Context, size int) (*shm.Buffer, error) {
	return b.m.Acquire(ctx, b.name, size)
}
