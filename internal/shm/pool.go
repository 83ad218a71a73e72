package shm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrOutOfMemory indicates no free extent can hold the requested size.
	ErrOutOfMemory = errors.New("shm: out of memory")
	// ErrInvalidSize indicates a non-positive allocation size.
	ErrInvalidSize = errors.New("shm: invalid allocation size")
	// ErrClosed indicates the pool has been closed.
	ErrClosed = errors.New("shm: pool closed")
	// ErrReleased indicates use of a buffer handle after Release.
	ErrReleased = errors.New("shm: buffer released")
)

type chunk struct {
	off     int
	size    int
	written int
	refs    atomic.Int32
}

type extent struct {
	off  int
	size int
}

// Stats is a point-in-time view of pool occupancy and lifetime counters.
type Stats struct {
	ID                string
	Capacity          int
	Used              int
	Free              int
	LargestFree       int
	LiveChunks        int
	UnreachableChunks int
	FreeExtents       int

	Allocs    uint64
	Failures  uint64
	Reclaimed uint64
	Coalesced uint64
	Moved     uint64
}

// Pool hands out chunks of a Segment. Chunks stay allocated until every handle
// referencing them is released and GarbageCollect runs.
type Pool struct {
	mu       sync.Mutex
	id       string
	seg      *Segment
	capacity int
	free     []extent // sorted by offset, adjacent extents merged
	chunks   []*chunk // sorted by offset
	closed   bool

	allocs    uint64
	failures  uint64
	reclaimed uint64
	coalesced uint64
	moved     uint64
}

// NewPool builds a pool spanning the whole segment.
func NewPool(id string, seg *Segment) *Pool {
	p := &Pool{
		id:       id,
		seg:      seg,
		capacity: seg.Size(),
	}
	if p.capacity > 0 {
		p.free = []extent{{off: 0, size: p.capacity}}
	}
	return p
}

// ID returns the identifier the pool was created with.
func (p *Pool) ID() string { return p.id }

// Capacity returns the total number of bytes managed by the pool.
func (p *Pool) Capacity() int { return p.capacity }

// Segment returns the backing segment.
func (p *Pool) Segment() *Segment { return p.seg }

// Alloc reserves size contiguous bytes using first fit. The returned chunk is
// zeroed and referenced by a single handle.
func (p *Pool) Alloc(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	for i, ext := range p.free {
		if ext.size < size {
			continue
		}
		c := &chunk{off: ext.off, size: size}
		c.refs.Store(1)
		if ext.size == size {
			p.free = append(p.free[:i], p.free[i+1:]...)
		} else {
			p.free[i] = extent{off: ext.off + size, size: ext.size - size}
		}
		p.insertChunk(c)
		clear(p.seg.mem[c.off : c.off+c.size])
		p.allocs++
		return &Buffer{pool: p, c: c}, nil
	}

	p.failures++
	return nil, fmt.Errorf("%w: requested %d bytes, %d free, largest extent %d",
		ErrOutOfMemory, size, p.freeLocked(), p.largestLocked())
}

// GarbageCollect frees every chunk no handle references any more and returns
// the number of bytes returned to the free list.
func (p *Pool) GarbageCollect() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}

	freed := 0
	kept := p.chunks[:0]
	for _, c := range p.chunks {
		if c.refs.Load() > 0 {
			kept = append(kept, c)
			continue
		}
		freed += c.size
		p.insertFree(extent{off: c.off, size: c.size})
	}
	for i := len(kept); i < len(p.chunks); i++ {
		p.chunks[i] = nil
	}
	p.chunks = kept
	p.reclaimed += uint64(freed)
	return freed
}

// Defragment slides allocated chunks toward the start of the segment so all
// free space forms one trailing extent. Chunk offsets are updated in place, so
// outstanding handles keep addressing their own bytes. It returns the number
// of free bytes that were coalesced; zero when free space was already
// contiguous, in which case nothing moves.
func (p *Pool) Defragment() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.free) <= 1 {
		return 0
	}

	coalesced := 0
	for _, ext := range p.free {
		coalesced += ext.size
	}

	mem := p.seg.mem
	next := 0
	moved := 0
	for _, c := range p.chunks {
		if c.off != next {
			copy(mem[next:next+c.size], mem[c.off:c.off+c.size])
			c.off = next
			moved += c.size
		}
		next += c.size
	}
	clear(mem[next:])
	p.free = append(p.free[:0], extent{off: next, size: p.capacity - next})

	p.coalesced += uint64(coalesced)
	p.moved += uint64(moved)
	return coalesced
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		ID:          p.id,
		Capacity:    p.capacity,
		Free:        p.freeLocked(),
		LargestFree: p.largestLocked(),
		FreeExtents: len(p.free),
		Allocs:      p.allocs,
		Failures:    p.failures,
		Reclaimed:   p.reclaimed,
		Coalesced:   p.coalesced,
		Moved:       p.moved,
	}
	for _, c := range p.chunks {
		st.Used += c.size
		if c.refs.Load() > 0 {
			st.LiveChunks++
		} else {
			st.UnreachableChunks++
		}
	}
	return st
}

// Close drops all bookkeeping and releases the segment. Outstanding handles
// become inert.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.chunks = nil
	p.free = nil
	p.mu.Unlock()
	return p.seg.Close()
}

func (p *Pool) insertChunk(c *chunk) {
	i := sort.Search(len(p.chunks), func(i int) bool { return p.chunks[i].off >= c.off })
	p.chunks = append(p.chunks, nil)
	copy(p.chunks[i+1:], p.chunks[i:])
	p.chunks[i] = c
}

func (p *Pool) insertFree(e extent) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].off >= e.off })
	if i > 0 && p.free[i-1].off+p.free[i-1].size == e.off {
		p.free[i-1].size += e.size
		if i < len(p.free) && p.free[i-1].off+p.free[i-1].size == p.free[i].off {
			p.free[i-1].size += p.free[i].size
			p.free = append(p.free[:i], p.free[i+1:]...)
		}
		return
	}
	if i < len(p.free) && e.off+e.size == p.free[i].off {
		p.free[i].off = e.off
		p.free[i].size += e.size
		return
	}
	p.free = append(p.free, extent{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = e
}

func (p *Pool) freeLocked() int {
	total := 0
	for _, ext := range p.free {
		total += ext.size
	}
	return total
}

func (p *Pool) largestLocked() int {
	largest := 0
	for _, ext := range p.free {
		if ext.size > largest {
			largest = ext.size
		}
	}
	return largest
}
