package shm

import (
	"io"
	"sync/atomic"
)

// Buffer is a handle on a pool chunk. Several handles may share a chunk via
// Retain; the chunk becomes reclaimable once every handle is released. A
// handle must not be used concurrently from two goroutines.
type Buffer struct {
	pool     *Pool
	c        *chunk
	released atomic.Bool
}

// Len returns the chunk size in bytes.
func (b *Buffer) Len() int { return b.c.size }

// PoolID identifies the pool the chunk belongs to.
func (b *Buffer) PoolID() string { return b.pool.id }

// Offset returns the chunk's current position inside the segment.
func (b *Buffer) Offset() int {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.c.off
}

// Bytes returns the chunk contents, or nil once the handle is released. The
// slice aliases shared memory and stays valid only until the pool is next
// defragmented.
func (b *Buffer) Bytes() []byte {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if b.pool.closed || b.released.Load() {
		return nil
	}
	return b.viewLocked()
}

// Write appends p after the bytes already written. It reports
// io.ErrShortWrite when p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if err := b.usableLocked(); err != nil {
		return 0, err
	}
	view := b.viewLocked()
	n := copy(view[b.c.written:], p)
	b.c.written += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Written returns the number of bytes written through Write.
func (b *Buffer) Written() int {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.c.written
}

// ReadAt implements io.ReaderAt over the whole chunk.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if err := b.usableLocked(); err != nil {
		return 0, err
	}
	if off < 0 || off >= int64(b.c.size) {
		return 0, io.EOF
	}
	n := copy(p, b.viewLocked()[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Snapshot copies the written prefix of the chunk out of shared memory. It
// returns nil once the handle is released.
func (b *Buffer) Snapshot() []byte {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	if b.pool.closed || b.released.Load() {
		return nil
	}
	out := make([]byte, b.c.written)
	copy(out, b.viewLocked())
	return out
}

// Retain returns an additional handle on the same chunk. It panics when called
// on a released handle.
func (b *Buffer) Retain() *Buffer {
	if b.released.Load() {
		panic("shm: retain on released buffer")
	}
	b.c.refs.Add(1)
	return &Buffer{pool: b.pool, c: b.c}
}

// Release drops this handle. Releasing twice is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.released.Swap(true) {
		return
	}
	b.c.refs.Add(-1)
}

// Released reports whether Release has been called on this handle.
func (b *Buffer) Released() bool { return b.released.Load() }

func (b *Buffer) usableLocked() error {
	if b.pool.closed {
		return ErrClosed
	}
	if b.released.Load() {
		return ErrReleased
	}
	return nil
}

func (b *Buffer) viewLocked() []byte {
	start := b.c.off
	end := start + b.c.size
	return b.pool.seg.mem[start:end:end]
}
