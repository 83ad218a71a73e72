package bus

import (
	"io"
	"sync/atomic"

	"github.com/coachpo/shmpub/internal/shm"
)

// Sample is a keyed payload travelling through the bus. Local samples hold a
// handle on the publisher's shared memory chunk; samples received from a
// remote peer carry their own copy of the bytes.
type Sample struct {
	Key    string
	Seq    uint64
	Source string

	buf      *shm.Buffer
	data     []byte
	released atomic.Bool
}

// NewSharedSample wraps buf without copying. The sample takes ownership of
// the handle.
func NewSharedSample(key, source string, seq uint64, buf *shm.Buffer) *Sample {
	return &Sample{Key: key, Seq: seq, Source: source, buf: buf}
}

// NewSample wraps data, which must not be modified afterwards.
func NewSample(key, source string, seq uint64, data []byte) *Sample {
	return &Sample{Key: key, Seq: seq, Source: source, data: data}
}

// Shared reports whether the sample aliases shared memory.
func (s *Sample) Shared() bool { return s.buf != nil }

// Len returns the payload length.
func (s *Sample) Len() int {
	if s.buf != nil {
		return s.buf.Len()
	}
	return len(s.data)
}

// ReadAt implements io.ReaderAt over the payload.
func (s *Sample) ReadAt(p []byte, off int64) (int, error) {
	if s.buf != nil {
		return s.buf.ReadAt(p, off)
	}
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Payload returns the payload bytes. Shared samples are copied out of the
// segment.
func (s *Sample) Payload() []byte {
	if s.buf != nil {
		out := make([]byte, s.buf.Len())
		_, _ = s.buf.ReadAt(out, 0)
		return out
	}
	return s.data
}

// Release drops the sample's hold on shared memory. It is idempotent.
func (s *Sample) Release() {
	if s == nil || s.released.Swap(true) {
		return
	}
	if s.buf != nil {
		s.buf.Release()
	}
}

// clone returns an independent sample over the same payload.
func (s *Sample) clone() *Sample {
	if s.buf != nil {
		return NewSharedSample(s.Key, s.Source, s.Seq, s.buf.Retain())
	}
	return NewSample(s.Key, s.Source, s.Seq, s.data)
}
