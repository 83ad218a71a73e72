// Package shm provides named shared-memory segments and a bounded chunk pool
// carved out of them.
package shm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const segmentPrefix = "shmpub_"

// Segment is a contiguous byte region identified by name. Segments created
// with CreateSegment are backed by a mapped file so other processes on the
// host can map the same bytes.
type Segment struct {
	name string
	path string
	mem  []byte
	file *os.File

	closeOnce sync.Once
	closeErr  error
}

// NewHeapSegment returns a process-private segment of size bytes.
func NewHeapSegment(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("segment %s: size must be positive, got %d", name, size)
	}
	return &Segment{name: name, mem: make([]byte, size)}, nil
}

// Name returns the segment name.
func (s *Segment) Name() string { return s.name }

// Path returns the backing file path, empty for heap segments.
func (s *Segment) Path() string { return s.path }

// Size returns the segment length in bytes.
func (s *Segment) Size() int { return len(s.mem) }

// Bytes exposes the whole mapped region.
func (s *Segment) Bytes() []byte { return s.mem }

// Close unmaps the region and removes the backing file. It is safe to call
// more than once.
func (s *Segment) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.release()
	})
	return s.closeErr
}

func (s *Segment) release() error {
	if s.file == nil {
		s.mem = nil
		return nil
	}
	var errs []error
	if err := unmap(s.mem); err != nil {
		errs = append(errs, err)
	}
	s.mem = nil
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close segment file: %w", err))
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove segment file: %w", err))
	}
	return errors.Join(errs...)
}

func segmentFileName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return segmentPrefix + cleaned
}
