//go:build !unix

package shm

// CreateSegment falls back to a heap segment on platforms without mmap support.
func CreateSegment(name string, size int) (*Segment, error) {
	return NewHeapSegment(name, size)
}

func unmap([]byte) error { return nil }
