package shm

import (
	"os"
	"runtime"
	"testing"
)

func TestHeapSegment(t *testing.T) {
	seg, err := NewHeapSegment("heap", 32)
	if err != nil {
		t.Fatalf("NewHeapSegment: %v", err)
	}
	if seg.Size() != 32 || seg.Path() != "" {
		t.Fatalf("unexpected segment size=%d path=%q", seg.Size(), seg.Path())
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := NewHeapSegment("bad", 0); err == nil {
		t.Fatal("expected error for empty segment")
	}
}

func TestCreateSegmentMapsFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mapped segments are unix only")
	}
	seg, err := CreateSegment(t.Name()+"/mapped", 4096)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	path := seg.Path()
	if path == "" {
		t.Fatal("expected backing file path")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backing file missing: %v", err)
	}

	copy(seg.Bytes(), "hello")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(raw[:5]) != "hello" {
		t.Fatalf("mapped write not visible in file: %q", raw[:5])
	}

	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected backing file removed, got %v", err)
	}
}
