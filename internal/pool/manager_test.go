package pool

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/coachpo/shmpub/internal/observability"
)

func heapSpec() Spec {
	return Spec{ElementSize: 64, ElementNumber: 4, Backing: BackingHeap}
}

func TestNewManager(t *testing.T) {
	m := NewManager()
	if m == nil {
		t.Fatal("expected non-nil pool manager")
	}
	if m.pools == nil {
		t.Error("expected pools map to be initialized")
	}
}

func TestRegisterPool(t *testing.T) {
	m := NewManager(WithLogger(observability.Nop()))
	defer func() { _ = m.Shutdown(context.Background()) }()

	if err := m.RegisterPool("demo", heapSpec()); err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}
	if err := m.RegisterPool("demo", heapSpec()); err == nil {
		t.Error("expected error when registering duplicate pool")
	}
	st, err := m.Stats("demo")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Capacity != 256 {
		t.Fatalf("expected 256 byte capacity, got %d", st.Capacity)
	}
}

func TestRegisterPoolInvalidSpec(t *testing.T) {
	m := NewManager()

	cases := []Spec{
		{ElementSize: 0, ElementNumber: 4},
		{ElementSize: 64, ElementNumber: -1},
		{ElementSize: 64, ElementNumber: 4, Backing: "tmpfs"},
		{ElementSize: math.MaxInt/2 + 1, ElementNumber: 2, Backing: BackingHeap},
	}
	for _, spec := range cases {
		if err := m.RegisterPool("bad", spec); err == nil {
			t.Errorf("expected error for spec %+v", spec)
		}
	}
	if err := m.RegisterPool("", heapSpec()); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestAcquireAndRelease(t *testing.T) {
	m := NewManager(WithLogger(observability.Nop()))
	if err := m.RegisterPool("demo", heapSpec()); err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}
	ctx := context.Background()

	buf, err := m.Acquire(ctx, "demo", 64)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if buf.Len() != 64 {
		t.Fatalf("expected 64 byte buffer, got %d", buf.Len())
	}
	if buf.PoolID() != "demo" {
		t.Fatalf("unexpected pool id %q", buf.PoolID())
	}
	buf.Release()

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestAcquireUnknownPool(t *testing.T) {
	m := NewManager()
	if _, err := m.Acquire(context.Background(), "missing", 10); !errors.Is(err, ErrPoolNotRegistered) {
		t.Fatalf("expected ErrPoolNotRegistered, got %v", err)
	}
	if _, err := m.Client("missing"); !errors.Is(err, ErrPoolNotRegistered) {
		t.Fatalf("expected ErrPoolNotRegistered, got %v", err)
	}
}

func TestShutdownWaitsForRelease(t *testing.T) {
	m := NewManager(WithLogger(observability.Nop()))
	if err := m.RegisterPool("demo", heapSpec()); err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}
	buf, err := m.Acquire(context.Background(), "demo", 32)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	time.AfterFunc(30*time.Millisecond, buf.Release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if _, err := m.Acquire(context.Background(), "demo", 8); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
	if err := m.RegisterPool("late", heapSpec()); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed on register, got %v", err)
	}
}

func TestShutdownTimeoutReportsLeaks(t *testing.T) {
	m := NewManager(WithLogger(observability.Nop()))
	if err := m.RegisterPool("demo", heapSpec()); err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "demo", 32); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := m.Shutdown(ctx)
	if err == nil {
		t.Fatal("expected shutdown timeout error")
	}
	st, statErr := m.Stats("demo")
	if statErr != nil {
		t.Fatalf("Stats failed: %v", statErr)
	}
	if st.LiveChunks != 0 || st.Capacity != 256 {
		t.Fatalf("expected closed pool bookkeeping to be cleared, got %+v", st)
	}
}

func TestManagerSharedMemoryBacking(t *testing.T) {
	m := NewManager(WithLogger(observability.Nop()))
	spec := Spec{ElementSize: 128, ElementNumber: 2, SegmentName: t.Name()}
	if err := m.RegisterPool("mapped", spec); err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}
	buf, err := m.Acquire(context.Background(), "mapped", 128)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := buf.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf.Release()
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestBindAcquiresFromNamedPool(t *testing.T) {
	m := NewManager(WithLogger(observability.Nop()))
	if err := m.RegisterPool("demo", heapSpec()); err != nil {
		t.Fatalf("RegisterPool failed: %v", err)
	}
	if _, err := m.Bind("missing"); !errors.Is(err, ErrPoolNotRegistered) {
		t.Fatalf("expected ErrPoolNotRegistered, got %v", err)
	}
	bound, err := m.Bind("demo")
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	buf, err := bound.Acquire(context.Background(), 64)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if buf.PoolID() != "demo" {
		t.Fatalf("expected buffer from demo, got %s", buf.PoolID())
	}
	buf.Release()
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if _, err := bound.Acquire(context.Background(), 64); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed after shutdown, got %v", err)
	}
}
