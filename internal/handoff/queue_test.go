package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		if err := q.Send(i); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("expected 100 queued, got %d", q.Len())
	}
	for i := 0; i < 100; i++ {
		v, err := q.Recv(context.Background())
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
}

func TestQueueRecvBlocksUntilSend(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		v, err := q.Recv(context.Background())
		if err != nil {
			t.Errorf("Recv: %v", err)
		}
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("unexpected value %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver not woken")
	}
}

func TestQueueDrainsAfterClose(t *testing.T) {
	q := New[int]()
	_ = q.Send(1)
	_ = q.Send(2)
	q.Close()
	q.Close()

	if err := q.Send(3); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Send, got %v", err)
	}
	for _, want := range []int{1, 2} {
		v, err := q.Recv(context.Background())
		if err != nil || v != want {
			t.Fatalf("expected %d, got %d (%v)", want, v, err)
		}
	}
	if _, err := q.Recv(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed once drained, got %v", err)
	}
}

func TestQueueRecvHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_ = q.Send(i)
			}
		}()
	}
	wg.Wait()
	q.Close()

	count := 0
	for {
		if _, err := q.Recv(context.Background()); err != nil {
			break
		}
		count++
	}
	if count != 1000 {
		t.Fatalf("expected 1000 items, got %d", count)
	}
	if len(q.Drain()) != 0 {
		t.Fatal("expected empty queue")
	}
}
