//go:build debug

package pool

import (
	"runtime/debug"
	"sync"

	"github.com/coachpo/shmpub/internal/shm"
)

type debugState struct {
	name   string
	mu     sync.Mutex
	stacks map[*shm.Buffer]string
}

func newDebugState(name string) *debugState {
	return &debugState{
		name:   name,
		stacks: make(map[*shm.Buffer]string),
	}
}

func (d *debugState) recordAcquire(buf *shm.Buffer) {
	if d == nil || buf == nil {
		return
	}
	stack := string(debug.Stack())
	d.mu.Lock()
	d.prune()
	d.stacks[buf] = stack
	d.mu.Unlock()
}

// activeStacks returns acquisition stacks of buffers not yet released.
func (d *debugState) activeStacks() []string {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prune()
	if len(d.stacks) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.stacks))
	for _, stack := range d.stacks {
		out = append(out, stack)
	}
	return out
}

func (d *debugState) prune() {
	for buf := range d.stacks {
		if buf.Released() {
			delete(d.stacks, buf)
		}
	}
}
