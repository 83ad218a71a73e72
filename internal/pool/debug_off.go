//go:build !debug

package pool

import "github.com/coachpo/shmpub/internal/shm"

type debugState struct{}

func newDebugState(string) *debugState { return nil }

func (d *debugState) recordAcquire(*shm.Buffer) {}

func (d *debugState) activeStacks() []string { return nil }
