package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted matches every ExhaustedError.
	ErrExhausted = errors.New("pool: shared memory exhausted")
	// ErrFailed is returned by a client that already gave up on its pool.
	ErrFailed = errors.New("pool: client failed")
	// ErrPoolNotRegistered indicates the requested pool has not been registered.
	ErrPoolNotRegistered = errors.New("pool manager: pool not registered")
	// ErrManagerClosed indicates the manager is shutting down and cannot service requests.
	ErrManagerClosed = errors.New("pool manager: shutdown in progress")
)

// ExhaustedError reports an allocation that still failed after the pool was
// collected and compacted.
type ExhaustedError struct {
	Pool      string
	Requested int
	Free      int
	Largest   int
	Reclaimed int
	Coalesced int

	cause error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pool %s: unable to allocate %d bytes in the shared memory buffer (free=%d largest=%d reclaimed=%d coalesced=%d)",
		e.Pool, e.Requested, e.Free, e.Largest, e.Reclaimed, e.Coalesced)
}

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *ExhaustedError) Unwrap() error { return e.cause }
