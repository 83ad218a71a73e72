package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/shmpub/internal/handoff"
	"github.com/coachpo/shmpub/internal/pool"
	"github.com/coachpo/shmpub/internal/session"
	"github.com/coachpo/shmpub/internal/telemetry"
)

const (
	// ShutdownTimeout bounds the whole shutdown sequence.
	ShutdownTimeout = 30 * time.Second

	lifecycleShutdownTimeout = 10 * time.Second
	sessionShutdownTimeout   = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

// Shutdown lists what a command tears down, in order: cancel the main
// context, close queues, wait for goroutines, close the session, drain the
// pools, flush telemetry. Nil members are skipped.
type Shutdown struct {
	MainCancel context.CancelFunc
	Closers    []func()
	Lifecycle  *conc.WaitGroup
	Session    *session.Session
	Pools      *pool.Manager
	PoolDrain  time.Duration
	Telemetry  *telemetry.Provider
}

// Run executes every stage, logging progress to logger.
func (s Shutdown) Run(ctx context.Context, logger *log.Logger) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	logger.Print("shutdown: cancelling main context")
	if s.MainCancel != nil {
		s.MainCancel()
	}
	for _, closeFn := range s.Closers {
		if closeFn != nil {
			closeFn()
		}
	}

	if s.Lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				s.Lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if s.Session != nil {
		shutdownStep("closing session", sessionShutdownTimeout, func(stepCtx context.Context) error {
			return s.Session.Close(stepCtx)
		})
	}

	if s.Pools != nil {
		drain := s.PoolDrain
		if drain <= 0 {
			drain = 5 * time.Second
		}
		shutdownStep("shutting down pool manager", drain, func(stepCtx context.Context) error {
			return s.Pools.Shutdown(stepCtx)
		})
	}

	if s.Telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return s.Telemetry.Shutdown(stepCtx)
		})
	}
}

// IsShutdown reports whether err only signals that the command was asked to
// stop.
func IsShutdown(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, pool.ErrManagerClosed) ||
		errors.Is(err, handoff.ErrClosed) ||
		session.IsClosed(err)
}

// ExitCode maps the error that ended a command onto a process exit status.
func ExitCode(err error) int {
	if IsShutdown(err) {
		return 0
	}
	return 1
}
