package cli

import (
	"log"
	"os"

	"github.com/coachpo/shmpub/internal/observability"
)

// NewLogger returns the stdout logger a command prints its lifecycle to.
func NewLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
}

// InstallLogger makes std, filtered at level, the global structured logger.
func InstallLogger(std *log.Logger, level observability.Level) observability.Logger {
	logger := observability.NewStdLogger(std, level)
	observability.SetLogger(logger)
	return logger
}
