package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/shmpub/internal/config"
)

func TestParseFlagsLargeBufferVariant(t *testing.T) {
	opts, err := parseFlags([]string{"-s", "1024000", "-n", "100", "--interval", "250ms", "-p", "demo/example/large"})
	require.NoError(t, err)

	cfg := config.Default()
	require.NoError(t, opts.apply(&cfg))
	require.Equal(t, 1024000, cfg.SHM.ElementSize)
	require.Equal(t, 100, cfg.SHM.ElementNumber)
	require.Equal(t, 250*time.Millisecond, cfg.Publisher.Interval.Std())
	require.Equal(t, "demo/example/large", cfg.Publisher.Key)
}

func TestUnsetFlagsKeepFileValues(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.SHM.ElementSize = 4096
	cfg.Publisher.Key = "from/file"
	cfg.Session.Connect = []string{"ws/10.0.0.1:7447"}
	require.NoError(t, opts.apply(&cfg))
	require.Equal(t, 4096, cfg.SHM.ElementSize)
	require.Equal(t, "from/file", cfg.Publisher.Key)
	require.Equal(t, []string{"ws/10.0.0.1:7447"}, cfg.Session.Connect)
}

func TestApplyRejectsInvalidOverrides(t *testing.T) {
	opts, err := parseFlags([]string{"--mode", "router"})
	require.NoError(t, err)
	cfg := config.Default()
	require.Error(t, opts.apply(&cfg))

	_, err = parseFlags([]string{"stray"})
	require.Error(t, err)
}
