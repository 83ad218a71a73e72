package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/shmpub/internal/config"
)

func TestParseFlagsOverridesPoolSize(t *testing.T) {
	opts, err := parseFlags([]string{"--shm-element-size", "2048", "-n", "8"})
	require.NoError(t, err)

	cfg := config.Default()
	require.NoError(t, opts.apply(&cfg))
	require.Equal(t, 2048, cfg.SHM.ElementSize)
	require.Equal(t, 8, cfg.SHM.ElementNumber)
	require.Equal(t, 2048*8, cfg.PoolSpec().Capacity())
}

func TestParseFlagsRejectsZeroElements(t *testing.T) {
	opts, err := parseFlags([]string{"-n", "0"})
	require.NoError(t, err)
	cfg := config.Default()
	require.Error(t, opts.apply(&cfg))
}
