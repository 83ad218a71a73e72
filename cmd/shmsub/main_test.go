package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/shmpub/internal/config"
)

func TestParseFlagsSubscriberKey(t *testing.T) {
	opts, err := parseFlags([]string{"-k", "demo/**", "-m", "client", "-e", "ws/127.0.0.1:7447"})
	require.NoError(t, err)

	cfg := config.Default()
	require.NoError(t, opts.apply(&cfg))
	require.Equal(t, "demo/**", cfg.Subscriber.Key)
	require.Equal(t, "client", cfg.Session.Mode)
	require.Equal(t, []string{"ws/127.0.0.1:7447"}, cfg.Session.Connect)
}

func TestDefaultSubscriberKey(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)

	cfg := config.Default()
	require.NoError(t, opts.apply(&cfg))
	require.Equal(t, "demo/example/**", cfg.Subscriber.Key)
	require.True(t, cfg.Session.MulticastScouting)
}
