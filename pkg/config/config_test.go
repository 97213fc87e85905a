package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Node.LogLevel)
	require.Equal(t, 1<<20, cfg.Network.GossipMaxSize)
	require.Equal(t, 3, cfg.Sync.ContextsPerTick)
	require.NotZero(t, cfg.Storage.TombstoneRetain)
	require.NotZero(t, cfg.Runtime.MaxMemoryPages)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsZeroedLimits(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Runtime.MaxMemoryPages = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Sync.ContextsPerTick = 0
	require.Error(t, bad.Validate())
}

func TestYAMLRendersFileShape(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)

	text := string(out)
	require.True(t, strings.Contains(text, "listen_addr:"), "yaml keys match the config file's snake_case shape")
	require.True(t, strings.Contains(text, "tombstone_retain:"))
	require.True(t, strings.Contains(text, "max_memory_pages:"))
}
