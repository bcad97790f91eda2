package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8311", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.Staleness)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, int64(100<<20), cfg.Wipe.OverwriteCeiling)
	assert.Equal(t, 3, cfg.Wipe.MaxRetries)
	assert.Contains(t, cfg.Download.BlockedExtensions, ".exe")
	assert.Contains(t, cfg.Download.AllowedTypes, "application/pdf")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SABLE_PORT", "9000")
	t.Setenv("SABLE_SWEEP_INTERVAL", "1m")
	t.Setenv("SABLE_WIPE_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, 5, cfg.Wipe.MaxRetries)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("SABLE_SWEEP_INTERVAL", "not-a-duration")

	cfg := LoadOrDefault()
	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
}
