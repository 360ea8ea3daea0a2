package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Instance, "instance falls back to hostname")
	assert.Equal(t, "conveyor.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, 10*time.Second, cfg.Workers.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Workers.Invisibility)
	assert.True(t, cfg.Purge.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Purge.MaxAge)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conveyor.toml")
	body := `
instance = "registry-worker-3"

[database]
path = "/var/lib/conveyor/queue.db"

[blob]
dir = "/var/lib/conveyor/blobs"

[workers]
count = 4
poll_interval = "2s"
rate_per_second = 5.0
rate_burst = 10

[purge]
enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "registry-worker-3", cfg.Instance)
	assert.Equal(t, "/var/lib/conveyor/queue.db", cfg.Database.Path)
	assert.Equal(t, "/var/lib/conveyor/blobs", cfg.Blob.Dir)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, 2*time.Second, cfg.Workers.PollInterval)
	assert.Equal(t, 5.0, cfg.Workers.RatePerSecond)
	assert.Equal(t, 10, cfg.Workers.RateBurst)
	assert.False(t, cfg.Purge.Enabled)

	// File values layer over defaults, not replace them.
	assert.Equal(t, 30*time.Minute, cfg.Workers.Invisibility)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("CONVEYOR_WORKERS_COUNT", "7")
	t.Setenv("CONVEYOR_INSTANCE", "env-instance")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers.Count)
	assert.Equal(t, "env-instance", cfg.Instance)
}
