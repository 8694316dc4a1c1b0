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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Sync.MinDelay)
	assert.Equal(t, 15*time.Second, cfg.Sync.MaxDelay)
	assert.Equal(t, 10, cfg.Sync.MaxReportedFailures)
	assert.Equal(t, "708812851229229208", cfg.Sync.ForceOverrideID)
	assert.Equal(t, []string{"image/png", "image/jpeg", "image/gif"}, cfg.Evidence.AllowedTypes)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BANSYNC_SYNC_MIN_DELAY", "1s")
	t.Setenv("BANSYNC_SYNC_MAX_DELAY", "2s")
	t.Setenv("BANSYNC_DISCORD_TOKEN", "token-from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Sync.MinDelay)
	assert.Equal(t, 2*time.Second, cfg.Sync.MaxDelay)
	assert.Equal(t, "token-from-env", cfg.Discord.Token)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bansync.yaml")
	body := []byte("sync:\n  max_reported_failures: 3\nlog:\n  format: text\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Sync.MaxReportedFailures)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadRejectsInvertedDelays(t *testing.T) {
	t.Setenv("BANSYNC_SYNC_MIN_DELAY", "20s")
	t.Setenv("BANSYNC_SYNC_MAX_DELAY", "5s")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.max_delay")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
