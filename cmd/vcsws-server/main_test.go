package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/vcsws/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	require.NoError(t, rootCmd.Flags().Set("env-file", filepath.Join(t.TempDir(), "missing.env")))

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)

	d := broker.DefaultConfig()
	assert.Equal(t, d.Addr, cfg.Addr)
	assert.Equal(t, d.PingInterval, cfg.PingInterval)
	assert.Equal(t, d.RateLimit, cfg.RateLimit)
	assert.Equal(t, d.CollectTimeout, cfg.CollectTimeout)
}

func TestLoadConfigEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VCSWS_ADDR=0.0.0.0:9999\nVCSWS_PING_INTERVAL=3s\nVCSWS_HISTORY_DB=/var/lib/vcsws/rounds.db\n"), 0o644))
	require.NoError(t, rootCmd.Flags().Set("env-file", envFile))
	t.Cleanup(func() {
		os.Unsetenv("VCSWS_ADDR")
		os.Unsetenv("VCSWS_PING_INTERVAL")
		os.Unsetenv("VCSWS_HISTORY_DB")
	})

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.PingInterval)
	assert.Equal(t, "/var/lib/vcsws/rounds.db", cfg.HistoryPath)
}
