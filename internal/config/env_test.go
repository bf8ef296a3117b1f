package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_Defaults(t *testing.T) {
	env, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, "3100", env.HTTPPort)
	assert.Equal(t, "local", env.StorageEnv.Type)
	assert.Equal(t, "file", env.CacheEnv.Type)
	assert.Equal(t, "cron_jobs.json", env.File)
	assert.Equal(t, 5, env.MaxRetries)
	assert.Equal(t, 30*time.Second, env.PullInterval)
	assert.Equal(t, time.Second, env.Debounce)
	assert.Equal(t, "kami", env.DefaultAgent)
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("TASKSYNC_SYNC_PULL_INTERVAL", "2m")
	t.Setenv("TASKSYNC_CACHE_TYPE", "sqlite")
	t.Setenv("TASKSYNC_REGISTRY_DIR", "/var/crons")

	env, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, env.PullInterval)
	assert.Equal(t, "sqlite", env.CacheEnv.Type)

	p, err := env.RegistryEnv.Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/crons", "cron_jobs.json"), p)
}

func TestLoadEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "storage type", key: "TASKSYNC_STORAGE_TYPE", val: "ftp"},
		{name: "s3 without bucket", key: "TASKSYNC_STORAGE_TYPE", val: "s3"},
		{name: "cache type", key: "TASKSYNC_CACHE_TYPE", val: "redis"},
		{name: "retries", key: "TASKSYNC_REGISTRY_MAX_RETRIES", val: "0"},
		{name: "debounce", key: "TASKSYNC_SYNC_DEBOUNCE", val: "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadEnv()
			assert.Error(t, err)
		})
	}
}

func TestRegistryPath_DefaultsUnderHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	p, err := (&RegistryEnv{File: "cron_jobs.json"}).Path()
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.openclaw/workspace/crons/cron_jobs.json", p)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, (&BaseEnv{LogLevel: "warn"}).SlogLevel())
	assert.Equal(t, slog.LevelDebug, (&BaseEnv{LogLevel: "nonsense"}).SlogLevel())
}
