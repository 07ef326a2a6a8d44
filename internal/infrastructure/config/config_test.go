package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Store = StoreConfig{Backend: BackendSQLite}
	cfg.Retry.InitialDelay = 25 * time.Millisecond
	cfg.Notifications.Adapters = []messaging.AdapterConfig{{
		Name: "team", Type: "slack", URL: "https://hooks.slack.com/services/x",
		Enabled: true, EventFilters: []string{"blocked", "completed"}, RetryDelay: 2 * time.Second,
	}}
	require.NoError(t, Save(root, cfg))

	data, err := os.ReadFile(filepath.Join(root, storage.TaskstreamDir, storage.ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "initial_delay: 25ms")

	got, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Save(root, Default()))

	t.Setenv("TASKSTREAM_STORE_BACKEND", "postgres")
	t.Setenv("TASKSTREAM_STORE_DSN", "postgres://localhost/taskstream")
	t.Setenv("TASKSTREAM_LOG_LEVEL", "debug")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/taskstream", cfg.Store.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, storage.TaskstreamDir)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.ConfigFile), []byte("store:\n  backend: mongo\n"), 0600))

	_, err := Load(root)
	assert.ErrorContains(t, err, "Config.Store.Backend")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "Config.Store.DSN"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "Config.Retry.MaxAttempts"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "Config.Log.Format"},
		{"cache without addr", func(c *Config) { c.Cache.Enabled = true }, "Config.Cache.Addr"},
		{"bad metrics addr", func(c *Config) { c.Metrics.Addr = "nowhere" }, "Config.Metrics.Addr"},
		{"adapter without url", func(c *Config) {
			c.Notifications.Adapters = []messaging.AdapterConfig{{Name: "x", Type: "webhook"}}
		}, "URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "stream", "s1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"stream":"s1"`)
}
