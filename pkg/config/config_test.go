package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, time.Hour, cfg.Runner.Runtime)
	assert.Equal(t, 10*time.Minute, cfg.Runner.Fuzz)
	assert.Equal(t, 1.5, cfg.Runner.TimeoutMultiplier)
	assert.False(t, cfg.Runner.Autorecover)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, BackendMemory, cfg.Queue.Backend)
	assert.Equal(t, []string{"default"}, cfg.Queue.Names)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asyncworker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runner:
  runtime: 30m
  fuzz: 5m
  timeout_multiplier: 2
  autorecover: true
store:
  backend: redis
queue:
  backend: redis
  names: [high, default]
  retry_delay: 1m
redis:
  addr: redis:6379
  prefix: "fleet:"
supervisor:
  runners: [worker-1, worker-2]
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Runner.Runtime)
	assert.Equal(t, 5*time.Minute, cfg.Runner.Fuzz)
	assert.Equal(t, 2.0, cfg.Runner.TimeoutMultiplier)
	assert.True(t, cfg.Runner.Autorecover)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "fleet:", cfg.Redis.Prefix)
	assert.Equal(t, []string{"worker-1", "worker-2"}, cfg.Supervisor.Runners)
	assert.Equal(t, "@every 1m", cfg.Supervisor.Schedule, "defaults fill the gaps")

	policy := cfg.Lifecycle()
	assert.Equal(t, 30*time.Minute, policy.Window.Runtime)
	assert.True(t, policy.Autorecover)

	exec := cfg.Executor()
	assert.Equal(t, []string{"high", "default"}, exec.Queues)
	assert.Equal(t, time.Minute, exec.RetryDelay)
}

func TestLoad_ZeroFuzz(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asyncworker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runner:\n  fuzz: 0s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Runner.Fuzz, "an explicit zero fuzz is kept")
	assert.Equal(t, time.Hour, cfg.Runner.Runtime)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing File", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("Unknown Key", func(t *testing.T) {
		path := filepath.Join(dir, "unknown.yaml")
		require.NoError(t, os.WriteFile(path, []byte("runner:\n  runtme: 1h\n"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

// 32 zero bytes.
const testKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func TestConfig_EncryptionKeys(t *testing.T) {
	cfg := Default()
	active, fallback, err := cfg.EncryptionKeys()
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Nil(t, fallback)

	cfg.Queue.EncryptionKey = testKey
	cfg.Queue.FallbackKeys = []string{testKey}
	active, fallback, err = cfg.EncryptionKeys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	assert.Len(t, fallback, 1)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"multiplier below one", func(c *Config) { c.Runner.TimeoutMultiplier = 0.5 }, true},
		{"negative fuzz", func(c *Config) { c.Runner.Fuzz = -time.Second }, true},
		{"unknown store", func(c *Config) { c.Store.Backend = "postgres" }, true},
		{"file queue", func(c *Config) { c.Queue.Backend = BackendFile }, true},
		{"negative retry delay", func(c *Config) { c.Queue.RetryDelay = -time.Second }, true},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"encryption key", func(c *Config) { c.Queue.EncryptionKey = testKey }, false},
		{"short encryption key", func(c *Config) { c.Queue.EncryptionKey = "c2hvcnQ=" }, true},
		{"fallback without active key", func(c *Config) { c.Queue.FallbackKeys = []string{testKey} }, true},
		{"bad fallback key", func(c *Config) {
			c.Queue.EncryptionKey = testKey
			c.Queue.FallbackKeys = []string{"!!"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
