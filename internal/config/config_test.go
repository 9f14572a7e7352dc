package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.RateLimit.MaxPerMinute)
	assert.Equal(t, int64(6000), cfg.RateLimit.MinIntervalMs)
	assert.Equal(t, 50.0, cfg.Reputation.InitialScore)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "mock", cfg.Prover.Mode)

	th := cfg.Effort.Thresholds()
	assert.Equal(t, 5*time.Minute, th.MinDuration)
	assert.Equal(t, 0.5, th.MinEntropy)
	assert.Equal(t, 50*time.Millisecond, th.MinEventInterval)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9090"
rate_limit:
  max_per_minute: 25
effort:
  min_entropy: 0.6
storage:
  backend: redis
  redis_addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 25, cfg.RateLimit.MaxPerMinute)
	assert.Equal(t, 0.6, cfg.Effort.Thresholds().MinEntropy)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POHW_PORT", "7070")
	t.Setenv("POHW_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Storage.RedisAddr)
}

func TestProverTimeoutFallback(t *testing.T) {
	assert.Equal(t, 10*time.Second, ProverConfig{}.Timeout())
	assert.Equal(t, 250*time.Millisecond, ProverConfig{TimeoutMs: 250}.Timeout())
}
