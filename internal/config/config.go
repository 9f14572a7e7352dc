// Package config loads the registry node's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/gdnshnk/pohw-registry-node-sub003/internal/effort"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/ratelimit"
	"github.com/gdnshnk/pohw-registry-node-sub003/internal/reputation"
)

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	RateLimit  ratelimit.Config  `yaml:"rate_limit"`
	Reputation reputation.Params `yaml:"reputation"`
	Effort     EffortConfig      `yaml:"effort"`
	Storage    StorageConfig     `yaml:"storage"`
	Prover     ProverConfig      `yaml:"prover"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// EffortConfig is the YAML shape of the human-effort thresholds; durations
// are integer milliseconds on disk.
type EffortConfig struct {
	MinDurationMs        int64   `yaml:"min_duration_ms"`
	MinEntropy           float64 `yaml:"min_entropy"`
	MinTemporalCoherence float64 `yaml:"min_temporal_coherence"`
	MaxInputRate         float64 `yaml:"max_input_rate"`
	MinEventIntervalMs   int64   `yaml:"min_event_interval_ms"`
}

// Thresholds converts the YAML shape to the effort package's native form.
func (e EffortConfig) Thresholds() effort.Thresholds {
	return effort.Thresholds{
		MinDuration:          time.Duration(e.MinDurationMs) * time.Millisecond,
		MinEntropy:           e.MinEntropy,
		MinTemporalCoherence: e.MinTemporalCoherence,
		MaxInputRate:         e.MaxInputRate,
		MinEventInterval:     time.Duration(e.MinEventIntervalMs) * time.Millisecond,
	}
}

type StorageConfig struct {
	// Backend selects the durable store: "memory", "postgres", or "redis".
	Backend        string `yaml:"backend"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

type ProverConfig struct {
	// Mode is "off" (commitment-only digests) or "mock" (in-process prover).
	Mode      string `yaml:"mode"`
	TimeoutMs int64  `yaml:"timeout_ms"`
}

// Timeout returns the prover call deadline.
func (p ProverConfig) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return effort.DefaultProofTimeout
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Default returns the stock configuration: in-memory store, mock prover,
// default human-effort thresholds.
func Default() *Config {
	th := effort.DefaultThresholds()
	return &Config{
		Server:     ServerConfig{Port: "8080", Env: "development"},
		RateLimit:  ratelimit.DefaultConfig(),
		Reputation: reputation.DefaultParams(),
		Effort: EffortConfig{
			MinDurationMs:        th.MinDuration.Milliseconds(),
			MinEntropy:           th.MinEntropy,
			MinTemporalCoherence: th.MinTemporalCoherence,
			MaxInputRate:         th.MaxInputRate,
			MinEventIntervalMs:   th.MinEventInterval.Milliseconds(),
		},
		Storage: StorageConfig{Backend: "memory"},
		Prover:  ProverConfig{Mode: "mock", TimeoutMs: 10000},
	}
}

// Load reads path over the defaults; an empty path returns the defaults
// untouched. POHW_PORT, POHW_POSTGRES_DSN, and POHW_REDIS_ADDR override
// their file counterparts.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("POHW_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("POHW_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("POHW_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	return cfg, nil
}
