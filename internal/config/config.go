// Package config assembles the service configuration: defaults, then an
// optional YAML file, then environment variables, strongest last.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr" env:"HTTP_ADDR"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	// Asset loading.
	AssetRoot     string        `yaml:"asset_root" env:"ASSET_ROOT"`
	AssetBaseURL  string        `yaml:"asset_base_url" env:"ASSET_BASE_URL"`
	CacheSize     int           `yaml:"cache_size" env:"CACHE_SIZE"`
	LoadTimeout   time.Duration `yaml:"load_timeout" env:"LOAD_TIMEOUT"`
	FetchMaxRetry time.Duration `yaml:"fetch_max_retry" env:"FETCH_MAX_RETRY"`

	// Registry.
	MaxLoadedMaps  int           `yaml:"max_loaded_maps" env:"MAX_LOADED_MAPS"`
	RepairInterval time.Duration `yaml:"repair_interval" env:"REPAIR_INTERVAL"`

	// Circuit breaker.
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold" env:"BREAKER_FAILURE_THRESHOLD"`
	BreakerSuccessThreshold int           `yaml:"breaker_success_threshold" env:"BREAKER_SUCCESS_THRESHOLD"`
	BreakerResetTimeout     time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`

	// Snapshots.
	MaxSnapshots     int           `yaml:"max_snapshots" env:"MAX_SNAPSHOTS"`
	SnapshotMaxAge   time.Duration `yaml:"snapshot_max_age" env:"SNAPSHOT_MAX_AGE"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL"`
}

func defaults() Config {
	return Config{
		HTTPAddr:         ":8081",
		LogLevel:         "info",
		CacheSize:        10,
		LoadTimeout:      30 * time.Second,
		FetchMaxRetry:    30 * time.Second,
		MaxLoadedMaps:    5,
		RepairInterval:   time.Minute,
		MaxSnapshots:     20,
		SnapshotMaxAge:   24 * time.Hour,
		SnapshotInterval: 5 * time.Minute,
	}
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error, env vars always apply.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	if cfg.CacheSize <= 0 {
		return Config{}, fmt.Errorf("config: cache_size must be > 0, got %d", cfg.CacheSize)
	}
	if cfg.MaxLoadedMaps <= 0 {
		return Config{}, fmt.Errorf("config: max_loaded_maps must be > 0, got %d", cfg.MaxLoadedMaps)
	}
	return cfg, nil
}
