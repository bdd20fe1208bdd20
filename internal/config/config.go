// Package config loads and validates process configuration from a YAML
// file with environment-variable overrides, following the teacher's
// Load/validate/loadFromEnv contract.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type IngestConfig struct {
	BatchSize           int `yaml:"batch_size" validate:"gt=0"`
	FlushIntervalMS     int `yaml:"flush_interval_ms" validate:"gt=0"`
	WorkerCount         int `yaml:"worker_count" validate:"gt=0"`
	DeliveryWorkerCount int `yaml:"delivery_worker_count" validate:"gt=0"`
	MaxPayloadBytes     int `yaml:"max_payload_bytes" validate:"gt=0"`
}

type PoolConfig struct {
	Min int `yaml:"min" validate:"gte=0,ltefield=Max"`
	Max int `yaml:"max" validate:"gt=0"`
}

type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" validate:"gt=0"`
	MaxSize    int `yaml:"max_size" validate:"gt=0"`
}

type BucketConfig struct {
	TTLSeconds      int `yaml:"ttl_seconds" validate:"gt=0"`
	CleanupInterval int `yaml:"cleanup_interval_seconds" validate:"gt=0"`
}

type HeartbeatConfig struct {
	StaleSeconds   int `yaml:"stale_seconds" validate:"gt=0"`
	OfflineSeconds int `yaml:"offline_seconds" validate:"gtfield=StaleSeconds"`
}

type Config struct {
	Ingest              IngestConfig    `yaml:"ingest"`
	Pool                PoolConfig      `yaml:"pool"`
	AuthCache           CacheConfig     `yaml:"auth_cache"`
	MetricMapCache      CacheConfig     `yaml:"metric_map_cache"`
	Bucket              BucketConfig    `yaml:"bucket"`
	Heartbeat           HeartbeatConfig `yaml:"heartbeat"`
	FallbackPollSeconds int             `yaml:"fallback_poll_seconds" validate:"gt=0"`
	SettingsPollSeconds int             `yaml:"settings_poll_seconds" validate:"gt=0"`
	BusURL              string          `yaml:"bus_url" validate:"required"`
	StoreDSN            string          `yaml:"store_dsn" validate:"required"`
}

func defaults() *Config {
	return &Config{
		Ingest: IngestConfig{
			BatchSize:           500,
			FlushIntervalMS:     1000,
			WorkerCount:         4,
			DeliveryWorkerCount: 2,
			MaxPayloadBytes:     64 * 1024,
		},
		Pool:           PoolConfig{Min: 2, Max: 10},
		AuthCache:      CacheConfig{TTLSeconds: 60, MaxSize: 10000},
		MetricMapCache: CacheConfig{TTLSeconds: 300, MaxSize: 10000},
		Bucket:         BucketConfig{TTLSeconds: 3600, CleanupInterval: 300},
		Heartbeat:      HeartbeatConfig{StaleSeconds: 120, OfflineSeconds: 300},
		FallbackPollSeconds: 30,
		SettingsPollSeconds: 60,
		BusURL:   "redis://localhost:6379/0",
		StoreDSN: "host=localhost port=5432 user=fleetcore dbname=fleetcore sslmode=disable",
	}
}

// Load reads a YAML config file (if present), applies environment
// variable overrides, validates, and returns the resolved Config.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromEnv(cfg *Config) error {
	intFromEnv := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	for _, e := range []struct {
		key string
		dst *int
	}{
		{"BATCH_SIZE", &cfg.Ingest.BatchSize},
		{"FLUSH_INTERVAL_MS", &cfg.Ingest.FlushIntervalMS},
		{"INGEST_WORKER_COUNT", &cfg.Ingest.WorkerCount},
		{"DELIVERY_WORKER_COUNT", &cfg.Ingest.DeliveryWorkerCount},
		{"PG_POOL_MIN", &cfg.Pool.Min},
		{"PG_POOL_MAX", &cfg.Pool.Max},
		{"AUTH_CACHE_TTL_SECONDS", &cfg.AuthCache.TTLSeconds},
		{"AUTH_CACHE_MAX_SIZE", &cfg.AuthCache.MaxSize},
		{"METRIC_MAP_CACHE_TTL", &cfg.MetricMapCache.TTLSeconds},
		{"METRIC_MAP_CACHE_SIZE", &cfg.MetricMapCache.MaxSize},
		{"BUCKET_TTL_SECONDS", &cfg.Bucket.TTLSeconds},
		{"BUCKET_CLEANUP_INTERVAL", &cfg.Bucket.CleanupInterval},
		{"FALLBACK_POLL_SECONDS", &cfg.FallbackPollSeconds},
		{"HEARTBEAT_STALE_SECONDS", &cfg.Heartbeat.StaleSeconds},
		{"HEARTBEAT_OFFLINE_SECONDS", &cfg.Heartbeat.OfflineSeconds},
		{"SETTINGS_POLL_SECONDS", &cfg.SettingsPollSeconds},
	} {
		if err := intFromEnv(e.key, e.dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("BUS_URL"); v != "" {
		cfg.BusURL = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}
	return nil
}

var configValidator = validator.New()

func validate(cfg *Config) error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// MaxRetryAfter is the 60 s cap on a webhook's Retry-After delay.
// internal/routedelivery/destination declares its own MaxRetryAfter with
// the same value and uses that one; nothing reads this constant.
const MaxRetryAfter = 60 * time.Second
