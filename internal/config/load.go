package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration from an optional YAML file, overlays
// KANZELCAST_* environment variables, applies defaults and validates.
// An empty path skips the file step entirely.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = envString("KANZELCAST_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = envString("KANZELCAST_DATA_DIR", cfg.DataDir)
	cfg.StoreBackend = envString("KANZELCAST_STORE_BACKEND", cfg.StoreBackend)
	cfg.Recording.Directory = envString("KANZELCAST_RECORDING_DIR", cfg.Recording.Directory)
	cfg.Recording.ShortVideoThresholdSec = envInt("KANZELCAST_SHORT_VIDEO_THRESHOLD_SEC", cfg.Recording.ShortVideoThresholdSec)
	cfg.Recording.MinUploadDurationSec = envInt("KANZELCAST_MIN_UPLOAD_DURATION_SEC", cfg.Recording.MinUploadDurationSec)
	cfg.Upload.ChunkSizeMB = envInt("KANZELCAST_CHUNK_SIZE_MB", cfg.Upload.ChunkSizeMB)
	cfg.Upload.RetryAttempts = envInt("KANZELCAST_RETRY_ATTEMPTS", cfg.Upload.RetryAttempts)
	cfg.Upload.RateLimitMBps = envInt("KANZELCAST_RATE_LIMIT_MBPS", cfg.Upload.RateLimitMBps)
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
