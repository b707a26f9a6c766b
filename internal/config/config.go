// Package config holds the runtime configuration for the session core.
package config

import (
	"fmt"
	"time"
)

// Config is the full runtime configuration. Zero values are replaced by
// defaults in ApplyDefaults; Validate rejects values the core cannot run with.
type Config struct {
	LogLevel string `yaml:"logLevel"`

	// DataDir is the root for all durable state (upload store, activity exports).
	DataDir string `yaml:"dataDir"`

	// StoreBackend selects the durable store: "badger" (default), "sqlite" or "memory".
	StoreBackend string `yaml:"storeBackend"`

	Recording RecordingConfig `yaml:"recording"`
	Upload    UploadConfig    `yaml:"upload"`
	Token     TokenConfig     `yaml:"token"`
}

// RecordingConfig controls the recording scan and selection step.
type RecordingConfig struct {
	// Directory is where the broadcast backend writes recording files.
	Directory string `yaml:"directory"`

	// ScanMarginSec widens the session window on both ends to tolerate
	// clock skew and delayed output flushes.
	ScanMarginSec int `yaml:"scanMarginSec"`

	// ShortVideoThresholdSec partitions candidates into long and short.
	ShortVideoThresholdSec int `yaml:"shortVideoThresholdSec"`

	// MinUploadDurationSec is the minimum duration a single long candidate
	// must have to be auto-selected.
	MinUploadDurationSec int `yaml:"minUploadDurationSec"`

	// StableWaitTimeoutSec bounds how long to wait for a recording file to
	// appear and stop growing before scanning gives up on it.
	StableWaitTimeoutSec int `yaml:"stableWaitTimeoutSec"`
}

// UploadConfig controls the resumable upload engine.
type UploadConfig struct {
	ChunkSizeMB   int `yaml:"chunkSizeMB"`
	RetryAttempts int `yaml:"retryAttempts"`

	// RateLimitMBps throttles upload bandwidth. 0 means unlimited.
	RateLimitMBps int `yaml:"rateLimitMBps"`

	// ChunkTimeoutSec bounds a single chunk request.
	ChunkTimeoutSec int `yaml:"chunkTimeoutSec"`
}

// TokenConfig controls OAuth token handling.
type TokenConfig struct {
	// RefreshBufferMin refreshes the access token proactively when it
	// expires within this many minutes.
	RefreshBufferMin int `yaml:"refreshBufferMin"`
}

// ScanMargin returns the scan window margin as a duration.
func (c RecordingConfig) ScanMargin() time.Duration {
	return time.Duration(c.ScanMarginSec) * time.Second
}

// ShortVideoThreshold returns the long/short partition boundary.
func (c RecordingConfig) ShortVideoThreshold() time.Duration {
	return time.Duration(c.ShortVideoThresholdSec) * time.Second
}

// MinUploadDuration returns the auto-select duration floor.
func (c RecordingConfig) MinUploadDuration() time.Duration {
	return time.Duration(c.MinUploadDurationSec) * time.Second
}

// StableWaitTimeout returns the file stability wait bound.
func (c RecordingConfig) StableWaitTimeout() time.Duration {
	return time.Duration(c.StableWaitTimeoutSec) * time.Second
}

// ChunkSize returns the chunk size in bytes.
func (c UploadConfig) ChunkSize() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// ChunkTimeout returns the per-chunk request deadline.
func (c UploadConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSec) * time.Second
}

// RefreshBuffer returns the proactive refresh window.
func (c TokenConfig) RefreshBuffer() time.Duration {
	return time.Duration(c.RefreshBufferMin) * time.Minute
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.StoreBackend == "" {
		c.StoreBackend = "badger"
	}
	if c.Recording.ScanMarginSec == 0 {
		c.Recording.ScanMarginSec = 300
	}
	if c.Recording.ShortVideoThresholdSec == 0 {
		c.Recording.ShortVideoThresholdSec = 600
	}
	if c.Recording.MinUploadDurationSec == 0 {
		c.Recording.MinUploadDurationSec = 2700
	}
	if c.Recording.StableWaitTimeoutSec == 0 {
		c.Recording.StableWaitTimeoutSec = 60
	}
	if c.Upload.ChunkSizeMB == 0 {
		c.Upload.ChunkSizeMB = 10
	}
	if c.Upload.RetryAttempts == 0 {
		c.Upload.RetryAttempts = 3
	}
	if c.Upload.ChunkTimeoutSec == 0 {
		c.Upload.ChunkTimeoutSec = 120
	}
	if c.Token.RefreshBufferMin == 0 {
		c.Token.RefreshBufferMin = 5
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Upload.ChunkSizeMB < 1 {
		return fmt.Errorf("upload.chunkSizeMB must be >= 1, got %d", c.Upload.ChunkSizeMB)
	}
	if c.Upload.RetryAttempts < 0 {
		return fmt.Errorf("upload.retryAttempts must be >= 0, got %d", c.Upload.RetryAttempts)
	}
	if c.Upload.RateLimitMBps < 0 {
		return fmt.Errorf("upload.rateLimitMBps must be >= 0, got %d", c.Upload.RateLimitMBps)
	}
	if c.Recording.ShortVideoThresholdSec <= 0 {
		return fmt.Errorf("recording.shortVideoThresholdSec must be > 0, got %d", c.Recording.ShortVideoThresholdSec)
	}
	if c.Recording.MinUploadDurationSec < c.Recording.ShortVideoThresholdSec {
		return fmt.Errorf("recording.minUploadDurationSec (%d) must be >= shortVideoThresholdSec (%d)",
			c.Recording.MinUploadDurationSec, c.Recording.ShortVideoThresholdSec)
	}
	switch c.StoreBackend {
	case "badger", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend: %q (supported: badger, sqlite, memory)", c.StoreBackend)
	}
	return nil
}
