package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, "badger", cfg.StoreBackend)
	assert.Equal(t, 300, cfg.Recording.ScanMarginSec)
	assert.Equal(t, 600, cfg.Recording.ShortVideoThresholdSec)
	assert.Equal(t, 2700, cfg.Recording.MinUploadDurationSec)
	assert.Equal(t, 10, cfg.Upload.ChunkSizeMB)
	assert.Equal(t, 3, cfg.Upload.RetryAttempts)
	assert.Equal(t, 5, cfg.Token.RefreshBufferMin)
	assert.EqualValues(t, 10*1024*1024, cfg.Upload.ChunkSize())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"bad backend", func(c *Config) { c.StoreBackend = "bolt" }, true},
		{"negative retries", func(c *Config) { c.Upload.RetryAttempts = -1 }, true},
		{"min upload below threshold", func(c *Config) { c.Recording.MinUploadDurationSec = 500 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
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

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  chunkSizeMB: 4\nrecording:\n  directory: /rec\n"), 0o600))

	t.Setenv("KANZELCAST_RETRY_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Upload.ChunkSizeMB)
	assert.Equal(t, 5, cfg.Upload.RetryAttempts)
	assert.Equal(t, "/rec", cfg.Recording.Directory)
	// untouched fields fall back to defaults
	assert.Equal(t, 2700, cfg.Recording.MinUploadDurationSec)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
