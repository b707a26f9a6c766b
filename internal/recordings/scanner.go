package recordings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kanzelcast/internal/log"
)

// ErrScanFailed wraps filesystem failures during a directory scan. Callers
// check with errors.Is and decide whether to fall back to manual file addition.
var ErrScanFailed = errors.New("recording scan failed")

// Scanner lists recording files whose modification time falls inside a window.
type Scanner interface {
	Scan(ctx context.Context, dir string, windowStart, windowEnd time.Time) ([]File, error)
}

// DurationProber reports the media duration of a recording file.
// Probing is delegated so the scanner stays free of media tooling.
type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// DirScanner lists a directory and probes each candidate's duration.
type DirScanner struct {
	Prober DurationProber

	// AllowedExt restricts candidates by extension. Empty means the
	// defaults (.mp4, .mkv, .ts, .flv, .mov).
	AllowedExt []string
}

var defaultAllowedExt = []string{".mp4", ".mkv", ".ts", ".flv", ".mov"}

// Scan lists files in dir whose ModifiedAt falls in [windowStart, windowEnd].
// It never mutates filesystem state. An unreadable directory yields an error
// wrapping ErrScanFailed; a file that fails duration probing is skipped with
// a log entry rather than failing the whole scan.
func (s *DirScanner) Scan(ctx context.Context, dir string, windowStart, windowEnd time.Time) ([]File, error) {
	logger := log.WithComponentFromContext(ctx, "scanner")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrScanFailed, dir, err)
	}

	allowed := s.AllowedExt
	if len(allowed) == 0 {
		allowed = defaultAllowedExt
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !extAllowed(entry.Name(), allowed) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if mod.Before(windowStart) || mod.After(windowEnd) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		duration, err := s.Prober.Duration(ctx, path)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("duration probe failed, skipping file")
			continue
		}

		files = append(files, File{
			Path:       path,
			Name:       entry.Name(),
			Size:       info.Size(),
			Duration:   duration,
			CreatedAt:  mod,
			ModifiedAt: mod,
		})
	}

	logger.Debug().
		Str(log.FieldDirectory, dir).
		Int("candidates", len(files)).
		Time("window_start", windowStart).
		Time("window_end", windowEnd).
		Msg("scan completed")

	return files, nil
}

func extAllowed(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}
