package recordings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"kanzelcast/internal/log"
)

// IsStableCtx checks if a file's size is stable over the given window.
// This prevents selecting a file the broadcast backend is still flushing.
func IsStableCtx(ctx context.Context, path string, window time.Duration) (bool, error) {
	stat1, err := os.Stat(path)
	if err != nil {
		return false, nil
	}

	t := time.NewTimer(window)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	stat2, err := os.Stat(path)
	if err != nil {
		return false, nil
	}

	return stat1.Size() == stat2.Size(), nil
}

// WaitForFile waits for a file to appear and reach a non-zero size using
// fsnotify. Recording outputs can lag the stop signal by several seconds,
// so finalization waits instead of polling.
func WaitForFile(ctx context.Context, path string, timeout time.Duration) error {
	logger := log.WithComponentFromContext(ctx, "recordings")

	// Fast path: file already exists.
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}

	targetName := filepath.Base(path)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Re-check after adding the watcher; the file may have landed in between.
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("timeout waiting for file %s", targetName)
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}
			if filepath.Base(event.Name) == targetName {
				if event.Op&fsnotify.Create == fsnotify.Create || event.Op&fsnotify.Write == fsnotify.Write {
					// Create can fire before data is flushed.
					if info, err := os.Stat(path); err == nil && info.Size() > 0 {
						return nil
					}
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}
