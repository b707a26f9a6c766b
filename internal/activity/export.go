package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/renameio/v2"

	"kanzelcast/internal/log"
)

// Export writes the full log as JSON with atomic + durable replace, so the
// on-disk failure history is never half-written even on power loss.
func (l *Log) Export(ctx context.Context, path string) error {
	logger := log.FromContext(ctx)

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending activity export: %w", err)
	}
	defer func() {
		// renameio removes the temp file if not committed.
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending activity export")
		}
	}()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.All()); err != nil {
		return fmt.Errorf("encode activity log: %w", err)
	}

	// CloseAtomicallyReplace: fsync + rename (durable + atomic)
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace activity export: %w", err)
	}

	return nil
}
