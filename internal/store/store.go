// Package store provides the durable persistence layer: upload session
// records and event snapshots survive process restarts in Badger or SQLite,
// with an in-memory backend for tests.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"kanzelcast/internal/config"
	"kanzelcast/internal/upload"
)

// Store is the full persistence contract. The upload methods satisfy the
// engine's narrower Store interface; snapshot blobs are opaque to this
// layer and owned by the session machine.
type Store interface {
	Put(ctx context.Context, s *upload.Session) error
	Get(ctx context.Context, id string) (*upload.Session, error)
	Update(ctx context.Context, id string, fn func(*upload.Session) error) (*upload.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*upload.Session, error)

	PutSnapshot(ctx context.Context, eventID string, blob []byte) error
	GetSnapshot(ctx context.Context, eventID string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, eventID string) error
	ListSnapshots(ctx context.Context) (map[string][]byte, error)

	Close() error
}

// Open creates the backend selected by the configuration. Data lives under
// cfg.DataDir for the durable backends.
func Open(cfg config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case "badger", "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	switch cfg.StoreBackend {
	case "badger":
		return OpenBadger(filepath.Join(cfg.DataDir, "state"))
	case "sqlite":
		return OpenSQLite(filepath.Join(cfg.DataDir, "kanzelcast.db"))
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.StoreBackend)
	}
}
