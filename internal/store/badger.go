package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"kanzelcast/internal/upload"
)

const (
	uploadPrefix   = "upl:"
	snapshotPrefix = "snap:"
)

// BadgerStore keeps records as JSON values:
//   - upload sessions: key = "upl:<id>"
//   - event snapshots: key = "snap:<eventID>"
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Put(_ context.Context, rec *upload.Session) error {
	key := []byte(uploadPrefix + rec.ID)
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

func (s *BadgerStore) Get(_ context.Context, id string) (*upload.Session, error) {
	key := []byte(uploadPrefix + id)
	var out upload.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// Update applies fn inside one read-modify-write transaction so concurrent
// updates to the same record cannot interleave.
func (s *BadgerStore) Update(_ context.Context, id string, fn func(*upload.Session) error) (*upload.Session, error) {
	key := []byte(uploadPrefix + id)
	var out upload.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return upload.ErrNotFound
			}
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		}); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	key := []byte(uploadPrefix + id)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]*upload.Session, error) {
	var list []*upload.Session
	prefix := []byte(uploadPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var rec upload.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			list = append(list, &rec)
		}
		return nil
	})
	return list, err
}

func (s *BadgerStore) PutSnapshot(_ context.Context, eventID string, blob []byte) error {
	key := []byte(snapshotPrefix + eventID)
	val := make([]byte, len(blob))
	copy(val, blob)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (s *BadgerStore) GetSnapshot(_ context.Context, eventID string) ([]byte, error) {
	key := []byte(snapshotPrefix + eventID)
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) DeleteSnapshot(_ context.Context, eventID string) error {
	key := []byte(snapshotPrefix + eventID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStore) ListSnapshots(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	prefix := []byte(snapshotPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			item := it.Item()
			eventID := string(item.Key()[len(prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[eventID] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*BadgerStore)(nil)
var _ upload.Store = (*BadgerStore)(nil)
