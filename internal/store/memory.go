package store

import (
	"context"
	"sync"

	"kanzelcast/internal/upload"
)

// MemoryStore is the non-durable backend. It copies records on every
// boundary so callers never share mutable state with the store.
type MemoryStore struct {
	mu        sync.Mutex
	uploads   map[string]*upload.Session
	snapshots map[string][]byte
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		uploads:   make(map[string]*upload.Session),
		snapshots: make(map[string][]byte),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Put(_ context.Context, rec *upload.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.uploads[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*upload.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.uploads[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*upload.Session) error) (*upload.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.uploads[id]
	if !ok {
		return nil, upload.ErrNotFound
	}
	cp := *rec
	if err := fn(&cp); err != nil {
		return nil, err
	}
	s.uploads[id] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*upload.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*upload.Session, 0, len(s.uploads))
	for _, rec := range s.uploads {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) PutSnapshot(_ context.Context, eventID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(blob))
	copy(cp, blob)
	s.snapshots[eventID] = cp
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, eventID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.snapshots[eventID]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}

func (s *MemoryStore) DeleteSnapshot(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, eventID)
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.snapshots))
	for k, v := range s.snapshots {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
var _ upload.Store = (*MemoryStore)(nil)
