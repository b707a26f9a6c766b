package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanzelcast/internal/config"
	"kanzelcast/internal/types"
	"kanzelcast/internal/upload"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	badgerStore, err := OpenBadger(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "kanzelcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"badger": badgerStore,
		"sqlite": sqliteStore,
		"memory": NewMemory(),
	}
}

func sampleSession() *upload.Session {
	s := upload.NewSession("evt-42", "churchtools", "Sunday Service", "/recordings/sermon.mp4", 1<<30)
	s.UploadURL = "https://upload.example/abc"
	s.BytesUploaded = 512 << 20
	s.Status = types.UploadStatusPaused
	s.RetryCount = 2
	return s
}

func TestStoreUploadRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleSession()
			require.NoError(t, s.Put(ctx, want))

			got, err := s.Get(ctx, want.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
				t.Errorf("session mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStoreGetMissingReturnsNil(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(context.Background(), "nope")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreUpdateIsAtomicAndPersists(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := sampleSession()
			require.NoError(t, s.Put(ctx, rec))

			updated, err := s.Update(ctx, rec.ID, func(u *upload.Session) error {
				u.BytesUploaded = 600 << 20
				u.Status = types.UploadStatusUploading
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, int64(600<<20), updated.BytesUploaded)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(600<<20), got.BytesUploaded)
			assert.Equal(t, types.UploadStatusUploading, got.Status)
		})
	}
}

func TestStoreUpdateMissingReturnsNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Update(context.Background(), "nope", func(*upload.Session) error { return nil })
			assert.ErrorIs(t, err, upload.ErrNotFound)
		})
	}
}

func TestStoreUpdateCallbackErrorDiscardsChanges(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := sampleSession()
			require.NoError(t, s.Put(ctx, rec))

			_, err := s.Update(ctx, rec.ID, func(u *upload.Session) error {
				u.BytesUploaded = 0
				return assert.AnError
			})
			require.Error(t, err)

			got, err := s.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.BytesUploaded, got.BytesUploaded, "failed update must not persist")
		})
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := sampleSession()
			b := sampleSession()
			require.NoError(t, s.Put(ctx, a))
			require.NoError(t, s.Put(ctx, b))

			list, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			require.NoError(t, s.Delete(ctx, a.ID))
			list, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, b.ID, list[0].ID)

			// Deleting an absent record is a no-op.
			assert.NoError(t, s.Delete(ctx, "nope"))
		})
	}
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			blob := []byte(`{"state":"active"}`)
			require.NoError(t, s.PutSnapshot(ctx, "evt-1", blob))
			require.NoError(t, s.PutSnapshot(ctx, "evt-2", []byte(`{"state":"idle"}`)))

			got, err := s.GetSnapshot(ctx, "evt-1")
			require.NoError(t, err)
			assert.Equal(t, blob, got)

			missing, err := s.GetSnapshot(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			all, err := s.ListSnapshots(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			// Overwrite replaces in place.
			require.NoError(t, s.PutSnapshot(ctx, "evt-1", []byte(`{"state":"completed"}`)))
			got, err = s.GetSnapshot(ctx, "evt-1")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"state":"completed"}`), got)

			require.NoError(t, s.DeleteSnapshot(ctx, "evt-1"))
			got, err = s.GetSnapshot(ctx, "evt-1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()

	t.Run("badger", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "state")
		s, err := OpenBadger(dir)
		require.NoError(t, err)
		rec := sampleSession()
		require.NoError(t, s.Put(ctx, rec))
		require.NoError(t, s.PutSnapshot(ctx, "evt-42", []byte("snap")))
		require.NoError(t, s.Close())

		s, err = OpenBadger(dir)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.BytesUploaded, got.BytesUploaded)

		blob, err := s.GetSnapshot(ctx, "evt-42")
		require.NoError(t, err)
		assert.Equal(t, []byte("snap"), blob)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kanzelcast.db")
		s, err := OpenSQLite(path)
		require.NoError(t, err)
		rec := sampleSession()
		require.NoError(t, s.Put(ctx, rec))
		require.NoError(t, s.PutSnapshot(ctx, "evt-42", []byte("snap")))
		require.NoError(t, s.Close())

		s, err = OpenSQLite(path)
		require.NoError(t, err)
		defer func() { _ = s.Close() }()

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.BytesUploaded, got.BytesUploaded)

		blob, err := s.GetSnapshot(ctx, "evt-42")
		require.NoError(t, err)
		assert.Equal(t, []byte("snap"), blob)
	})
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{"badger", "sqlite", "memory"} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Config{StoreBackend: backend, DataDir: filepath.Join(dir, backend)}
			s, err := Open(cfg)
			require.NoError(t, err)
			require.NoError(t, s.Close())
		})
	}

	_, err := Open(config.Config{StoreBackend: "redis"})
	assert.Error(t, err)
}
