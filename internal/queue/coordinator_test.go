package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kanzelcast/internal/store"
	"kanzelcast/internal/types"
	"kanzelcast/internal/upload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine marks each run completed unless told to block or fail.
type fakeEngine struct {
	store upload.Store

	mu      sync.Mutex
	order   []string
	active  int32
	maxSeen int32

	blockCh chan struct{} // when set, runs block until closed or ctx ends
	failIDs map[string]bool
}

func newFakeEngine(s upload.Store) *fakeEngine {
	return &fakeEngine{store: s, failIDs: make(map[string]bool)}
}

func (f *fakeEngine) Run(ctx context.Context, id string) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, n) {
			break
		}
	}

	f.mu.Lock()
	f.order = append(f.order, id)
	blockCh := f.blockCh
	fail := f.failIDs[id]
	f.mu.Unlock()

	if blockCh != nil {
		select {
		case <-blockCh:
		case <-ctx.Done():
			_, _ = f.store.Update(context.WithoutCancel(ctx), id, func(u *upload.Session) error {
				u.Status = types.UploadStatusPaused
				return nil
			})
			return ctx.Err()
		}
	}

	status := types.UploadStatusCompleted
	if fail {
		status = types.UploadStatusFailed
	}
	_, err := f.store.Update(ctx, id, func(u *upload.Session) error {
		u.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

func (f *fakeEngine) ranOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func seed(t *testing.T, s upload.Store, status types.UploadStatus, reauth bool) *upload.Session {
	t.Helper()
	sess := upload.NewSession("evt-1", "churchtools", "Service", "/rec/a.mp4", 100)
	sess.Status = status
	sess.ReauthRequired = reauth
	require.NoError(t, s.Put(context.Background(), sess))
	return sess
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCoordinatorDrainsFIFOOneAtATime(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	a := seed(t, st, types.UploadStatusPaused, false)
	b := seed(t, st, types.UploadStatusFailed, false)
	d := seed(t, st, types.UploadStatusPending, false)

	for _, id := range []string{a.ID, b.ID, d.ID} {
		out, err := c.Resume(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, OutcomeQueued, out)
	}

	waitFor(t, func() bool { return len(eng.ranOrder()) == 3 })

	assert.Equal(t, []string{a.ID, b.ID, d.ID}, eng.ranOrder())
	assert.Equal(t, int32(1), atomic.LoadInt32(&eng.maxSeen), "transfers must never overlap")

	for _, id := range []string{a.ID, b.ID, d.ID} {
		got, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.UploadStatusCompleted, got.Status)
	}
}

func TestCoordinatorResumeEligibility(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	eng.blockCh = make(chan struct{})
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	out, err := c.Resume(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out)

	done := seed(t, st, types.UploadStatusCompleted, false)
	out, err = c.Resume(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, out)

	parked := seed(t, st, types.UploadStatusPaused, true)
	out, err = c.Resume(ctx, parked.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, out, "reauth-parked sessions only resume via login")

	ok := seed(t, st, types.UploadStatusPaused, false)
	out, err = c.Resume(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, out)

	out, err = c.Resume(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyQueued, out)

	close(eng.blockCh)
}

func TestCoordinatorManagedIsNoOpForUser(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	eng.blockCh = make(chan struct{})
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	s := upload.NewSession("evt-9", "churchtools", "Service", "/rec/a.mp4", 100)
	require.NoError(t, c.LaunchManaged(ctx, s))

	waitFor(t, func() bool { return len(eng.ranOrder()) == 1 })

	out, err := c.Resume(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManaged, out)

	out, err = c.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManaged, out)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "managed cancel must not delete the record")

	close(eng.blockCh)
	waitFor(t, func() bool {
		got, _ := st.Get(ctx, s.ID)
		return got != nil && got.Status == types.UploadStatusCompleted
	})

	// Once completed the management hold is dropped and cancel works.
	waitFor(t, func() bool {
		out, err := c.Cancel(ctx, s.ID)
		require.NoError(t, err)
		return out == OutcomeCancelled
	})
}

func TestCoordinatorReleaseManagedRestoresUserControl(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	eng.blockCh = make(chan struct{})
	defer close(eng.blockCh)
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	s := upload.NewSession("evt-9", "churchtools", "Service", "/rec/a.mp4", 100)
	require.NoError(t, c.LaunchManaged(ctx, s))
	waitFor(t, func() bool { return len(eng.ranOrder()) == 1 })

	c.ReleaseManaged(s.ID)

	out, err := c.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCoordinatorHandleLoginResumesOnlyReauthParked(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	parked := seed(t, st, types.UploadStatusPaused, true)
	plainPaused := seed(t, st, types.UploadStatusPaused, false)
	failed := seed(t, st, types.UploadStatusFailed, false)

	c.HandleLogin(ctx)

	waitFor(t, func() bool {
		got, _ := st.Get(ctx, parked.ID)
		return got != nil && got.Status == types.UploadStatusCompleted
	})

	got, err := st.Get(ctx, plainPaused.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusPaused, got.Status, "plain paused sessions need explicit resume")

	got, err = st.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusFailed, got.Status, "failed sessions need explicit resume")

	assert.Equal(t, []string{parked.ID}, eng.ranOrder())
}

func TestCoordinatorResumeAllKeepsExistingOrder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	eng.blockCh = make(chan struct{})
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	first := seed(t, st, types.UploadStatusPaused, false)
	second := seed(t, st, types.UploadStatusFailed, false)
	third := seed(t, st, types.UploadStatusPaused, false)
	second.StartedAt = first.StartedAt.Add(time.Second)
	third.StartedAt = first.StartedAt.Add(2 * time.Second)
	require.NoError(t, st.Put(ctx, second))
	require.NoError(t, st.Put(ctx, third))

	// third was resumed individually before the bulk call.
	out, err := c.Resume(ctx, third.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, out)

	queued, err := c.ResumeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued, "already-queued sessions are not double-counted")

	close(eng.blockCh)
	waitFor(t, func() bool { return len(eng.ranOrder()) == 3 })

	order := eng.ranOrder()
	assert.Equal(t, third.ID, order[0], "individually resumed session must not be overtaken")
	assert.ElementsMatch(t, []string{first.ID, second.ID}, order[1:])
}

func TestCoordinatorCancelPendingRemovesRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	eng.blockCh = make(chan struct{})
	defer close(eng.blockCh)
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	runningFirst := seed(t, st, types.UploadStatusPaused, false)
	waiting := seed(t, st, types.UploadStatusPaused, false)

	_, err := c.Resume(ctx, runningFirst.ID)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(eng.ranOrder()) == 1 })

	_, err = c.Resume(ctx, waiting.ID)
	require.NoError(t, err)

	out, err := c.Cancel(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out)

	got, err := st.Get(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	views, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Running)
}

func TestCoordinatorCancelRunningInterruptsChunk(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	eng.blockCh = make(chan struct{})
	defer close(eng.blockCh)
	c := NewCoordinator(st, eng)
	c.Start()
	defer func() { require.NoError(t, c.Stop(ctx)) }()

	s := seed(t, st, types.UploadStatusPaused, false)
	_, err := c.Resume(ctx, s.ID)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(eng.ranOrder()) == 1 })

	out, err := c.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, out)

	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "cancelled session must leave no persisted record")

	waitFor(t, func() bool {
		views, err := c.Snapshot(ctx)
		require.NoError(t, err)
		for _, v := range views {
			if v.Running {
				return false
			}
		}
		return true
	})
}

func TestCoordinatorRestoreDemotesInterruptedUploads(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	eng := newFakeEngine(st)
	c := NewCoordinator(st, eng)

	crashed := seed(t, st, types.UploadStatusUploading, false)
	untouched := seed(t, st, types.UploadStatusPaused, false)

	demoted, err := c.Restore(ctx)
	require.NoError(t, err)
	require.Len(t, demoted, 1)
	assert.Equal(t, crashed.ID, demoted[0].ID)
	assert.Equal(t, types.UploadStatusPaused, demoted[0].Status)
	assert.Equal(t, "interrupted by restart", demoted[0].Error)

	got, err := st.Get(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusPaused, got.Status)
	assert.Empty(t, got.Error)
}
