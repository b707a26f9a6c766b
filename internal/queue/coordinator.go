// Package queue serializes upload transfers: every resumable session across
// all events funnels through one FIFO drained by a single worker, so at most
// one chunked transfer is in flight per process.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"kanzelcast/internal/log"
	"kanzelcast/internal/metrics"
	"kanzelcast/internal/types"
	"kanzelcast/internal/upload"
)

// Engine runs one transfer to its end state. Satisfied by *upload.Engine.
type Engine interface {
	Run(ctx context.Context, id string) error
}

// Outcome reports what Resume or Cancel actually did. Managed is a no-op,
// not an error: the session automation owns that upload's lifecycle.
type Outcome string

const (
	OutcomeQueued        Outcome = "queued"
	OutcomeAlreadyQueued Outcome = "already_queued"
	OutcomeManaged       Outcome = "managed"
	OutcomeNotEligible   Outcome = "not_eligible"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeCancelled     Outcome = "cancelled"
)

// View is one row of the unified queue snapshot.
type View struct {
	Session *upload.Session `json:"session"`
	Managed bool            `json:"managed"`
	Queued  bool            `json:"queued"`
	Running bool            `json:"running"`
}

// Coordinator owns the FIFO and the single drain worker.
type Coordinator struct {
	store  upload.Store
	engine Engine

	mu        sync.Mutex
	pending   []string
	queued    map[string]struct{}
	runningID string
	cancelRun context.CancelFunc
	managedID string

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	onFinished func(id string)
}

func NewCoordinator(store upload.Store, engine Engine) *Coordinator {
	return &Coordinator{
		store:  store,
		engine: engine,
		queued: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

// SetFinishListener registers fn, invoked from the drain worker after every
// transfer run ends, whatever the outcome. The session automation uses this
// to observe its managed upload. Must be set before Start.
func (c *Coordinator) SetFinishListener(fn func(id string)) {
	c.onFinished = fn
}

// Start launches the drain worker. Must be called once.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.drain(ctx)
}

// Stop interrupts the in-flight transfer and waits for the worker to exit.
// The interrupted session is persisted as paused by the engine.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restore demotes sessions persisted as uploading back to paused. Called
// once at startup: an uploading status can only be a leftover from a crash,
// since no engine was running. Returns the demoted sessions.
func (c *Coordinator) Restore(ctx context.Context) ([]*upload.Session, error) {
	sessions, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	logger := log.WithComponent("queue")
	var demoted []*upload.Session
	for _, s := range sessions {
		if s.Status != types.UploadStatusUploading {
			continue
		}
		updated, err := c.store.Update(ctx, s.ID, func(u *upload.Session) error {
			u.Status = types.UploadStatusPaused
			u.Error = "interrupted by restart"
			u.UpdatedAt = time.Now()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("demote session %s: %w", s.ID, err)
		}
		logger.Info().
			Str(log.FieldUploadID, s.ID).
			Int64(log.FieldBytesUploaded, updated.BytesUploaded).
			Msg("demoted interrupted upload to paused")
		demoted = append(demoted, updated)
	}
	return demoted, nil
}

// LaunchManaged persists a fresh session created by the event automation and
// puts it at the front of the coordinator's attention. While managed, user
// Resume and Cancel calls are reported back as no-ops.
func (c *Coordinator) LaunchManaged(ctx context.Context, s *upload.Session) error {
	if err := c.store.Put(ctx, s); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	c.mu.Lock()
	c.managedID = s.ID
	c.enqueueLocked(s.ID)
	c.mu.Unlock()

	c.kick()
	return nil
}

// ReleaseManaged hands a session-managed upload back to user control. The
// automation calls this when its event session completes.
func (c *Coordinator) ReleaseManaged(id string) {
	c.mu.Lock()
	if c.managedID == id {
		c.managedID = ""
	}
	c.mu.Unlock()
}

// Resume enqueues one eligible session. Sessions parked for reauth are not
// eligible here; they come back through HandleLogin.
func (c *Coordinator) Resume(ctx context.Context, id string) (Outcome, error) {
	return c.resume(ctx, id, false)
}

// ResumeAll enqueues every eligible session in stable order. Sessions
// already resumed individually keep their place; nothing jumps the queue.
func (c *Coordinator) ResumeAll(ctx context.Context) (int, error) {
	sessions, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	queued := 0
	for _, s := range sessions {
		out, err := c.resume(ctx, s.ID, false)
		if err != nil {
			return queued, err
		}
		if out == OutcomeQueued {
			queued++
		}
	}
	return queued, nil
}

// HandleLogin auto-resumes exactly the sessions paused for reauth. Wire it
// to the token guard's OnLogin hook. Other paused or failed sessions still
// need an explicit Resume.
func (c *Coordinator) HandleLogin(ctx context.Context) {
	logger := log.WithComponent("queue")
	sessions, err := c.store.List(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list sessions for login auto-resume")
		return
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	for _, s := range sessions {
		if s.Status != types.UploadStatusPaused || !s.ReauthRequired {
			continue
		}
		if _, err := c.resume(ctx, s.ID, true); err != nil {
			logger.Warn().Err(err).Str(log.FieldUploadID, s.ID).Msg("auto-resume after login")
		}
	}
}

func (c *Coordinator) resume(ctx context.Context, id string, fromLogin bool) (Outcome, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return OutcomeNotFound, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !fromLogin && c.managedID == id {
		return OutcomeManaged, nil
	}
	if _, ok := c.queued[id]; ok || c.runningID == id {
		return OutcomeAlreadyQueued, nil
	}
	if !s.Status.IsResumable() {
		return OutcomeNotEligible, nil
	}
	if s.ReauthRequired && !fromLogin {
		return OutcomeNotEligible, nil
	}

	c.enqueueLocked(id)
	c.kick()
	return OutcomeQueued, nil
}

// Cancel removes a session entirely: dequeued if waiting, interrupted if
// running, and the persisted record is deleted in every case.
func (c *Coordinator) Cancel(ctx context.Context, id string) (Outcome, error) {
	c.mu.Lock()
	if c.managedID == id {
		c.mu.Unlock()
		return OutcomeManaged, nil
	}
	if _, ok := c.queued[id]; ok {
		c.dequeueLocked(id)
	}
	if c.runningID == id && c.cancelRun != nil {
		c.cancelRun()
	}
	c.mu.Unlock()

	s, err := c.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return OutcomeNotFound, nil
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return "", fmt.Errorf("delete session: %w", err)
	}

	logger := log.WithComponent("queue")
	logger.Info().Str(log.FieldUploadID, id).Msg("upload cancelled and removed")
	return OutcomeCancelled, nil
}

// Snapshot merges the managed upload and all event-sourced sessions into
// one read-only view, ordered by start time.
func (c *Coordinator) Snapshot(ctx context.Context) ([]View, error) {
	sessions, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	views := make([]View, 0, len(sessions))
	for _, s := range sessions {
		_, queued := c.queued[s.ID]
		views = append(views, View{
			Session: s,
			Managed: c.managedID == s.ID,
			Queued:  queued,
			Running: c.runningID == s.ID,
		})
	}
	return views, nil
}

func (c *Coordinator) enqueueLocked(id string) {
	if _, ok := c.queued[id]; ok || c.runningID == id {
		return
	}
	c.pending = append(c.pending, id)
	c.queued[id] = struct{}{}
	metrics.SetQueueDepth(len(c.pending))
}

func (c *Coordinator) dequeueLocked(id string) {
	delete(c.queued, id)
	for i, p := range c.pending {
		if p == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	metrics.SetQueueDepth(len(c.pending))
}

func (c *Coordinator) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) drain(ctx context.Context) {
	defer close(c.done)
	logger := log.WithComponent("queue")

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		for {
			id, runCtx, ok := c.takeNext(ctx)
			if !ok {
				break
			}

			err := c.engine.Run(runCtx, id)
			c.finishRun(id)
			if c.onFinished != nil {
				c.onFinished(id)
			}

			switch {
			case err == nil:
				logger.Info().Str(log.FieldUploadID, id).Msg("transfer finished")
			case errors.Is(err, context.Canceled):
				logger.Info().Str(log.FieldUploadID, id).Msg("transfer interrupted")
			default:
				logger.Warn().Err(err).Str(log.FieldUploadID, id).Msg("transfer ended with error")
			}

			if ctx.Err() != nil {
				return
			}
		}
	}
}

// takeNext pops the queue head and marks it running in one critical
// section, so Resume can never observe a session as neither queued
// nor running while it is being handed to the engine.
func (c *Coordinator) takeNext(ctx context.Context) (string, context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return "", nil, false
	}
	id := c.pending[0]
	c.pending = c.pending[1:]
	delete(c.queued, id)
	metrics.SetQueueDepth(len(c.pending))

	runCtx, cancel := context.WithCancel(ctx)
	c.runningID = id
	c.cancelRun = cancel
	return id, runCtx, true
}

func (c *Coordinator) finishRun(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningID == id {
		c.runningID = ""
		if c.cancelRun != nil {
			c.cancelRun()
			c.cancelRun = nil
		}
	}
	if c.managedID == id {
		// A completed managed upload needs no further protection; anything
		// else stays managed until the automation releases it.
		if s, err := c.store.Get(context.Background(), id); err == nil && s != nil && s.Status == types.UploadStatusCompleted {
			c.managedID = ""
		}
	}
}
