package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kanzelcast/internal/activity"
	"kanzelcast/internal/config"
	"kanzelcast/internal/log"
	"kanzelcast/internal/metrics"
	"kanzelcast/internal/recordings"
	"kanzelcast/internal/types"
	"kanzelcast/internal/upload"
)

var (
	// ErrUnknownEvent means no session exists for the event id.
	ErrUnknownEvent = errors.New("session: unknown event")

	// ErrInvalidTransition means the requested state change is not in the
	// transition table. State is left unchanged.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrSessionInProgress means a start was requested while a session for
	// the same event is already running.
	ErrSessionInProgress = errors.New("session: already in progress")

	// ErrNotFinalizing means a manual finalize-phase action arrived outside
	// the finalizing state.
	ErrNotFinalizing = errors.New("session: not finalizing")

	// ErrShortRecording means a manually attached file is below the
	// short-video threshold and was not whitelisted.
	ErrShortRecording = errors.New("session: recording below short-video threshold")
)

// SnapshotStore persists event snapshots. Satisfied by the store package.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, eventID string, blob []byte) error
	GetSnapshot(ctx context.Context, eventID string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, eventID string) error
	ListSnapshots(ctx context.Context) (map[string][]byte, error)
}

// Uploader is the slice of the queue coordinator the machine drives.
type Uploader interface {
	LaunchManaged(ctx context.Context, s *upload.Session) error
	ReleaseManaged(id string)
}

// UploadReader reads back upload records the machine launched.
type UploadReader interface {
	Get(ctx context.Context, id string) (*upload.Session, error)
}

// TokenSource provides a valid access token for platform calls.
type TokenSource interface {
	EnsureValidAccessToken(ctx context.Context) (string, error)
}

// Broadcaster ends the live broadcast on the platform during completion.
type Broadcaster interface {
	EndLiveBroadcast(ctx context.Context, accessToken, broadcastID string) error
}

// Event is pushed to subscribers synchronously after each state change or
// activity append. NewState equals OldState for non-transition activities.
type Event struct {
	EventID  string
	OldState types.SessionState
	NewState types.SessionState
	Activity activity.Activity
}

// Deps bundles the machine's collaborators.
type Deps struct {
	Selector    *recordings.Selector
	Uploader    Uploader
	Uploads     UploadReader
	Snapshots   SnapshotStore
	Broadcaster Broadcaster
	Tokens      TokenSource

	// Platform names the upload target, e.g. "youtube". Defaults to
	// "youtube" when empty.
	Platform string
}

type eventState struct {
	mu sync.Mutex
	es *EventSession
}

// Machine serializes all lifecycle transitions per event and runs the
// finalize automation.
type Machine struct {
	cfg      config.Config
	selector *recordings.Selector
	uploader Uploader
	uploads  UploadReader
	snaps    SnapshotStore
	caster   Broadcaster
	tokens   TokenSource
	platform string

	mu     sync.Mutex
	events map[string]*eventState
	subs   []func(Event)

	wg sync.WaitGroup
}

func NewMachine(cfg config.Config, deps Deps) *Machine {
	platform := deps.Platform
	if platform == "" {
		platform = "youtube"
	}
	return &Machine{
		cfg:      cfg,
		selector: deps.Selector,
		uploader: deps.Uploader,
		uploads:  deps.Uploads,
		snaps:    deps.Snapshots,
		caster:   deps.Broadcaster,
		tokens:   deps.Tokens,
		platform: platform,
		events:   make(map[string]*eventState),
	}
}

// Subscribe registers fn for every transition and activity append. Called
// synchronously while the event is locked; fn must not call back into the
// machine.
func (m *Machine) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Close waits for in-flight automation goroutines to finish.
func (m *Machine) Close() {
	m.wg.Wait()
}

// RequestStart accepts a stream/record start request for the event and
// moves it into preparing. A completed session is replaced by a fresh one.
func (m *Machine) RequestStart(ctx context.Context, eventID, broadcastID string) error {
	st := m.getOrCreate(eventID)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.es.State {
	case types.SessionStateIdle:
	case types.SessionStateCompleted:
		st.es = newEventSession(eventID)
	default:
		return fmt.Errorf("%w: event %s is %s", ErrSessionInProgress, eventID, st.es.State)
	}

	st.es.BroadcastID = broadcastID
	return m.applyLocked(ctx, st.es, types.SessionStatePreparing, types.ActivitySessionPreparing, "start requested")
}

// HandleSignal consumes one broadcast backend notification. A start signal
// for an unknown event implicitly opens a session.
func (m *Machine) HandleSignal(ctx context.Context, eventID string, sig Signal) error {
	st, ok := m.lookup(eventID)
	if !ok {
		if sig != SignalStreamStarted && sig != SignalRecordStarted {
			return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
		}
		if err := m.RequestStart(ctx, eventID, ""); err != nil {
			return err
		}
		st, _ = m.lookup(eventID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	es := st.es

	switch sig {
	case SignalStreamStarted:
		es.streamRunning = true
		if es.State == types.SessionStatePreparing {
			return m.applyLocked(ctx, es, types.SessionStateActive, types.ActivitySessionStarted, "stream output running")
		}
		if es.State == types.SessionStateActive {
			m.appendLocked(ctx, es, types.ActivitySessionStarted, "stream output running")
		}
		return nil

	case SignalRecordStarted:
		es.recordRunning = true
		if es.State == types.SessionStatePreparing {
			return m.applyLocked(ctx, es, types.SessionStateActive, types.ActivityRecordStarted, "record output running")
		}
		if es.State == types.SessionStateActive {
			m.appendLocked(ctx, es, types.ActivityRecordStarted, "record output running")
		}
		return nil

	case SignalConnectivityLost:
		reason := "connection to broadcast backend lost"
		prev := es.PauseReason
		es.PauseReason = reason
		if err := m.applyLocked(ctx, es, types.SessionStatePaused, types.ActivitySessionError, reason); err != nil {
			es.PauseReason = prev
			return err
		}
		return nil

	case SignalConnectivityRestored:
		prev := es.PauseReason
		es.PauseReason = ""
		if err := m.applyLocked(ctx, es, types.SessionStateActive, types.ActivitySessionResumed, "connectivity restored"); err != nil {
			es.PauseReason = prev
			return err
		}
		// Outputs may have stopped while paused.
		return m.maybeFinalizeLocked(ctx, st)

	case SignalRecordStopped:
		es.recordRunning = false
		now := time.Now()
		es.RecordEndedAt = &now
		m.appendLocked(ctx, es, types.ActivityRecordStopped, "record output stopped")
		return m.maybeFinalizeLocked(ctx, st)

	case SignalStreamStopped:
		es.streamRunning = false
		m.appendLocked(ctx, es, types.ActivityStreamStopped, "stream output stopped")
		return m.maybeFinalizeLocked(ctx, st)

	default:
		return fmt.Errorf("session: unknown signal %q", sig)
	}
}

// AttachRecording manually adds a file during finalizing. Short files are
// rejected unless explicitly whitelisted by the operator.
func (m *Machine) AttachRecording(ctx context.Context, eventID string, file recordings.File, customTitle string, whitelist bool) error {
	st, ok := m.lookup(eventID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.es.State != types.SessionStateFinalizing {
		return fmt.Errorf("%w: event %s is %s", ErrNotFinalizing, eventID, st.es.State)
	}
	if file.Duration < m.cfg.Recording.ShortVideoThreshold() && !whitelist {
		return fmt.Errorf("%w: %s (%s)", ErrShortRecording, file.Name, file.Duration)
	}
	return m.launchUploadLocked(ctx, st.es, file, customTitle, whitelist, true)
}

// SkipUpload completes the session without uploading anything.
func (m *Machine) SkipUpload(ctx context.Context, eventID string) error {
	st, ok := m.lookup(eventID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.es.State != types.SessionStateFinalizing {
		return fmt.Errorf("%w: event %s is %s", ErrNotFinalizing, eventID, st.es.State)
	}
	st.es.uploadSkipped = true
	return m.completeLocked(ctx, st, "upload skipped by operator")
}

// FinalizeNow completes the session directly from any non-terminal state,
// bypassing the scan automation. Used when the operator already attached
// what they need or wants out.
func (m *Machine) FinalizeNow(ctx context.Context, eventID string) error {
	st, ok := m.lookup(eventID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.completeLocked(ctx, st, "finalized manually")
}

// Reset discards a completed session so the event can start fresh.
func (m *Machine) Reset(ctx context.Context, eventID string) error {
	st, ok := m.lookup(eventID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.es.State.IsTerminal() {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, st.es.State, types.SessionStateIdle)
	}

	m.mu.Lock()
	delete(m.events, eventID)
	m.mu.Unlock()

	if err := m.snaps.DeleteSnapshot(ctx, eventID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// HandleUploadFinished reacts to the queue's finish notification for the
// machine's managed upload. Wire it to Coordinator.SetFinishListener.
func (m *Machine) HandleUploadFinished(id string) {
	ctx := context.Background()
	us, err := m.uploads.Get(ctx, id)
	if err != nil || us == nil {
		return
	}

	m.mu.Lock()
	states := make([]*eventState, 0, len(m.events))
	for _, st := range m.events {
		states = append(states, st)
	}
	m.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		es := st.es
		var rec *EventRecording
		for _, r := range es.Recordings {
			if r.UploadID == id {
				rec = r
				break
			}
		}
		if rec == nil {
			st.mu.Unlock()
			continue
		}

		switch us.Status {
		case types.UploadStatusCompleted:
			rec.Uploaded = true
			rec.VideoURL = us.VideoURL
			m.uploader.ReleaseManaged(id)
			if es.State == types.SessionStateFinalizing && allUploaded(es) {
				if err := m.completeLocked(ctx, st, "upload finished"); err != nil {
					m.persistLocked(ctx, es)
				}
			} else {
				m.persistLocked(ctx, es)
			}
		case types.UploadStatusFailed:
			// Hand the session back to user control so a plain Resume works.
			m.uploader.ReleaseManaged(id)
			m.appendLocked(ctx, es, types.ActivitySessionError, "upload failed: "+us.Error)
		case types.UploadStatusPaused:
			if us.ReauthRequired {
				m.appendLocked(ctx, es, types.ActivitySessionError, "upload paused, sign-in required")
			}
		}
		st.mu.Unlock()
		return
	}
}

// RecordUploadActivity appends an engine-emitted transfer activity to the
// session owning the upload. Wire it to Engine.SetActivitySink. Activities
// for uploads no session owns (user-resumed leftovers) are dropped.
func (m *Machine) RecordUploadActivity(uploadID string, at types.ActivityType, msg string) {
	ctx := context.Background()

	m.mu.Lock()
	states := make([]*eventState, 0, len(m.events))
	for _, st := range m.events {
		states = append(states, st)
	}
	m.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		for _, r := range st.es.Recordings {
			if r.UploadID == uploadID {
				m.appendLocked(ctx, st.es, at, msg)
				st.mu.Unlock()
				return
			}
		}
		st.mu.Unlock()
	}
}

// Restore rebuilds sessions from persisted snapshots at startup. Sessions
// that were preparing or active when the process died come back paused:
// the backend connection they depended on is gone.
func (m *Machine) Restore(ctx context.Context) error {
	blobs, err := m.snaps.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}

	logger := log.WithComponent("session")
	for eventID, blob := range blobs {
		var snap Snapshot
		if err := json.Unmarshal(blob, &snap); err != nil {
			logger.Warn().Err(err).Str(log.FieldEventID, eventID).Msg("skipping unreadable snapshot")
			continue
		}
		es := sessionFromSnapshot(&snap)

		switch es.State {
		case types.SessionStatePreparing, types.SessionStateActive:
			es.State = types.SessionStatePaused
			es.PauseReason = "process restarted"
			es.Activities.Append(types.ActivitySessionError, "session paused: process restarted")
		}

		st := &eventState{es: es}
		m.mu.Lock()
		m.events[eventID] = st
		m.mu.Unlock()

		st.mu.Lock()
		m.persistLocked(ctx, es)
		st.mu.Unlock()

		logger.Info().
			Str(log.FieldEventID, eventID).
			Str(log.FieldStatus, string(es.State)).
			Msg("session restored from snapshot")
	}
	return nil
}

// Snapshot returns a read-only copy of the event's session.
func (m *Machine) Snapshot(eventID string) (*Snapshot, bool) {
	st, ok := m.lookup(eventID)
	if !ok {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.es.snapshot(), true
}

// List returns snapshots of every known session, ordered by event id.
func (m *Machine) List() []*Snapshot {
	m.mu.Lock()
	states := make([]*eventState, 0, len(m.events))
	for _, st := range m.events {
		states = append(states, st)
	}
	m.mu.Unlock()

	out := make([]*Snapshot, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.es.snapshot())
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

// State reports the event's current state.
func (m *Machine) State(eventID string) (types.SessionState, bool) {
	st, ok := m.lookup(eventID)
	if !ok {
		return "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.es.State, true
}

func newEventSession(eventID string) *EventSession {
	return &EventSession{
		EventID:    eventID,
		State:      types.SessionStateIdle,
		Activities: activity.NewLog(),
		StartedAt:  time.Now(),
	}
}

func (m *Machine) lookup(eventID string) (*eventState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.events[eventID]
	return st, ok
}

func (m *Machine) getOrCreate(eventID string) *eventState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.events[eventID]; ok {
		return st
	}
	st := &eventState{es: newEventSession(eventID)}
	m.events[eventID] = st
	return st
}

// applyLocked performs one validated transition: state change, exactly one
// activity, persistence and subscriber notification, in that order.
func (m *Machine) applyLocked(ctx context.Context, es *EventSession, to types.SessionState, at types.ActivityType, msg string) error {
	from := es.State
	if !from.CanTransitionTo(to) {
		metrics.RecordSessionTransitionRejected()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	es.State = to
	act := es.Activities.Append(at, msg)
	metrics.RecordSessionTransition(string(from), string(to))
	m.persistLocked(ctx, es)
	m.notify(Event{EventID: es.EventID, OldState: from, NewState: to, Activity: act})

	logger := log.WithComponent("session")
	logger.Info().
		Str(log.FieldEventID, es.EventID).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str(log.FieldActivity, string(at)).
		Msg("session transition")
	return nil
}

// appendLocked records an activity that does not change state.
func (m *Machine) appendLocked(ctx context.Context, es *EventSession, at types.ActivityType, msg string) {
	act := es.Activities.Append(at, msg)
	m.persistLocked(ctx, es)
	m.notify(Event{EventID: es.EventID, OldState: es.State, NewState: es.State, Activity: act})
}

func (m *Machine) persistLocked(ctx context.Context, es *EventSession) {
	logger := log.WithComponent("session")
	blob, err := json.Marshal(es.snapshot())
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEventID, es.EventID).Msg("marshal snapshot")
		return
	}
	if err := m.snaps.PutSnapshot(ctx, es.EventID, blob); err != nil {
		logger.Error().Err(err).Str(log.FieldEventID, es.EventID).Msg("persist snapshot")
	}
}

func (m *Machine) notify(ev Event) {
	m.mu.Lock()
	subs := make([]func(Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (m *Machine) maybeFinalizeLocked(ctx context.Context, st *eventState) error {
	es := st.es
	if es.State != types.SessionStateActive || es.streamRunning || es.recordRunning {
		return nil
	}
	if err := m.applyLocked(ctx, es, types.SessionStateFinalizing, types.ActivitySessionFinalized, "all outputs stopped"); err != nil {
		return err
	}
	m.wg.Add(1)
	go m.finalize(context.WithoutCancel(ctx), st, es)
	return nil
}

// finalize runs the scan automation: pick a recording per the decision
// table and launch the upload on a deterministic single candidate, or park
// the candidates for a manual pick.
func (m *Machine) finalize(ctx context.Context, st *eventState, es *EventSession) {
	defer m.wg.Done()

	st.mu.Lock()
	dir := m.cfg.Recording.Directory
	start := es.StartedAt
	end := time.Now()
	if es.RecordEndedAt != nil {
		end = *es.RecordEndedAt
	}
	m.appendLocked(ctx, es, types.ActivityScanStarted, "scanning "+dir)
	st.mu.Unlock()

	opts := recordings.Options{
		ScanMargin:          m.cfg.Recording.ScanMargin(),
		ShortVideoThreshold: m.cfg.Recording.ShortVideoThreshold(),
		MinUploadDuration:   m.cfg.Recording.MinUploadDuration(),
	}
	res, err := m.selector.Select(ctx, dir, start, end, opts)

	if err == nil && res.Outcome == recordings.OutcomeSingleLong && res.Selected != nil {
		m.waitStable(ctx, res.Selected.Path)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.es != es || es.State != types.SessionStateFinalizing {
		// Reset or manually finalized while scanning.
		return
	}

	if err != nil {
		metrics.RecordScanOutcome("scan_failed")
		m.appendLocked(ctx, es, types.ActivityScanFailed, err.Error())
		return
	}

	metrics.RecordScanOutcome(string(res.Outcome))
	es.Candidates = res.Candidates
	es.ScanOutcome = res.Outcome
	m.appendLocked(ctx, es, types.ActivityScanCompleted,
		fmt.Sprintf("outcome %s, %d candidate(s)", res.Outcome, len(res.Candidates)))

	if res.Outcome == recordings.OutcomeSingleLong && res.Selected != nil {
		if err := m.launchUploadLocked(ctx, es, *res.Selected, "", false, false); err != nil {
			m.appendLocked(ctx, es, types.ActivitySessionError, "upload launch failed: "+err.Error())
		}
	}
}

// waitStable blocks until the file's size and mtime stop changing or the
// configured timeout passes. Recording backends flush asynchronously after
// reporting the stop.
func (m *Machine) waitStable(ctx context.Context, path string) {
	timeout := m.cfg.Recording.StableWaitTimeout()
	if timeout <= 0 {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		stable, err := recordings.IsStableCtx(ctx, path, 2*time.Second)
		if err != nil || stable {
			return
		}
	}
}

func (m *Machine) launchUploadLocked(ctx context.Context, es *EventSession, file recordings.File, customTitle string, whitelisted, manual bool) error {
	title := customTitle
	if title == "" {
		title = strings.TrimSuffix(file.Name, filepath.Ext(file.Name))
	}

	us := upload.NewSession(es.EventID, m.platform, title, file.Path, file.Size)
	rec := &EventRecording{
		ID:          uuid.NewString(),
		File:        file,
		Whitelisted: whitelisted,
		CustomTitle: customTitle,
		UploadID:    us.ID,
	}

	if err := m.uploader.LaunchManaged(ctx, us); err != nil {
		return fmt.Errorf("launch upload: %w", err)
	}
	es.Recordings = append(es.Recordings, rec)

	if manual {
		m.appendLocked(ctx, es, types.ActivityManuallyAdded, file.Name)
	}
	m.appendLocked(ctx, es, types.ActivityUploadCreated, fmt.Sprintf("%s (%d bytes)", title, file.Size))
	return nil
}

// completeLocked moves the session to completed and fires the non-blocking
// live-broadcast completion call. A failing remote call never blocks local
// completion; it lands in CompletionError.
func (m *Machine) completeLocked(ctx context.Context, st *eventState, reason string) error {
	es := st.es
	if err := m.applyLocked(ctx, es, types.SessionStateCompleted, types.ActivitySessionCompleted, reason); err != nil {
		return err
	}
	if es.BroadcastID != "" && m.caster != nil {
		m.wg.Add(1)
		go m.endBroadcast(context.WithoutCancel(ctx), st, es, es.BroadcastID)
	}
	return nil
}

func (m *Machine) endBroadcast(ctx context.Context, st *eventState, es *EventSession, broadcastID string) {
	defer m.wg.Done()

	var callErr error
	token, err := m.tokens.EnsureValidAccessToken(ctx)
	if err != nil {
		callErr = err
	} else {
		callErr = m.caster.EndLiveBroadcast(ctx, token, broadcastID)
	}
	if callErr == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.es != es {
		return
	}
	es.CompletionError = callErr.Error()
	m.appendLocked(ctx, es, types.ActivitySessionError, "ending live broadcast failed: "+callErr.Error())
}

func allUploaded(es *EventSession) bool {
	if len(es.Recordings) == 0 {
		return false
	}
	for _, r := range es.Recordings {
		if !r.Uploaded {
			return false
		}
	}
	return true
}
