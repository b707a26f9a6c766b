// Package session owns the per-event broadcast lifecycle: the state machine
// driven by backend signals, the activity log behind it, and the finalize
// automation that picks a recording and hands it to the upload queue.
package session

import (
	"time"

	"kanzelcast/internal/activity"
	"kanzelcast/internal/recordings"
	"kanzelcast/internal/types"
)

// Signal is one asynchronous notification from the broadcast backend.
type Signal string

const (
	SignalStreamStarted        Signal = "streamStarted"
	SignalStreamStopped        Signal = "streamStopped"
	SignalRecordStarted        Signal = "recordStarted"
	SignalRecordStopped        Signal = "recordStopped"
	SignalConnectivityLost     Signal = "connectivityLost"
	SignalConnectivityRestored Signal = "connectivityRestored"
)

// EventRecording ties a discovered or manually added file to an event. It
// outlives the transient session: once attached it is only ever marked
// uploaded, never replaced.
type EventRecording struct {
	ID          string          `json:"id"`
	File        recordings.File `json:"file"`
	Uploaded    bool            `json:"uploaded"`
	Whitelisted bool            `json:"whitelisted,omitempty"`
	CustomTitle string          `json:"customTitle,omitempty"`
	VideoURL    string          `json:"videoUrl,omitempty"`
	UploadID    string          `json:"uploadId,omitempty"`
}

// EventSession is the machine's per-event state. Owned exclusively by the
// Machine; callers only ever see Snapshot copies.
type EventSession struct {
	EventID         string
	BroadcastID     string
	State           types.SessionState
	Activities      *activity.Log
	StartedAt       time.Time
	RecordEndedAt   *time.Time
	PauseReason     string
	CompletionError string
	Recordings      []*EventRecording
	Candidates      []recordings.File
	ScanOutcome     recordings.Outcome

	streamRunning bool
	recordRunning bool
	uploadSkipped bool
}

// Snapshot is the durable, read-only projection of an EventSession. It is
// what subscribers and the UI consume and what the store persists after
// every transition.
type Snapshot struct {
	EventID         string              `json:"eventId"`
	BroadcastID     string              `json:"broadcastId,omitempty"`
	State           types.SessionState  `json:"state"`
	Activities      []activity.Activity `json:"activities"`
	StartedAt       time.Time           `json:"startedAt"`
	RecordEndedAt   *time.Time          `json:"recordEndedAt,omitempty"`
	PauseReason     string              `json:"pauseReason,omitempty"`
	CompletionError string              `json:"completionError,omitempty"`
	Recordings      []*EventRecording   `json:"recordings,omitempty"`
	Candidates      []recordings.File   `json:"candidates,omitempty"`
	ScanOutcome     recordings.Outcome  `json:"scanOutcome,omitempty"`
}

func (es *EventSession) snapshot() *Snapshot {
	recs := make([]*EventRecording, len(es.Recordings))
	for i, r := range es.Recordings {
		cp := *r
		recs[i] = &cp
	}
	cands := make([]recordings.File, len(es.Candidates))
	copy(cands, es.Candidates)

	var ended *time.Time
	if es.RecordEndedAt != nil {
		t := *es.RecordEndedAt
		ended = &t
	}

	return &Snapshot{
		EventID:         es.EventID,
		BroadcastID:     es.BroadcastID,
		State:           es.State,
		Activities:      es.Activities.All(),
		StartedAt:       es.StartedAt,
		RecordEndedAt:   ended,
		PauseReason:     es.PauseReason,
		CompletionError: es.CompletionError,
		Recordings:      recs,
		Candidates:      cands,
		ScanOutcome:     es.ScanOutcome,
	}
}

func sessionFromSnapshot(snap *Snapshot) *EventSession {
	return &EventSession{
		EventID:         snap.EventID,
		BroadcastID:     snap.BroadcastID,
		State:           snap.State,
		Activities:      activity.Restore(snap.Activities),
		StartedAt:       snap.StartedAt,
		RecordEndedAt:   snap.RecordEndedAt,
		PauseReason:     snap.PauseReason,
		CompletionError: snap.CompletionError,
		Recordings:      snap.Recordings,
		Candidates:      snap.Candidates,
		ScanOutcome:     snap.ScanOutcome,
	}
}
