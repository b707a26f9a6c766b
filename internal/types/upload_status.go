// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
)

// UploadStatus represents the current state of a resumable upload session.
type UploadStatus string

// Upload status constants define all possible states of an upload session.
const (
	// UploadStatusPending indicates the upload is queued but not yet started.
	UploadStatusPending UploadStatus = "pending"

	// UploadStatusUploading indicates chunks are actively being transferred.
	UploadStatusUploading UploadStatus = "uploading"

	// UploadStatusPaused indicates the upload was suspended, either by a
	// credential failure (reauth required) or a process restart.
	UploadStatusPaused UploadStatus = "paused"

	// UploadStatusFailed indicates the upload hit a transient error and
	// exhausted its automatic retries. Eligible for manual resume.
	UploadStatusFailed UploadStatus = "failed"

	// UploadStatusCompleted indicates the platform accepted the full file.
	UploadStatusCompleted UploadStatus = "completed"
)

// String implements fmt.Stringer.
func (s UploadStatus) String() string {
	return string(s)
}

// IsValid checks whether the upload status is one of the defined constants.
func (s UploadStatus) IsValid() bool {
	switch s {
	case UploadStatusPending, UploadStatusUploading, UploadStatusPaused,
		UploadStatusFailed, UploadStatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the upload status is final.
//
// Completed is the only terminal status; cancellation deletes the
// persisted record instead of moving it to a status.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusCompleted
}

// IsResumable checks whether a session in this status may be enqueued
// for another engine run.
func (s UploadStatus) IsResumable() bool {
	switch s {
	case UploadStatusPending, UploadStatusPaused, UploadStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status can transition to target.
//
// Valid transitions:
//   - Pending → Uploading
//   - Uploading → Paused, Failed, Completed
//   - Paused → Pending, Uploading
//   - Failed → Pending, Uploading
//   - Completed cannot transition
func (s UploadStatus) CanTransitionTo(target UploadStatus) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case UploadStatusPending:
		return target == UploadStatusUploading
	case UploadStatusUploading:
		return target == UploadStatusPaused || target == UploadStatusFailed || target == UploadStatusCompleted
	case UploadStatusPaused, UploadStatusFailed:
		return target == UploadStatusPending || target == UploadStatusUploading
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler for UploadStatus.
func (s UploadStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for UploadStatus.
func (s *UploadStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	status := UploadStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid upload status: %q", str)
	}

	*s = status
	return nil
}

// ParseUploadStatus parses a string into an UploadStatus.
func ParseUploadStatus(s string) (UploadStatus, error) {
	status := UploadStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid upload status: %q (valid: pending, uploading, paused, failed, completed)", s)
	}
	return status, nil
}

// AllUploadStatuses returns all defined upload statuses.
func AllUploadStatuses() []UploadStatus {
	return []UploadStatus{
		UploadStatusPending,
		UploadStatusUploading,
		UploadStatusPaused,
		UploadStatusFailed,
		UploadStatusCompleted,
	}
}
