// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
)

// ActivityType classifies one entry in a session's activity log.
type ActivityType string

const (
	ActivitySessionPreparing ActivityType = "SESSION_PREPARING"
	ActivitySessionStarted   ActivityType = "SESSION_STARTED"
	ActivityRecordStarted    ActivityType = "RECORD_STARTED"
	ActivityRecordStopped    ActivityType = "RECORD_STOPPED"
	ActivityStreamStopped    ActivityType = "STREAM_STOPPED"
	ActivitySessionResumed   ActivityType = "SESSION_RESUMED"
	ActivitySessionError     ActivityType = "SESSION_ERROR"
	ActivitySessionFinalized ActivityType = "SESSION_FINALIZING"
	ActivitySessionCompleted ActivityType = "SESSION_COMPLETED"

	ActivityScanStarted     ActivityType = "RECORDING_SCAN_STARTED"
	ActivityScanCompleted   ActivityType = "RECORDING_SCAN_COMPLETED"
	ActivityScanFailed      ActivityType = "RECORDING_SCAN_FAILED"
	ActivityManuallyAdded   ActivityType = "RECORDING_MANUALLY_ADDED"
	ActivityUploadCreated   ActivityType = "UPLOAD_CREATED"
	ActivityUploadRestarted ActivityType = "UPLOAD_RESTARTED"
	ActivityUploadPaused    ActivityType = "UPLOAD_PAUSED"
	ActivityUploadFailed    ActivityType = "UPLOAD_FAILED"
	ActivityUploadCompleted ActivityType = "UPLOAD_COMPLETED"
)

// String implements fmt.Stringer.
func (t ActivityType) String() string {
	return string(t)
}

// IsValid checks whether the activity type is one of the defined constants.
func (t ActivityType) IsValid() bool {
	switch t {
	case ActivitySessionPreparing, ActivitySessionStarted, ActivityRecordStarted,
		ActivityRecordStopped, ActivityStreamStopped, ActivitySessionResumed,
		ActivitySessionError, ActivitySessionFinalized, ActivitySessionCompleted,
		ActivityScanStarted, ActivityScanCompleted, ActivityScanFailed,
		ActivityManuallyAdded, ActivityUploadCreated, ActivityUploadRestarted,
		ActivityUploadPaused, ActivityUploadFailed, ActivityUploadCompleted:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler for ActivityType.
func (t ActivityType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// UnmarshalJSON implements json.Unmarshaler for ActivityType.
func (t *ActivityType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	at := ActivityType(str)
	if !at.IsValid() {
		return fmt.Errorf("invalid activity type: %q", str)
	}

	*t = at
	return nil
}
