// Package upload implements the persisted resumable upload session and the
// engine that drives one transfer chunk by chunk.
package upload

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kanzelcast/internal/types"
)

// Session is the durable record of one resumable transfer. It is mutated
// only by the engine and the queue coordinator, and persisted after every
// state change so it survives process restarts.
type Session struct {
	ID       string `json:"id"`
	EventID  string `json:"eventId"`
	Platform string `json:"platform"`

	Status types.UploadStatus `json:"status"`

	Title    string `json:"title"`
	FilePath string `json:"filePath"`
	FileSize int64  `json:"fileSize"`

	// UploadURL is the platform's resumable session URL, empty until the
	// first engine run registers the upload.
	UploadURL string `json:"uploadUrl,omitempty"`

	// BytesUploaded is monotonically non-decreasing while Status is
	// uploading. It is reset to zero only when the platform rejects the
	// resumable session, which is always logged as a distinct activity.
	BytesUploaded int64 `json:"bytesUploaded"`

	RemoteID string `json:"remoteId,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Error          string `json:"error,omitempty"`
	ReauthRequired bool   `json:"reauthRequired"`
	RetryCount     int    `json:"retryCount"`
}

// NewSession creates a pending session for one recording file.
func NewSession(eventID, platformName, title, filePath string, fileSize int64) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Platform:  platformName,
		Status:    types.UploadStatusPending,
		Title:     title,
		FilePath:  filePath,
		FileSize:  fileSize,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Store is the durable store contract for upload sessions. Update must be
// atomic per session ID: no lost updates between the engine persisting
// progress and the coordinator reading status.
type Store interface {
	Put(ctx context.Context, s *Session) error

	// Get returns nil, nil when the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Update applies fn to the stored record atomically and returns the
	// updated copy.
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)

	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}

// TokenSource yields a valid access token, refreshing if needed. A failure
// wrapping platform.ErrUnauthenticated means the user must log in again.
type TokenSource interface {
	EnsureValidAccessToken(ctx context.Context) (string, error)
}

// ActivityFunc receives the domain activities the engine emits (upload
// restarted, failed, paused, completed) keyed by upload session id, so the
// owning event's log stays the single reconstructable failure history.
type ActivityFunc func(uploadID string, t types.ActivityType, message string)
