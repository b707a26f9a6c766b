// Package platform defines the narrow contract to the external video
// platform: resumable uploads, token refresh and live-broadcast completion.
package platform

import "context"

// Metadata describes the video being created on the platform.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	FileSize    int64  `json:"fileSize"`
}

// ChunkResult reports the outcome of one chunk upload. Either the platform
// acknowledged bytes up to AcceptedOffset, or the transfer is Complete and
// RemoteID/VideoURL identify the finished video.
type ChunkResult struct {
	AcceptedOffset int64
	Complete       bool
	RemoteID       string
	VideoURL       string
}

// Token is the result of a refresh call.
type Token struct {
	AccessToken string
	ExpiresIn   int // seconds
}

// Client is the collaborator contract the upload engine and the session
// machine depend on. Implementations must map failures onto the sentinel
// errors in this package so callers can classify them.
type Client interface {
	// CreateResumableUpload registers the video and returns the session
	// URL against which chunks are uploaded.
	CreateResumableUpload(ctx context.Context, accessToken string, meta Metadata) (uploadURL string, err error)

	// QueryOffset asks the platform how many bytes of the resumable
	// session it has. Returns ErrSessionRejected if the platform no
	// longer accepts the session (the transfer must restart from zero).
	QueryOffset(ctx context.Context, accessToken, uploadURL string, fileSize int64) (int64, error)

	// UploadChunk sends one chunk starting at offset.
	UploadChunk(ctx context.Context, accessToken, uploadURL string, offset int64, chunk []byte, fileSize int64) (ChunkResult, error)

	// RefreshToken exchanges a refresh token for a fresh access token.
	RefreshToken(ctx context.Context, refreshToken string) (Token, error)

	// EndLiveBroadcast transitions the live broadcast to complete.
	EndLiveBroadcast(ctx context.Context, accessToken, broadcastID string) error
}
