package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"kanzelcast/internal/config"
	"kanzelcast/internal/log"
	"kanzelcast/internal/metrics"
	"kanzelcast/internal/platform"
	"kanzelcast/internal/types"
)

var (
	// ErrNotFound means the session id has no persisted record.
	ErrNotFound = errors.New("upload: session not found")

	// ErrNotResumable means the session's current status does not allow
	// another engine run.
	ErrNotResumable = errors.New("upload: session not resumable")
)

// Engine drives one resumable transfer at a time. It persists the session
// after every state change: a crash between chunks loses at most one chunk
// of progress.
type Engine struct {
	store   Store
	client  platform.Client
	tokens  TokenSource
	cfg     config.UploadConfig
	limiter *rate.Limiter

	// onActivity receives domain activities for the owning session's log.
	// May be nil.
	onActivity ActivityFunc
}

// NewEngine wires an engine. A zero RateLimitMBps disables throttling.
func NewEngine(store Store, client platform.Client, tokens TokenSource, cfg config.UploadConfig) *Engine {
	var limiter *rate.Limiter
	if cfg.RateLimitMBps > 0 {
		bps := float64(cfg.RateLimitMBps) * 1024 * 1024
		// Burst must cover one full chunk or WaitN can never succeed.
		limiter = rate.NewLimiter(rate.Limit(bps), int(cfg.ChunkSize()))
	}
	return &Engine{store: store, client: client, tokens: tokens, cfg: cfg, limiter: limiter}
}

// SetActivitySink registers the activity callback. Not safe to call while
// a run is in flight.
func (e *Engine) SetActivitySink(fn ActivityFunc) {
	e.onActivity = fn
}

func (e *Engine) activity(id string, t types.ActivityType, msg string) {
	if e.onActivity != nil {
		e.onActivity(id, t, msg)
	}
}

// Run executes one transfer until it completes, pauses for reauth, fails
// after exhausting retries, or the context is cancelled. The caller (queue
// coordinator) guarantees no two runs for the same session id overlap.
func (e *Engine) Run(ctx context.Context, id string) error {
	ctx = log.ContextWithUploadID(ctx, id)
	logger := log.WithComponentFromContext(ctx, "upload-engine")

	s, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return ErrNotFound
	}
	if !s.Status.IsResumable() {
		return fmt.Errorf("%w: status %s", ErrNotResumable, s.Status)
	}

	s, err = e.store.Update(ctx, id, func(s *Session) error {
		s.Status = types.UploadStatusUploading
		s.Error = ""
		s.ReauthRequired = false
		s.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark uploading: %w", err)
	}

	logger.Info().
		Int64(log.FieldBytesUploaded, s.BytesUploaded).
		Int64(log.FieldFileSize, s.FileSize).
		Str(log.FieldPath, s.FilePath).
		Msg("upload run starting")

	err = e.runTransfer(ctx, logger, s)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Cancelled runs are demoted to paused so progress survives a
		// shutdown; an explicit user cancel deletes the record right
		// after, which makes this a harmless no-op.
		if _, uerr := e.store.Update(context.WithoutCancel(ctx), id, func(s *Session) error {
			s.Status = types.UploadStatusPaused
			s.Error = "interrupted"
			s.UpdatedAt = time.Now()
			return nil
		}); uerr != nil && !errors.Is(uerr, ErrNotFound) {
			logger.Warn().Err(uerr).Msg("persist interrupted state")
		}
		return err
	case platform.IsAuth(err):
		return e.pauseForReauth(ctx, logger, id, err)
	default:
		return e.failTransient(ctx, logger, id, err)
	}
}

// runTransfer performs offset establishment and the chunk loop. It returns
// a classified platform error or ctx.Err(); Run translates that into
// persisted state.
func (e *Engine) runTransfer(ctx context.Context, logger zerolog.Logger, s *Session) error {
	f, err := os.Open(s.FilePath)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}
	if info.Size() != s.FileSize {
		// The snapshot taken at selection time can lag the final flush.
		s, err = e.store.Update(ctx, s.ID, func(u *Session) error {
			u.FileSize = info.Size()
			u.UpdatedAt = time.Now()
			return nil
		})
		if err != nil {
			return err
		}
	}

	restarted := false

establish:
	offset, err := e.establishOffset(ctx, logger, s)
	if err != nil {
		if platform.IsSessionRejected(err) && !restarted {
			restarted = true
			s, err = e.restartFromZero(ctx, logger, s)
			if err != nil {
				return err
			}
			goto establish
		}
		return err
	}

	if offset != s.BytesUploaded {
		logger.Warn().
			Int64("stored_offset", s.BytesUploaded).
			Int64("platform_offset", offset).
			Msg("resuming from platform-reported offset")
		s, err = e.store.Update(ctx, s.ID, func(u *Session) error {
			u.BytesUploaded = offset
			u.UpdatedAt = time.Now()
			return nil
		})
		if err != nil {
			return err
		}
	}

	chunkSize := e.cfg.ChunkSize()
	buf := make([]byte, chunkSize)

	for offset < s.FileSize {
		n := chunkSize
		if remaining := s.FileSize - offset; remaining < n {
			n = remaining
		}
		if _, err := f.ReadAt(buf[:n], offset); err != nil {
			return fmt.Errorf("read chunk at %d: %w", offset, err)
		}

		if e.limiter != nil {
			if err := e.limiter.WaitN(ctx, int(n)); err != nil {
				return err
			}
		}

		var res platform.ChunkResult
		err := e.withRetry(ctx, logger, s.ID, "upload chunk", func(token string) error {
			chunkCtx, cancel := context.WithTimeout(ctx, e.cfg.ChunkTimeout())
			defer cancel()
			var cerr error
			res, cerr = e.client.UploadChunk(chunkCtx, token, s.UploadURL, offset, buf[:n], s.FileSize)
			return cerr
		})
		if err != nil {
			if platform.IsSessionRejected(err) && !restarted {
				restarted = true
				s, err = e.restartFromZero(ctx, logger, s)
				if err != nil {
					return err
				}
				goto establish
			}
			return err
		}

		if res.Complete {
			return e.complete(ctx, logger, s.ID, res)
		}

		if res.AcceptedOffset <= offset {
			return &platform.Error{
				Sentinel:  platform.ErrBadResponse,
				Operation: "upload chunk",
				Body:      fmt.Sprintf("platform acknowledged %d, expected > %d", res.AcceptedOffset, offset),
			}
		}

		metrics.AddUploadedBytes(res.AcceptedOffset - offset)
		offset = res.AcceptedOffset

		// Persist after every acknowledged chunk. BytesUploaded never
		// decreases while uploading.
		s, err = e.store.Update(ctx, s.ID, func(u *Session) error {
			if offset > u.BytesUploaded {
				u.BytesUploaded = offset
			}
			u.UpdatedAt = time.Now()
			return nil
		})
		if err != nil {
			return err
		}

		logger.Debug().
			Int64(log.FieldBytesUploaded, offset).
			Int64(log.FieldFileSize, s.FileSize).
			Msg("chunk acknowledged")
	}

	// The final chunk should have reported completion; reaching here means
	// the platform never confirmed the video.
	return &platform.Error{Sentinel: platform.ErrBadResponse, Operation: "upload chunk", Body: "all bytes sent without completion"}
}

// establishOffset returns the byte offset the next chunk starts at. For a
// fresh session it registers the upload; for a resumed one it revalidates
// the stored offset with the platform first.
func (e *Engine) establishOffset(ctx context.Context, logger zerolog.Logger, s *Session) (int64, error) {
	if s.UploadURL == "" {
		var uploadURL string
		err := e.withRetry(ctx, logger, s.ID, "create upload", func(token string) error {
			var cerr error
			uploadURL, cerr = e.client.CreateResumableUpload(ctx, token, platform.Metadata{
				Title:    s.Title,
				FileSize: s.FileSize,
				MimeType: "video/mp4",
			})
			return cerr
		})
		if err != nil {
			return 0, err
		}
		if _, err := e.store.Update(ctx, s.ID, func(u *Session) error {
			u.UploadURL = uploadURL
			u.UpdatedAt = time.Now()
			return nil
		}); err != nil {
			return 0, err
		}
		s.UploadURL = uploadURL
		return 0, nil
	}

	var offset int64
	err := e.withRetry(ctx, logger, s.ID, "query offset", func(token string) error {
		var cerr error
		offset, cerr = e.client.QueryOffset(ctx, token, s.UploadURL, s.FileSize)
		return cerr
	})
	if err != nil {
		return 0, err
	}
	return offset, nil
}

// restartFromZero resets the transfer after the platform rejected the
// resumable session. The reset is always logged as a distinct activity:
// BytesUploaded is never clobbered silently.
func (e *Engine) restartFromZero(ctx context.Context, logger zerolog.Logger, s *Session) (*Session, error) {
	logger.Warn().
		Int64(log.FieldBytesUploaded, s.BytesUploaded).
		Msg("platform rejected resume session, restarting from zero")

	e.activity(s.ID, types.ActivityUploadRestarted,
		fmt.Sprintf("platform rejected resume at %d bytes, restarting from 0", s.BytesUploaded))
	metrics.RecordUploadRestart()
	metrics.RecordUploadFailure("rejected")

	return e.store.Update(ctx, s.ID, func(u *Session) error {
		u.UploadURL = ""
		u.BytesUploaded = 0
		u.RemoteID = ""
		u.UpdatedAt = time.Now()
		return nil
	})
}

// withRetry runs op with a fresh access token, retrying transient failures
// with exponential backoff up to the configured attempt cap. Auth failures
// and session rejections pass through unchanged and never consume retries.
func (e *Engine) withRetry(ctx context.Context, logger zerolog.Logger, id, opName string, op func(token string) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt*500) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if _, err := e.store.Update(ctx, id, func(u *Session) error {
				u.RetryCount++
				u.UpdatedAt = time.Now()
				return nil
			}); err != nil {
				return err
			}
			logger.Info().Int(log.FieldRetryCount, attempt).Str("op", opName).Msg("retrying after transient failure")
		}

		token, err := e.tokens.EnsureValidAccessToken(ctx)
		if err != nil {
			if platform.IsTransient(err) {
				lastErr = err
				continue
			}
			return err
		}

		err = op(token)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !platform.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s failed after %d retries: %w", opName, e.cfg.RetryAttempts, lastErr)
}

func (e *Engine) complete(ctx context.Context, logger zerolog.Logger, id string, res platform.ChunkResult) error {
	s, err := e.store.Update(ctx, id, func(u *Session) error {
		u.Status = types.UploadStatusCompleted
		u.BytesUploaded = u.FileSize
		u.RemoteID = res.RemoteID
		u.VideoURL = res.VideoURL
		u.Error = ""
		u.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RecordUploadCompleted()
	e.activity(id, types.ActivityUploadCompleted, "video available at "+s.VideoURL)
	logger.Info().Str("video_url", s.VideoURL).Msg("upload completed")
	return nil
}

func (e *Engine) pauseForReauth(ctx context.Context, logger zerolog.Logger, id string, cause error) error {
	// An expired credential must not consume a retry attempt and is never
	// retried automatically: only a fresh login resumes this session.
	if _, err := e.store.Update(context.WithoutCancel(ctx), id, func(u *Session) error {
		u.Status = types.UploadStatusPaused
		u.ReauthRequired = true
		u.Error = cause.Error()
		u.UpdatedAt = time.Now()
		return nil
	}); err != nil {
		logger.Warn().Err(err).Msg("persist reauth pause")
	}

	metrics.RecordUploadFailure("auth")
	e.activity(id, types.ActivityUploadPaused, "sign-in required: "+cause.Error())
	logger.Warn().Err(cause).Msg("upload paused, reauthentication required")
	return cause
}

func (e *Engine) failTransient(ctx context.Context, logger zerolog.Logger, id string, cause error) error {
	if _, err := e.store.Update(context.WithoutCancel(ctx), id, func(u *Session) error {
		u.Status = types.UploadStatusFailed
		u.Error = cause.Error()
		u.UpdatedAt = time.Now()
		return nil
	}); err != nil {
		logger.Warn().Err(err).Msg("persist failed state")
	}

	metrics.RecordUploadFailure("transient")
	e.activity(id, types.ActivityUploadFailed, cause.Error())
	logger.Error().Err(cause).Msg("upload failed, manual resume required")
	return cause
}
