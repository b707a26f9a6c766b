package platform

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.

	// ErrUnauthenticated marks credential failures a token refresh cannot
	// repair: the user must log in again. Never retried automatically.
	ErrUnauthenticated = errors.New("platform: unauthenticated")

	// ErrSessionRejected marks a resumable session the platform no longer
	// accepts (expired or invalid resume token). The transfer restarts
	// from byte zero; not surfaced as user-fatal.
	ErrSessionRejected = errors.New("platform: upload session rejected")

	// ErrUnavailable marks transient transport failures and 5xx answers.
	ErrUnavailable = errors.New("platform: unavailable or transport failure")

	// ErrBadResponse marks malformed platform answers.
	ErrBadResponse = errors.New("platform: invalid response format")
)

// Error wraps the sentinel errors with request context.
type Error struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("platform: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// IsAuth reports whether err is a credential failure requiring re-login.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsSessionRejected reports whether err invalidates the resumable session.
func IsSessionRejected(err error) bool {
	return errors.Is(err, ErrSessionRejected)
}

// IsTransient reports whether err belongs to the retryable class: anything
// that is neither an auth failure nor a rejected session.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsAuth(err) && !IsSessionRejected(err)
}
