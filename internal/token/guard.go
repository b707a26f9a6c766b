// Package token guards the OAuth access token shared by all platform
// calls: proactive refresh ahead of expiry, a single in-flight refresh
// regardless of caller count, and an explicit reauth-required latch that
// only a fresh interactive login clears.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"kanzelcast/internal/config"
	"kanzelcast/internal/log"
	"kanzelcast/internal/platform"
)

// Guard owns the credential state. All methods are safe for concurrent use.
type Guard struct {
	client platform.Client
	buffer time.Duration

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	reauthNeeded bool
	reauthReason string
	onLogin      []func()

	group singleflight.Group

	now func() time.Time
}

// NewGuard wires a guard with no credentials. Until Login is called every
// EnsureValidAccessToken fails with ErrUnauthenticated.
func NewGuard(client platform.Client, cfg config.TokenConfig) *Guard {
	return &Guard{
		client:       client,
		buffer:       cfg.RefreshBuffer(),
		reauthNeeded: true,
		reauthReason: "no credentials",
		now:          time.Now,
	}
}

// Login installs fresh credentials from an interactive sign-in, clears the
// reauth latch and notifies subscribers. expiresIn is in seconds.
func (g *Guard) Login(accessToken, refreshToken string, expiresIn int) {
	g.mu.Lock()
	g.accessToken = accessToken
	g.refreshToken = refreshToken
	g.expiresAt = g.now().Add(time.Duration(expiresIn) * time.Second)
	g.reauthNeeded = false
	g.reauthReason = ""
	subs := make([]func(), len(g.onLogin))
	copy(subs, g.onLogin)
	g.mu.Unlock()

	logger := log.WithComponent("token")
	logger.Info().Msg("credentials installed")

	// Subscribers run outside the lock; they may call back into the guard.
	for _, fn := range subs {
		fn()
	}
}

// OnLogin registers a callback invoked after every successful Login. Used
// by the upload coordinator to auto-resume sessions parked for reauth.
func (g *Guard) OnLogin(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onLogin = append(g.onLogin, fn)
}

// ReauthRequired reports whether the guard is latched and why.
func (g *Guard) ReauthRequired() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reauthNeeded, g.reauthReason
}

// EnsureValidAccessToken returns an access token valid for at least the
// configured buffer, refreshing it first when needed. Concurrent callers
// share one refresh request.
func (g *Guard) EnsureValidAccessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.reauthNeeded {
		reason := g.reauthReason
		g.mu.Unlock()
		return "", &platform.Error{
			Sentinel:  platform.ErrUnauthenticated,
			Operation: "ensure token",
			Body:      reason,
		}
	}
	if g.now().Add(g.buffer).Before(g.expiresAt) {
		tok := g.accessToken
		g.mu.Unlock()
		return tok, nil
	}
	g.mu.Unlock()

	v, err, _ := g.group.Do("refresh", func() (any, error) {
		return g.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh exchanges the refresh token. Runs under singleflight, so at most
// one exchange is in flight at a time.
func (g *Guard) refresh(ctx context.Context) (string, error) {
	g.mu.Lock()
	// Another waiter may have completed the refresh while this caller was
	// queued behind the flight.
	if !g.reauthNeeded && g.now().Add(g.buffer).Before(g.expiresAt) {
		tok := g.accessToken
		g.mu.Unlock()
		return tok, nil
	}
	refreshToken := g.refreshToken
	g.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "token")
	logger.Debug().Msg("refreshing access token")

	tok, err := g.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		if platform.IsAuth(err) {
			g.latch(fmt.Sprintf("token refresh rejected: %v", err))
			logger.Warn().Err(err).Msg("refresh token rejected, sign-in required")
		} else {
			logger.Warn().Err(err).Msg("token refresh failed")
		}
		return "", err
	}

	g.mu.Lock()
	g.accessToken = tok.AccessToken
	g.expiresAt = g.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	g.mu.Unlock()

	logger.Info().Int("expires_in", tok.ExpiresIn).Msg("access token refreshed")
	return tok.AccessToken, nil
}

func (g *Guard) latch(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reauthNeeded = true
	g.reauthReason = reason
	g.accessToken = ""
}
