// Package gate implements the dashboard's password gate.
//
// The gate is a casual-access deterrent, not a security boundary: the secret
// is compared in plain text, there is no lockout counter and no rate limit.
// Its state is persisted in session-scoped storage as two entries that are
// always written and cleared together.
package gate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tars-dashboard/engine/internal/clock"
	"github.com/tars-dashboard/engine/internal/sessions"
	"github.com/tars-dashboard/engine/pkg/models"
)

const (
	// KeyAuthenticated holds "true" while the session is unlocked.
	KeyAuthenticated = "tars_auth"
	// KeyAuthorizedAt holds the unlock time in epoch milliseconds.
	KeyAuthorizedAt = "tars_auth_time"

	// DefaultExpiry is how long an unlock stays valid.
	DefaultExpiry = 24 * time.Hour
)

var (
	// ErrAccessDenied is returned when a candidate does not match the secret.
	ErrAccessDenied = errors.New("access denied")
	// ErrSessionExpired is reported when persisted auth is older than the expiry window.
	ErrSessionExpired = errors.New("session expired")
)

// Gate validates a candidate password and tracks the lock state of one
// client session.
type Gate struct {
	secret  string
	expiry  time.Duration
	storage sessions.Storage
	clock   clock.Clock

	mu           sync.RWMutex
	unlocked     bool
	authorizedAt time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithExpiry overrides the 24h expiry window.
func WithExpiry(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.expiry = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// New creates a locked gate over the given storage namespace.
func New(secret string, storage sessions.Storage, opts ...Option) *Gate {
	g := &Gate{
		secret:  secret,
		expiry:  DefaultExpiry,
		storage: storage,
		clock:   clock.Real{},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Restore reloads the lock state from storage. A missing record leaves the
// gate locked; a record older than the expiry window is cleared and reported
// as ErrSessionExpired. Storage failures fail closed.
func (g *Gate) Restore(ctx context.Context) error {
	flag, ok, err := g.storage.Get(ctx, KeyAuthenticated)
	if err != nil {
		log.Warn().Err(err).Msg("gate: failed to read session storage")
		g.setLocked()
		return err
	}
	raw, hasTime, err := g.storage.Get(ctx, KeyAuthorizedAt)
	if err != nil {
		log.Warn().Err(err).Msg("gate: failed to read session storage")
		g.setLocked()
		return err
	}
	if !ok || !hasTime || flag != "true" {
		g.setLocked()
		return nil
	}

	ms, perr := strconv.ParseInt(raw, 10, 64)
	at := time.UnixMilli(ms)
	if perr != nil || g.clock.Now().Sub(at) >= g.expiry {
		g.Clear(ctx)
		return ErrSessionExpired
	}

	g.mu.Lock()
	g.unlocked = true
	g.authorizedAt = at
	g.mu.Unlock()
	return nil
}

// Attempt trims candidate and unlocks the gate iff it equals the secret.
// A failed attempt leaves both the in-memory and persisted state untouched.
func (g *Gate) Attempt(ctx context.Context, candidate string) error {
	if strings.TrimSpace(candidate) != g.secret {
		return ErrAccessDenied
	}

	now := g.clock.Now()
	if err := g.storage.Put(ctx, map[string]string{
		KeyAuthenticated: "true",
		KeyAuthorizedAt:  strconv.FormatInt(now.UnixMilli(), 10),
	}); err != nil {
		// The tab still unlocks; it just won't survive a reload.
		log.Warn().Err(err).Msg("gate: failed to persist session")
	}

	g.mu.Lock()
	g.unlocked = true
	g.authorizedAt = time.UnixMilli(now.UnixMilli())
	g.mu.Unlock()
	return nil
}

// Clear erases the persisted record and locks the gate. Idempotent.
func (g *Gate) Clear(ctx context.Context) {
	if err := g.storage.Remove(ctx, KeyAuthenticated, KeyAuthorizedAt); err != nil {
		log.Warn().Err(err).Msg("gate: failed to clear session storage")
	}
	g.setLocked()
}

// Unlocked reports whether the gate is open. It also re-checks the expiry
// window so a long-lived tab locks itself once its unlock goes stale.
func (g *Gate) Unlocked() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unlocked && g.clock.Now().Sub(g.authorizedAt) < g.expiry
}

// Session returns the current gate state.
func (g *Gate) Session() models.Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return models.Session{Authenticated: g.unlocked, AuthorizedAt: g.authorizedAt}
}

func (g *Gate) setLocked() {
	g.mu.Lock()
	g.unlocked = false
	g.authorizedAt = time.Time{}
	g.mu.Unlock()
}
