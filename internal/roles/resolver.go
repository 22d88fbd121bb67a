// Package roles re-validates administrative privilege against the
// remote API instead of trusting the session store's cached role.
package roles

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/gatherly-app/gatherly/internal/observability"
	"github.com/gatherly-app/gatherly/internal/session"
)

var (
	// ErrNoSession means there is no settled, credentialed identity to
	// resolve a role for.
	ErrNoSession = errors.New("roles: no resolvable session")
	// ErrUnavailable means the lookup failed after bounded retries. The
	// caller must treat the privilege as undefined, never as granted.
	ErrUnavailable = errors.New("roles: lookup unavailable")
)

const (
	extraAttempts = 2
	// lookupTimeout bounds the shared singleflight lookup, which is
	// detached from any one caller's request context.
	lookupTimeout = 10 * time.Second
)

// Resolver answers "is this identity an administrator" from the remote
// API, with a short-lived cache so guards do not stampede the lookup
// endpoint.
type Resolver struct {
	logger  *slog.Logger
	store   *session.Store
	creds   *session.CredentialStore
	backend session.Backend
	cache   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
	group   singleflight.Group
}

// Config collects the resolver's dependencies.
type Config struct {
	Logger      *slog.Logger
	Store       *session.Store
	Credentials *session.CredentialStore
	Backend     session.Backend
	Cache       *redis.Client
	TTL         time.Duration
	Metrics     *observability.Metrics
}

// NewResolver constructs a Resolver.
func NewResolver(cfg Config) *Resolver {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:  logger,
		store:   cfg.Store,
		creds:   cfg.Credentials,
		backend: cfg.Backend,
		cache:   cfg.Cache,
		ttl:     ttl,
		metrics: cfg.Metrics,
	}
}

// IsAdmin resolves administrative privilege for the session. It only
// queries once the session has settled with an identity and a stored
// credential; otherwise it reports ErrNoSession. Lookup failures are
// absorbed into ErrUnavailable after bounded retries.
func (r *Resolver) IsAdmin(ctx context.Context, sessionID string) (bool, error) {
	snap := r.store.Snapshot(sessionID)
	if snap.Loading || !snap.SignedIn() {
		return false, ErrNoSession
	}
	email := snap.Identity.Email

	token, err := r.creds.Token(ctx, sessionID)
	if err != nil {
		r.logger.Warn("read credential", slog.String("session", sessionID), slog.Any("error", err))
		return false, ErrUnavailable
	}
	if token == "" {
		return false, ErrNoSession
	}

	if cached, ok := r.cached(ctx, email); ok {
		r.metrics.RoleLookup("cache")
		return cached, nil
	}

	result, err, _ := r.group.Do(email, func() (any, error) {
		// Collapsed callers share this lookup; one impatient caller's
		// cancellation must not deny everyone else's answer.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.lookup(lctx, token, email)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Invalidate drops the cached answer for an email, used when an admin
// changes another account's role.
func (r *Resolver) Invalidate(ctx context.Context, email string) {
	if err := r.cache.Del(ctx, r.key(email)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("invalidate role cache", slog.String("email", email), slog.Any("error", err))
	}
}

func (r *Resolver) lookup(ctx context.Context, token, email string) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= extraAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ErrUnavailable
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		rec, err := r.backend.LookupRole(ctx, token, email)
		if err != nil {
			lastErr = err
			continue
		}
		isAdmin := rec.Admin
		r.remember(ctx, email, isAdmin)
		r.metrics.RoleLookup("ok")
		return isAdmin, nil
	}
	r.logger.Error("role lookup exhausted retries", slog.String("email", email), slog.Any("error", lastErr))
	r.metrics.RoleLookup("error")
	return false, ErrUnavailable
}

func (r *Resolver) cached(ctx context.Context, email string) (bool, bool) {
	val, err := r.cache.Get(ctx, r.key(email)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("role cache read", slog.String("email", email), slog.Any("error", err))
		}
		return false, false
	}
	return val == "1", true
}

func (r *Resolver) remember(ctx context.Context, email string, isAdmin bool) {
	val := "0"
	if isAdmin {
		val = "1"
	}
	if err := r.cache.Set(ctx, r.key(email), val, r.ttl).Err(); err != nil {
		r.logger.Warn("role cache write", slog.String("email", email), slog.Any("error", err))
	}
}

func (r *Resolver) key(email string) string {
	return "role:admin:" + email
}
