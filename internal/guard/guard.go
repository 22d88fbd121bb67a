// Package guard gates protected route subtrees on session state: one
// middleware requires any signed-in identity, the other additionally
// requires administrative privilege.
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gatherly-app/gatherly/internal/roles"
	"github.com/gatherly-app/gatherly/internal/session"
)

// Decision is the guard's per-request state machine. Every request
// enters Pending; it leaves as Allowed or Denied, never hangs.
type Decision int

const (
	Pending Decision = iota
	Allowed
	Denied
)

const (
	// LoginRoute receives identity denials, carrying the original URL.
	LoginRoute = "/login"
	// FallbackRoute receives admin denials for signed-in non-admins.
	FallbackRoute = "/dashboard"
)

// Guard builds the route-guard middlewares.
type Guard struct {
	logger        *slog.Logger
	store         *session.Store
	resolver      *roles.Resolver
	settleTimeout time.Duration
}

// New constructs a Guard. settleTimeout bounds how long a request waits
// for an in-flight session resolution before it is treated as denied.
func New(logger *slog.Logger, store *session.Store, resolver *roles.Resolver, settleTimeout time.Duration) *Guard {
	if settleTimeout == 0 {
		settleTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger, store: store, resolver: resolver, settleTimeout: settleTimeout}
}

// RequireIdentity admits any signed-in, non-suspended session and
// redirects everyone else to the login route with the original location
// carried in the "from" parameter.
func (g *Guard) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, decision := g.settle(r)
		if decision == Denied {
			g.redirect(w, r, LoginRoute)
			return
		}
		if sess.Suspended() {
			g.logger.Warn("suspended account blocked", slog.String("email", sess.Identity.Email))
			g.store.ForceSignOut(r.Context(), browserID(r))
			if browser := session.BrowserFromContext(r.Context()); browser != nil {
				browser.SetIdentity(nil)
				browser.AddFlash(session.FlashMessage{Kind: "error", Message: "Your account is suspended."})
			}
			g.redirect(w, r, LoginRoute)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin composes identity-required semantics with a fresh role
// resolution. Non-admins and undefined lookups are sent to the
// dashboard fallback, never admitted.
func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return g.RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isAdmin, err := g.resolver.IsAdmin(r.Context(), browserID(r))
		if err != nil || !isAdmin {
			if err != nil {
				g.logger.Warn("admin check undefined", slog.Any("error", err))
			}
			g.redirect(w, r, FallbackRoute)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// settle drives the Pending state: rehydrate a persisted identity if the
// store has none, then wait (bounded) for the resolution pipeline.
func (g *Guard) settle(r *http.Request) (session.Session, Decision) {
	browser := session.BrowserFromContext(r.Context())
	if browser == nil {
		return session.Session{}, Denied
	}

	snap := g.store.Snapshot(browser.ID)
	if !snap.Loading && !snap.SignedIn() && browser.Identity() != nil {
		if g.store.Revoked(browser.ID) {
			// The session was torn down by a forced or provider-initiated
			// sign-out; the stale snapshot must not sign it back in.
			browser.SetIdentity(nil)
			return session.Session{}, Denied
		}
		// Store restarted since this browser signed in; replay the
		// persisted identity through the resolution pipeline.
		g.store.Hydrate(r.Context(), browser.ID, browser.Identity())
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.settleTimeout)
	defer cancel()
	sess, err := g.store.WaitSettled(ctx, browser.ID)
	if err != nil {
		g.logger.Warn("session never settled", slog.String("session", browser.ID), slog.Any("error", err))
		return session.Session{}, Denied
	}
	if !sess.SignedIn() {
		return sess, Denied
	}
	return sess, Allowed
}

// redirect sends the denial, preserving where the user was headed.
func (g *Guard) redirect(w http.ResponseWriter, r *http.Request, target string) {
	from := r.URL.RequestURI()
	http.Redirect(w, r, target+"?from="+url.QueryEscape(from), http.StatusSeeOther)
}

func browserID(r *http.Request) string {
	if browser := session.BrowserFromContext(r.Context()); browser != nil {
		return browser.ID
	}
	return ""
}
