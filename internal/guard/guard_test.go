package guard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatherly-app/gatherly/internal/guard"
	"github.com/gatherly-app/gatherly/internal/identity"
	"github.com/gatherly-app/gatherly/internal/roles"
	"github.com/gatherly-app/gatherly/internal/session"
	_ "github.com/gatherly-app/gatherly/testing"
)

type quietProvider struct {
	events   chan identity.Event
	mu       sync.Mutex
	signOuts int
}

func (p *quietProvider) CreateAccount(ctx context.Context, sessionID, email, password string) (*identity.Identity, error) {
	return nil, identity.NewError(identity.CodeInternal, "not implemented")
}

func (p *quietProvider) SignIn(ctx context.Context, sessionID, email, password string) (*identity.Identity, error) {
	return nil, identity.NewError(identity.CodeInternal, "not implemented")
}

func (p *quietProvider) SignInFederated(ctx context.Context, sessionID string, user identity.FederatedUser) (*identity.Identity, error) {
	return nil, identity.NewError(identity.CodeInternal, "not implemented")
}

func (p *quietProvider) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	return nil
}

func (p *quietProvider) SendPasswordReset(ctx context.Context, email string) error { return nil }

func (p *quietProvider) SignOut(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	return nil
}

func (p *quietProvider) Events() <-chan identity.Event { return p.events }

func (p *quietProvider) Close() error { return nil }

type roleBackend struct {
	mu     sync.Mutex
	record *session.RoleRecord
	block  chan struct{}
}

func (b *roleBackend) ExchangeToken(ctx context.Context, email string) (string, error) {
	return "jwt-" + email, nil
}

func (b *roleBackend) LookupRole(ctx context.Context, token, email string) (*session.RoleRecord, error) {
	b.mu.Lock()
	block := b.block
	rec := b.record
	b.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	return rec, nil
}

type guardFixture struct {
	store    *session.Store
	guard    *guard.Guard
	provider *quietProvider
	backend  *roleBackend
}

func newGuardFixture(t *testing.T, record *session.RoleRecord, settleTimeout time.Duration) *guardFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	creds := session.NewCredentialStore(client, time.Hour)
	provider := &quietProvider{events: make(chan identity.Event)}
	backend := &roleBackend{record: record}
	store := session.NewStore(session.StoreConfig{
		Provider:       provider,
		Credentials:    creds,
		Backend:        backend,
		ResolveTimeout: time.Second,
	})
	resolver := roles.NewResolver(roles.Config{
		Store:       store,
		Credentials: creds,
		Backend:     backend,
		Cache:       client,
		TTL:         time.Minute,
	})
	return &guardFixture{
		store:    store,
		guard:    guard.New(nil, store, resolver, settleTimeout),
		provider: provider,
		backend:  backend,
	}
}

func (f *guardFixture) signIn(t *testing.T, sessionID, email string) {
	t.Helper()
	f.store.Hydrate(context.Background(), sessionID, &identity.Identity{UID: "u-" + email, Email: email})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := f.store.WaitSettled(ctx, sessionID); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func requestWithBrowser(target string, browser *session.Browser) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return req.WithContext(session.ContextWithBrowser(req.Context(), browser))
}

func nextRecorder(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireIdentityRedirectsAnonymous(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "active"}, time.Second)

	var called bool
	res := httptest.NewRecorder()
	req := requestWithBrowser("/dashboard/joined?tab=all", &session.Browser{ID: "sess-anon"})
	f.guard.RequireIdentity(nextRecorder(&called)).ServeHTTP(res, req)

	if called {
		t.Fatalf("anonymous request must not reach the handler")
	}
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	want := guard.LoginRoute + "?from=" + url.QueryEscape("/dashboard/joined?tab=all")
	if loc := res.Header().Get("Location"); loc != want {
		t.Fatalf("expected redirect to %q, got %q", want, loc)
	}
}

func TestRequireIdentityDeniesWithoutBrowserSession(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "active"}, time.Second)

	var called bool
	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	f.guard.RequireIdentity(nextRecorder(&called)).ServeHTTP(res, req)

	if called || res.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got called=%v code=%d", called, res.Code)
	}
}

func TestRequireIdentityAdmitsSignedIn(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "active"}, time.Second)
	f.signIn(t, "sess-1", "user@test.local")

	var called bool
	res := httptest.NewRecorder()
	req := requestWithBrowser("/dashboard", &session.Browser{ID: "sess-1"})
	f.guard.RequireIdentity(nextRecorder(&called)).ServeHTTP(res, req)

	if !called {
		t.Fatalf("signed-in request must reach the handler")
	}
}

func TestRequireIdentityForcesSuspendedOut(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "suspended"}, time.Second)
	f.signIn(t, "sess-2", "suspended@test.local")

	var called bool
	res := httptest.NewRecorder()
	req := requestWithBrowser("/dashboard", &session.Browser{ID: "sess-2"})
	f.guard.RequireIdentity(nextRecorder(&called)).ServeHTTP(res, req)

	if called {
		t.Fatalf("suspended account must not reach the handler")
	}
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", res.Code)
	}
	if sess := f.store.Snapshot("sess-2"); sess.SignedIn() {
		t.Fatalf("suspended account must be signed out")
	}
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if f.provider.signOuts != 1 {
		t.Fatalf("expected provider sign-out, got %d", f.provider.signOuts)
	}
}

func TestRequireIdentityRehydratesPersistedIdentity(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "active"}, time.Second)

	// The store knows nothing about this session, but the browser session
	// carries an identity snapshot from before a restart.
	browser := &session.Browser{ID: "sess-3"}
	browser.SetIdentity(&identity.Identity{UID: "u3", Email: "user@test.local"})

	var called bool
	res := httptest.NewRecorder()
	req := requestWithBrowser("/dashboard", browser)
	f.guard.RequireIdentity(nextRecorder(&called)).ServeHTTP(res, req)

	if !called {
		t.Fatalf("rehydrated session must reach the handler, got %d to %q", res.Code, res.Header().Get("Location"))
	}
}

func TestRequireIdentityNeverHangs(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "active"}, 50*time.Millisecond)
	f.backend.mu.Lock()
	f.backend.block = make(chan struct{})
	f.backend.mu.Unlock()

	browser := &session.Browser{ID: "sess-4"}
	browser.SetIdentity(&identity.Identity{UID: "u4", Email: "user@test.local"})

	var called bool
	res := httptest.NewRecorder()
	req := requestWithBrowser("/dashboard", browser)

	start := time.Now()
	f.guard.RequireIdentity(nextRecorder(&called)).ServeHTTP(res, req)
	elapsed := time.Since(start)

	if called {
		t.Fatalf("unsettled session must not reach the handler")
	}
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect for unsettled session, got %d", res.Code)
	}
	if elapsed > time.Second {
		t.Fatalf("guard blocked too long: %v", elapsed)
	}
}

func TestRequireAdminRedirectsNonAdmin(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "active"}, time.Second)
	f.signIn(t, "sess-5", "user@test.local")

	var called bool
	res := httptest.NewRecorder()
	req := requestWithBrowser("/dashboard/admin/users", &session.Browser{ID: "sess-5"})
	f.guard.RequireAdmin(nextRecorder(&called)).ServeHTTP(res, req)

	if called {
		t.Fatalf("non-admin must not reach the handler")
	}
	want := guard.FallbackRoute + "?from=" + url.QueryEscape("/dashboard/admin/users")
	if loc := res.Header().Get("Location"); loc != want {
		t.Fatalf("expected redirect to %q, got %q", want, loc)
	}
}

func TestRequireAdminAdmitsAdmin(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: true, Status: "active"}, time.Second)
	f.signIn(t, "sess-6", "admin@test.local")

	var called bool
	res := httptest.NewRecorder()
	req := requestWithBrowser("/dashboard/admin/users", &session.Browser{ID: "sess-6"})
	f.guard.RequireAdmin(nextRecorder(&called)).ServeHTTP(res, req)

	if !called {
		t.Fatalf("admin must reach the handler, got %d to %q", res.Code, res.Header().Get("Location"))
	}
}

func TestRequireIdentityKeepsForcedOutSessionOut(t *testing.T) {
	f := newGuardFixture(t, &session.RoleRecord{Admin: false, Status: "active"}, time.Second)
	f.signIn(t, "sess-7", "user@test.local")

	browser := &session.Browser{ID: "sess-7"}
	browser.SetIdentity(&identity.Identity{UID: "u-user@test.local", Email: "user@test.local"})

	f.store.ForceSignOut(context.Background(), "sess-7")

	// The browser still carries the identity snapshot, but the teardown
	// must hold across every following request.
	for i := 0; i < 2; i++ {
		var called bool
		res := httptest.NewRecorder()
		req := requestWithBrowser("/dashboard", browser)
		f.guard.RequireIdentity(nextRecorder(&called)).ServeHTTP(res, req)

		if called {
			t.Fatalf("request %d re-admitted a forced-out session", i+1)
		}
		if res.Code != http.StatusSeeOther {
			t.Fatalf("request %d: expected redirect, got %d", i+1, res.Code)
		}
	}
	if browser.Identity() != nil {
		t.Fatalf("stale identity snapshot must be cleared")
	}
	if sess := f.store.Snapshot("sess-7"); sess.SignedIn() {
		t.Fatalf("forced-out session read as signed in: %+v", sess)
	}
}
