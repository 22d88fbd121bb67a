package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatherly-app/gatherly/internal/identity"
	"github.com/gatherly-app/gatherly/internal/session"
	_ "github.com/gatherly-app/gatherly/testing"
)

type stubProvider struct {
	events   chan identity.Event
	mu       sync.Mutex
	signOuts []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{events: make(chan identity.Event, 8)}
}

func (p *stubProvider) CreateAccount(ctx context.Context, sessionID, email, password string) (*identity.Identity, error) {
	return nil, identity.NewError(identity.CodeInternal, "not implemented")
}

func (p *stubProvider) SignIn(ctx context.Context, sessionID, email, password string) (*identity.Identity, error) {
	return nil, identity.NewError(identity.CodeInvalidCredentials, "invalid credentials")
}

func (p *stubProvider) SignInFederated(ctx context.Context, sessionID string, user identity.FederatedUser) (*identity.Identity, error) {
	return nil, identity.NewError(identity.CodeInternal, "not implemented")
}

func (p *stubProvider) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	return nil
}

func (p *stubProvider) SendPasswordReset(ctx context.Context, email string) error { return nil }

func (p *stubProvider) SignOut(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts = append(p.signOuts, sessionID)
	return nil
}

func (p *stubProvider) Events() <-chan identity.Event { return p.events }

func (p *stubProvider) Close() error { return nil }

type stubBackend struct {
	mu        sync.Mutex
	token     string
	record    *session.RoleRecord
	roleErr   error
	exchanges int
	lookups   int
	block     chan struct{} // when set, LookupRole waits for a close
}

func (b *stubBackend) ExchangeToken(ctx context.Context, email string) (string, error) {
	b.mu.Lock()
	b.exchanges++
	token := b.token
	b.mu.Unlock()
	return token, nil
}

func (b *stubBackend) LookupRole(ctx context.Context, token, email string) (*session.RoleRecord, error) {
	b.mu.Lock()
	b.lookups++
	block := b.block
	rec := b.record
	err := b.roleErr
	b.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type recordingAudit struct {
	mu       sync.Mutex
	signIns  []string
	signOuts []string
	forced   []bool
}

func (a *recordingAudit) RecordSignIn(ctx context.Context, sessionID, email string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signIns = append(a.signIns, email)
}

func (a *recordingAudit) RecordSignOut(ctx context.Context, sessionID, email string, forced bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signOuts = append(a.signOuts, email)
	a.forced = append(a.forced, forced)
}

func newStore(t *testing.T, provider identity.Provider, backend session.Backend, audit session.AuditRecorder) (*session.Store, *session.CredentialStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	creds := session.NewCredentialStore(client, time.Hour)
	store := session.NewStore(session.StoreConfig{
		Provider:       provider,
		Credentials:    creds,
		Backend:        backend,
		Audit:          audit,
		ResolveTimeout: 2 * time.Second,
	})
	return store, creds
}

func waitSettled(t *testing.T, store *session.Store, sessionID string) session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := store.WaitSettled(ctx, sessionID)
	if err != nil {
		t.Fatalf("wait settled: %v", err)
	}
	return sess
}

func TestStoreResolvesSignInEvent(t *testing.T) {
	provider := newStubProvider()
	backend := &stubBackend{token: "jwt-1", record: &session.RoleRecord{Admin: true, Status: "active"}}
	audit := &recordingAudit{}
	store, creds := newStore(t, provider, backend, audit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = store.Run(ctx) }()

	provider.events <- identity.Event{
		SessionID: "sess-1",
		Identity:  &identity.Identity{UID: "u1", Email: "admin@test.local"},
	}

	sess := waitSettled(t, store, "sess-1")
	if !sess.SignedIn() {
		t.Fatalf("expected signed-in session")
	}
	if sess.Role != session.RoleAdmin {
		t.Fatalf("expected admin role, got %q", sess.Role)
	}
	if sess.Status != session.StatusActive {
		t.Fatalf("expected active status, got %q", sess.Status)
	}

	token, err := creds.Token(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("read credential: %v", err)
	}
	if token != "jwt-1" {
		t.Fatalf("expected stored credential, got %q", token)
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.signIns) != 1 || audit.signIns[0] != "admin@test.local" {
		t.Fatalf("expected one audited sign-in, got %v", audit.signIns)
	}
}

func TestStoreDefaultsRoleWhenLookupFails(t *testing.T) {
	provider := newStubProvider()
	backend := &stubBackend{token: "jwt-2", roleErr: errors.New("backend down")}
	store, creds := newStore(t, provider, backend, nil)

	store.Hydrate(context.Background(), "sess-2", &identity.Identity{UID: "u2", Email: "user@test.local"})

	sess := waitSettled(t, store, "sess-2")
	if !sess.SignedIn() {
		t.Fatalf("expected signed-in session despite lookup failure")
	}
	if sess.Role != session.RoleUser {
		t.Fatalf("expected default user role, got %q", sess.Role)
	}
	if sess.Loading {
		t.Fatalf("session must not stay loading after a failed lookup")
	}

	// The credential was exchanged before the lookup failed and must be
	// usable.
	token, err := creds.Token(context.Background(), "sess-2")
	if err != nil || token != "jwt-2" {
		t.Fatalf("expected stored credential, got %q err %v", token, err)
	}
}

func TestStoreSignOutClearsEverything(t *testing.T) {
	provider := newStubProvider()
	backend := &stubBackend{token: "jwt-3", record: &session.RoleRecord{Admin: false, Status: "active"}}
	audit := &recordingAudit{}
	store, creds := newStore(t, provider, backend, audit)

	store.Hydrate(context.Background(), "sess-3", &identity.Identity{UID: "u3", Email: "user@test.local"})
	waitSettled(t, store, "sess-3")

	if err := store.SignOut(context.Background(), "sess-3"); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	sess := store.Snapshot("sess-3")
	if sess.SignedIn() || sess.Loading {
		t.Fatalf("expected settled signed-out session, got %+v", sess)
	}
	if sess.Role != session.RoleNone || sess.Status != session.StatusNone {
		t.Fatalf("sign-out must clear role and status, got %q/%q", sess.Role, sess.Status)
	}

	token, err := creds.Token(context.Background(), "sess-3")
	if err != nil {
		t.Fatalf("read credential: %v", err)
	}
	if token != "" {
		t.Fatalf("expected credential removed, got %q", token)
	}

	provider.mu.Lock()
	signOuts := len(provider.signOuts)
	provider.mu.Unlock()
	if signOuts != 1 {
		t.Fatalf("expected provider sign-out, got %d", signOuts)
	}

	audit.mu.Lock()
	if len(audit.forced) != 1 || audit.forced[0] {
		audit.mu.Unlock()
		t.Fatalf("expected one unforced audited sign-out, got %v", audit.forced)
	}
	audit.mu.Unlock()

	// A second sign-out is a no-op.
	if err := store.SignOut(context.Background(), "sess-3"); err != nil {
		t.Fatalf("repeated sign out: %v", err)
	}
	if sess := store.Snapshot("sess-3"); sess.SignedIn() || sess.Loading {
		t.Fatalf("repeated sign-out disturbed the session: %+v", sess)
	}
	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.forced) != 1 {
		t.Fatalf("repeated sign-out must not audit again, got %v", audit.forced)
	}
}

func TestStoreForceSignOutIsSynchronousAndAudited(t *testing.T) {
	provider := newStubProvider()
	backend := &stubBackend{token: "jwt-4", record: &session.RoleRecord{Admin: false, Status: "active"}}
	audit := &recordingAudit{}
	store, _ := newStore(t, provider, backend, audit)

	store.Hydrate(context.Background(), "sess-4", &identity.Identity{UID: "u4", Email: "user@test.local"})
	waitSettled(t, store, "sess-4")

	store.ForceSignOut(context.Background(), "sess-4")

	if sess := store.Snapshot("sess-4"); sess.SignedIn() {
		t.Fatalf("forced sign-out must settle the signed-out state synchronously")
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.forced) != 1 || !audit.forced[0] {
		t.Fatalf("expected forced audited sign-out, got %v", audit.forced)
	}
}

func TestStoreNewerEventSupersedesInFlightResolution(t *testing.T) {
	provider := newStubProvider()
	block := make(chan struct{})
	backend := &stubBackend{token: "jwt-5", record: &session.RoleRecord{Admin: true, Status: "active"}, block: block}
	store, _ := newStore(t, provider, backend, nil)

	// First event starts a resolution that blocks in the role lookup.
	store.Hydrate(context.Background(), "sess-5", &identity.Identity{UID: "u5", Email: "first@test.local"})

	// Wait for the blocked lookup before superseding it.
	deadline := time.Now().Add(time.Second)
	for {
		backend.mu.Lock()
		started := backend.lookups > 0
		backend.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first lookup never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Sign-out event for the same session supersedes the resolution.
	store.Hydrate(context.Background(), "sess-5", nil)
	close(block)

	// The stale resolution must not resurrect the session.
	time.Sleep(50 * time.Millisecond)
	sess := store.Snapshot("sess-5")
	if sess.SignedIn() || sess.Loading {
		t.Fatalf("superseded resolution leaked into state: %+v", sess)
	}
}

func TestStoreSignInErrorSettlesIdle(t *testing.T) {
	provider := newStubProvider()
	backend := &stubBackend{token: "jwt-6", record: &session.RoleRecord{}}
	store, _ := newStore(t, provider, backend, nil)

	_, err := store.SignIn(context.Background(), "sess-6", "user@test.local", "wrong")
	if identity.CodeOf(err) != identity.CodeInvalidCredentials {
		t.Fatalf("expected invalid-credentials, got %v", err)
	}

	sess := waitSettled(t, store, "sess-6")
	if sess.Loading || sess.SignedIn() {
		t.Fatalf("rejected sign-in must settle back to signed out, got %+v", sess)
	}
}

func TestStoreUpdateProfileMirrorsLocally(t *testing.T) {
	provider := newStubProvider()
	backend := &stubBackend{token: "jwt-7", record: &session.RoleRecord{Admin: false, Status: "active"}}
	store, _ := newStore(t, provider, backend, nil)

	store.Hydrate(context.Background(), "sess-7", &identity.Identity{UID: "u7", Email: "user@test.local", DisplayName: "Old"})
	waitSettled(t, store, "sess-7")

	if err := store.UpdateProfile(context.Background(), "sess-7", "New Name", "https://cdn.test/p.png"); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	sess := store.Snapshot("sess-7")
	if sess.Identity == nil || sess.Identity.DisplayName != "New Name" {
		t.Fatalf("expected mirrored display name, got %+v", sess.Identity)
	}
	if sess.Role != session.RoleUser {
		t.Fatalf("profile update must not touch the role, got %q", sess.Role)
	}
}

func TestStoreForcedOutSessionRefusesRehydration(t *testing.T) {
	provider := newStubProvider()
	backend := &stubBackend{token: "jwt-8", record: &session.RoleRecord{Admin: false, Status: "active"}}
	store, creds := newStore(t, provider, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = store.Run(ctx) }()

	id := &identity.Identity{UID: "u8", Email: "user@test.local"}
	store.Hydrate(context.Background(), "sess-8", id)
	waitSettled(t, store, "sess-8")

	store.ForceSignOut(context.Background(), "sess-8")
	if !store.Revoked("sess-8") {
		t.Fatalf("forced sign-out must leave the session revoked")
	}

	// Replaying the persisted snapshot must not sign the session back in
	// or mint a fresh credential.
	store.Hydrate(context.Background(), "sess-8", id)
	sess := waitSettled(t, store, "sess-8")
	if sess.SignedIn() {
		t.Fatalf("revoked session was rehydrated: %+v", sess)
	}
	if token, _ := creds.Token(context.Background(), "sess-8"); token != "" {
		t.Fatalf("rehydration minted a credential for a revoked session: %q", token)
	}

	// A genuine provider sign-in event reinstates the session.
	provider.events <- identity.Event{SessionID: "sess-8", Identity: id}
	deadline := time.Now().Add(time.Second)
	for !store.Snapshot("sess-8").SignedIn() {
		if time.Now().After(deadline) {
			t.Fatalf("provider sign-in event did not reinstate the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if store.Revoked("sess-8") {
		t.Fatalf("reinstated session must not read as revoked")
	}
}

func TestStoreProfileUpdateSurvivesInFlightResolution(t *testing.T) {
	provider := newStubProvider()
	block := make(chan struct{})
	backend := &stubBackend{token: "jwt-9", record: &session.RoleRecord{Admin: false, Status: "active"}, block: block}
	store, _ := newStore(t, provider, backend, nil)

	store.Hydrate(context.Background(), "sess-9", &identity.Identity{UID: "u9", Email: "user@test.local"})

	deadline := time.Now().Add(time.Second)
	for {
		backend.mu.Lock()
		started := backend.lookups > 0
		backend.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("lookup never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The profile lands while the role lookup is still in flight; the
	// resolution must not roll the mirrored name back.
	if err := store.UpdateProfile(context.Background(), "sess-9", "Ada Lovelace", ""); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	close(block)

	sess := waitSettled(t, store, "sess-9")
	if sess.Identity == nil || sess.Identity.DisplayName != "Ada Lovelace" {
		t.Fatalf("resolution overwrote the mirrored display name: %+v", sess.Identity)
	}
}
