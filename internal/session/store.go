package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatherly-app/gatherly/internal/identity"
)

// Backend is the slice of the events API the store needs: exchanging an
// identity for a bearer credential and looking up its role.
type Backend interface {
	ExchangeToken(ctx context.Context, email string) (string, error)
	LookupRole(ctx context.Context, token, email string) (*RoleRecord, error)
}

// AuditRecorder receives best-effort sign-in/sign-out records. A nil
// recorder disables auditing.
type AuditRecorder interface {
	RecordSignIn(ctx context.Context, sessionID, email string)
	RecordSignOut(ctx context.Context, sessionID, email string, forced bool)
}

// Store is the single source of truth for authenticated session state.
// It consumes the identity provider's event stream: each event starts a
// resolution pipeline (credential exchange, then role lookup) that runs
// as a cancellable task. A newer event for the same session supersedes
// an in-flight resolution, so the final state always reflects the most
// recent notification.
type Store struct {
	logger   *slog.Logger
	provider identity.Provider
	creds    *CredentialStore
	backend  Backend
	audit    AuditRecorder

	resolveTimeout time.Duration

	mu     sync.Mutex
	states map[string]*state
}

type state struct {
	session Session
	cancel  context.CancelFunc
	gen     uint64
	settled chan struct{}
	// revoked marks a torn-down session. It blocks Hydrate until a
	// genuine provider sign-in event reinstates the session, so a stale
	// browser snapshot cannot re-sign a forced-out session in.
	revoked bool
}

// StoreConfig collects the store's dependencies.
type StoreConfig struct {
	Logger         *slog.Logger
	Provider       identity.Provider
	Credentials    *CredentialStore
	Backend        Backend
	Audit          AuditRecorder
	ResolveTimeout time.Duration
}

// NewStore constructs a Store. Run must be called once to start the
// event pump.
func NewStore(cfg StoreConfig) *Store {
	timeout := cfg.ResolveTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:         logger,
		provider:       cfg.Provider,
		creds:          cfg.Credentials,
		backend:        cfg.Backend,
		audit:          cfg.Audit,
		resolveTimeout: timeout,
		states:         make(map[string]*state),
	}
}

// Run consumes the provider's event stream until ctx is cancelled or the
// stream closes. It is the store's only long-lived goroutine and is torn
// down at application shutdown.
func (st *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-st.provider.Events():
			if !ok {
				return nil
			}
			st.dispatch(ctx, ev, false)
		}
	}
}

// Snapshot returns the current session state. Unknown sessions read as
// signed out and settled.
func (st *Store) Snapshot(sessionID string) Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.states[sessionID]; ok {
		return s.session
	}
	return Session{}
}

// WaitSettled blocks until the session's resolution pipeline has
// finished (Loading is false) or ctx expires, and returns the settled
// state.
func (st *Store) WaitSettled(ctx context.Context, sessionID string) (Session, error) {
	for {
		st.mu.Lock()
		s, ok := st.states[sessionID]
		if !ok || !s.session.Loading {
			sess := Session{}
			if ok {
				sess = s.session
			}
			st.mu.Unlock()
			return sess, nil
		}
		settled := s.settled
		st.mu.Unlock()

		select {
		case <-ctx.Done():
			return Session{}, ctx.Err()
		case <-settled:
		}
	}
}

// CreateAccount delegates account creation to the identity provider.
// Provider errors propagate verbatim for form messaging; the resulting
// sign-in arrives through the event stream.
func (st *Store) CreateAccount(ctx context.Context, sessionID, email, password string) (*identity.Identity, error) {
	st.markLoading(sessionID)
	id, err := st.provider.CreateAccount(ctx, sessionID, email, password)
	if err != nil {
		st.settleIdle(sessionID)
	}
	return id, err
}

// SignIn delegates password sign-in to the identity provider.
func (st *Store) SignIn(ctx context.Context, sessionID, email, password string) (*identity.Identity, error) {
	st.markLoading(sessionID)
	id, err := st.provider.SignIn(ctx, sessionID, email, password)
	if err != nil {
		st.settleIdle(sessionID)
	}
	return id, err
}

// SignInFederated completes a federated sign-in from the OAuth callback.
func (st *Store) SignInFederated(ctx context.Context, sessionID string, user identity.FederatedUser) (*identity.Identity, error) {
	st.markLoading(sessionID)
	id, err := st.provider.SignInFederated(ctx, sessionID, user)
	if err != nil {
		st.settleIdle(sessionID)
	}
	return id, err
}

// UpdateProfile mutates display attributes on the provider and mirrors
// them locally. Role and status are untouched.
func (st *Store) UpdateProfile(ctx context.Context, sessionID, displayName, photoURL string) error {
	current := st.Snapshot(sessionID)
	if current.Identity == nil {
		return identity.NewError(identity.CodeUserNotFound, "no signed-in identity")
	}
	if err := st.provider.UpdateProfile(ctx, current.Identity.UID, displayName, photoURL); err != nil {
		return err
	}

	st.mu.Lock()
	if s, ok := st.states[sessionID]; ok && s.session.Identity != nil {
		id := *s.session.Identity
		id.DisplayName = displayName
		id.PhotoURL = photoURL
		s.session.Identity = &id
	}
	st.mu.Unlock()
	return nil
}

// SendPasswordReset delegates to the identity provider.
func (st *Store) SendPasswordReset(ctx context.Context, email string) error {
	return st.provider.SendPasswordReset(ctx, email)
}

// SignOut tears the session down: the credential is removed and role and
// status cleared before the provider is told, so no window exists where
// a signed-out session still carries a usable token. Calling it twice is
// harmless.
func (st *Store) SignOut(ctx context.Context, sessionID string) error {
	return st.signOut(ctx, sessionID, false)
}

// ForceSignOut is the teardown path for authorization failures (401/403
// from the API). It settles the session synchronously so callers observe
// the signed-out state as soon as it returns.
func (st *Store) ForceSignOut(ctx context.Context, sessionID string) {
	if err := st.signOut(ctx, sessionID, true); err != nil {
		st.logger.Warn("forced sign-out", slog.String("session", sessionID), slog.Any("error", err))
	}
}

func (st *Store) signOut(ctx context.Context, sessionID string, forced bool) error {
	if err := st.creds.Delete(ctx, sessionID); err != nil {
		st.logger.Warn("delete credential", slog.String("session", sessionID), slog.Any("error", err))
	}

	st.mu.Lock()
	var email string
	s, ok := st.states[sessionID]
	if !ok {
		s = &state{}
		st.states[sessionID] = s
	}
	if s.session.Identity != nil {
		email = s.session.Identity.Email
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.revoked = true
	st.finishLocked(s, Session{})
	st.mu.Unlock()

	if st.audit != nil && email != "" {
		st.audit.RecordSignOut(ctx, sessionID, email, forced)
	}
	return st.provider.SignOut(ctx, sessionID)
}

// Hydrate restarts the resolution pipeline for an identity recovered
// from a persisted browser session, as if the provider had re-announced
// it. Revoked sessions refuse hydration: only a fresh provider sign-in
// may bring them back.
func (st *Store) Hydrate(ctx context.Context, sessionID string, id *identity.Identity) {
	st.dispatch(ctx, identity.Event{SessionID: sessionID, Identity: id}, true)
}

// Revoked reports whether the session was torn down by a sign-out and
// has not signed in again since.
func (st *Store) Revoked(sessionID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.states[sessionID]
	return ok && s.revoked
}

// dispatch hands one auth-state event to the resolution pipeline,
// superseding any in-flight resolution for the same session. Replayed
// events (hydration) cannot reinstate a revoked session; only the
// provider's own stream can.
func (st *Store) dispatch(ctx context.Context, ev identity.Event, replay bool) {
	st.mu.Lock()
	s, ok := st.states[ev.SessionID]
	if !ok {
		s = &state{}
		st.states[ev.SessionID] = s
	}
	if replay && s.revoked {
		st.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	gen := s.gen

	if ev.Identity == nil {
		// The tombstone stays in the map so a persisted browser snapshot
		// cannot rehydrate the session behind the provider's back.
		s.revoked = true
		st.mu.Unlock()
		if err := st.creds.Delete(ctx, ev.SessionID); err != nil {
			st.logger.Warn("delete credential", slog.String("session", ev.SessionID), slog.Any("error", err))
		}
		st.mu.Lock()
		if s.gen == gen {
			st.finishLocked(s, Session{})
		}
		st.mu.Unlock()
		return
	}

	s.revoked = false
	s.session.Identity = ev.Identity
	s.session.Loading = true
	if s.settled == nil {
		s.settled = make(chan struct{})
	}
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), st.resolveTimeout)
	s.cancel = cancel
	st.mu.Unlock()

	go st.resolve(resolveCtx, ev.SessionID, gen, ev.Identity)
}

// resolve runs the credential-exchange and role-lookup chain for one
// event. A downstream failure defaults the role to user so the session
// never stays loading; only the latest generation may publish.
func (st *Store) resolve(ctx context.Context, sessionID string, gen uint64, id *identity.Identity) {
	final := Session{
		Identity: id,
		Role:     RoleUser,
		Status:   StatusNone,
	}

	token, err := st.backend.ExchangeToken(ctx, id.Email)
	if err != nil {
		st.logger.Error("credential exchange", slog.String("email", id.Email), slog.Any("error", err))
		st.publish(ctx, sessionID, gen, final)
		return
	}

	// The credential must be stored before the session reads as settled.
	if err := st.creds.Set(ctx, sessionID, token); err != nil {
		st.logger.Error("store credential", slog.String("session", sessionID), slog.Any("error", err))
		st.publish(ctx, sessionID, gen, final)
		return
	}

	rec, err := st.backend.LookupRole(ctx, token, id.Email)
	if err != nil {
		st.logger.Error("role lookup", slog.String("email", id.Email), slog.Any("error", err))
		st.publish(ctx, sessionID, gen, final)
		return
	}

	final.Role = NormalizeRole(rec)
	final.Status = NormalizeStatus(rec.Status)
	st.publish(ctx, sessionID, gen, final)

	if st.audit != nil {
		st.audit.RecordSignIn(ctx, sessionID, id.Email)
	}
}

// publish installs the resolved state if no newer event superseded it.
func (st *Store) publish(ctx context.Context, sessionID string, gen uint64, sess Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.states[sessionID]
	if !ok || s.gen != gen {
		// A newer notification won; discard this resolution.
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	// UpdateProfile may have mirrored newer display attributes while this
	// resolution was in flight; the event's identity must not roll them
	// back.
	if cur := s.session.Identity; cur != nil && sess.Identity != nil && cur.UID == sess.Identity.UID {
		if cur.DisplayName != sess.Identity.DisplayName || cur.PhotoURL != sess.Identity.PhotoURL {
			id := *sess.Identity
			if cur.DisplayName != "" {
				id.DisplayName = cur.DisplayName
			}
			if cur.PhotoURL != "" {
				id.PhotoURL = cur.PhotoURL
			}
			sess.Identity = &id
		}
	}
	st.finishLocked(s, sess)
}

func (st *Store) markLoading(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.states[sessionID]
	if !ok {
		s = &state{}
		st.states[sessionID] = s
	}
	s.session.Loading = true
	if s.settled == nil {
		s.settled = make(chan struct{})
	}
}

// settleIdle reverts a failed provider call to the settled signed-out
// state so the session never hangs loading on a rejected form submit.
func (st *Store) settleIdle(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.states[sessionID]; ok && s.session.Identity == nil {
		st.finishLocked(s, Session{})
	}
}

func (st *Store) finishLocked(s *state, sess Session) {
	sess.Loading = false
	s.session = sess
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
}
