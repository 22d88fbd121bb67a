package identity

import "context"

// Provider abstracts the external identity provider. All calls are
// asynchronous from the session store's point of view: state changes
// surface on Events, not on the call's return value.
type Provider interface {
	// CreateAccount registers a new password-based account and signs the
	// session in. Emits a signed-in event on success.
	CreateAccount(ctx context.Context, sessionID, email, password string) (*Identity, error)
	// SignIn authenticates with email and password. Emits a signed-in
	// event on success.
	SignIn(ctx context.Context, sessionID, email, password string) (*Identity, error)
	// SignInFederated completes a federated (OAuth) sign-in from the
	// profile handed back by the federated provider's callback.
	SignInFederated(ctx context.Context, sessionID string, user FederatedUser) (*Identity, error)
	// UpdateProfile mutates display attributes on the provider. It does
	// not affect role or account status.
	UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error
	// SendPasswordReset asks the provider to mail a reset link.
	SendPasswordReset(ctx context.Context, email string) error
	// SignOut invalidates the provider-side session. Emits a signed-out
	// event whether or not a session existed, so SignOut is idempotent.
	SignOut(ctx context.Context, sessionID string) error
	// Events returns the auth-state change stream. The stream stays open
	// for the provider's lifetime and is closed by Close.
	Events() <-chan Event
	// Close releases the event stream and any provider resources.
	Close() error
}
