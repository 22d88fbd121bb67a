// Package identity integrates the external identity provider: account
// creation, password and federated sign-in, profile updates, and the
// auth-state event stream the session store subscribes to.
package identity

// Identity is the signed-in principal as mirrored from the provider.
// The provider owns it; everything here is a read-only copy.
type Identity struct {
	UID         string   `json:"uid"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	PhotoURL    string   `json:"photo_url"`
	Providers   []string `json:"providers"`
}

// FederatedUser carries the profile returned by a federated OAuth
// provider's userinfo endpoint.
type FederatedUser struct {
	Provider string `json:"provider"`
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
}

// Event is one auth-state change notification. A nil Identity means the
// session is signed out. The provider delivers an event for every
// sign-in, sign-out, and provider-initiated invalidation.
type Event struct {
	SessionID string
	Identity  *Identity
}
