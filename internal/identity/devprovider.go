package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DevProvider is an in-process identity provider for development and
// tests. Accounts live in memory, passwords are bcrypt-hashed, and the
// event stream behaves like the hosted provider's.
type DevProvider struct {
	mu       sync.Mutex
	accounts map[string]*devAccount
	events   chan Event
	closed   bool
}

type devAccount struct {
	identity Identity
	hash     []byte
}

// NewDevProvider constructs an empty DevProvider.
func NewDevProvider() *DevProvider {
	return &DevProvider{
		accounts: make(map[string]*devAccount),
		events:   make(chan Event, 16),
	}
}

// CreateAccount registers a password account in memory.
func (p *DevProvider) CreateAccount(ctx context.Context, sessionID, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < 6 {
		return nil, NewError(CodeWeakPassword, "password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}

	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return nil, NewError(CodeEmailInUse, email)
	}
	account := &devAccount{
		identity: Identity{
			UID:       uuid.NewString(),
			Email:     email,
			Providers: []string{"password"},
		},
		hash: hash,
	}
	p.accounts[email] = account
	id := account.identity
	p.mu.Unlock()

	p.notify(Event{SessionID: sessionID, Identity: &id})
	return &id, nil
}

// SignIn checks the stored bcrypt hash.
func (p *DevProvider) SignIn(ctx context.Context, sessionID, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	account, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok {
		return nil, NewError(CodeUserNotFound, email)
	}
	if err := bcrypt.CompareHashAndPassword(account.hash, []byte(password)); err != nil {
		return nil, NewError(CodeInvalidCredentials, "wrong password")
	}

	id := account.identity
	p.notify(Event{SessionID: sessionID, Identity: &id})
	return &id, nil
}

// SignInFederated creates or reuses an account for the federated user.
func (p *DevProvider) SignInFederated(ctx context.Context, sessionID string, user FederatedUser) (*Identity, error) {
	if user.Email == "" {
		return nil, NewError(CodeFlowCanceled, "federated profile carried no email")
	}
	email := strings.ToLower(user.Email)

	p.mu.Lock()
	account, ok := p.accounts[email]
	if !ok {
		account = &devAccount{
			identity: Identity{
				UID:         uuid.NewString(),
				Email:       email,
				DisplayName: user.Name,
				PhotoURL:    user.Picture,
				Providers:   []string{user.Provider},
			},
		}
		p.accounts[email] = account
	} else if !hasProvider(account.identity.Providers, user.Provider) {
		account.identity.Providers = append(account.identity.Providers, user.Provider)
	}
	id := account.identity
	p.mu.Unlock()

	p.notify(Event{SessionID: sessionID, Identity: &id})
	return &id, nil
}

// UpdateProfile mutates display attributes.
func (p *DevProvider) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, account := range p.accounts {
		if account.identity.UID == uid {
			account.identity.DisplayName = displayName
			account.identity.PhotoURL = photoURL
			return nil
		}
	}
	return NewError(CodeUserNotFound, uid)
}

// SendPasswordReset only checks that the account exists.
func (p *DevProvider) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	p.mu.Lock()
	_, ok := p.accounts[email]
	p.mu.Unlock()
	if !ok {
		return NewError(CodeUserNotFound, email)
	}
	return nil
}

// SignOut emits the signed-out event. Safe to call repeatedly.
func (p *DevProvider) SignOut(ctx context.Context, sessionID string) error {
	p.notify(Event{SessionID: sessionID})
	return nil
}

// Events returns the auth-state change stream.
func (p *DevProvider) Events() <-chan Event {
	return p.events
}

// Close shuts the event stream down.
func (p *DevProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return nil
}

func (p *DevProvider) notify(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		// The pump has stalled and the buffer is full. Dropping the event
		// keeps provider calls (and Close) from blocking on the lock.
	}
}

func hasProvider(providers []string, name string) bool {
	for _, p := range providers {
		if p == name {
			return true
		}
	}
	return false
}
