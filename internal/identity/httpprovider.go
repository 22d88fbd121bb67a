package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPConfig holds the configuration for the hosted identity provider.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider talks to the hosted identity service over REST and
// re-publishes its state changes on the event stream. Provider-initiated
// changes (remote sign-out, token revocation) arrive through Notify,
// which the back-channel webhook handler feeds.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu     sync.Mutex
	events chan Event
	closed bool
}

// NewHTTPProvider constructs an HTTPProvider.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		events:  make(chan Event, 16),
	}
}

type accountResponse struct {
	User Identity `json:"user"`
}

type errorResponse struct {
	ErrorMsg string `json:"error"`
	Code     string `json:"code"`
}

// CreateAccount registers a password account with the provider.
func (p *HTTPProvider) CreateAccount(ctx context.Context, sessionID, email, password string) (*Identity, error) {
	id, err := p.postAccount(ctx, "/v1/accounts", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	p.Notify(Event{SessionID: sessionID, Identity: id})
	return id, nil
}

// SignIn authenticates email/password credentials with the provider.
func (p *HTTPProvider) SignIn(ctx context.Context, sessionID, email, password string) (*Identity, error) {
	id, err := p.postAccount(ctx, "/v1/accounts:signIn", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	p.Notify(Event{SessionID: sessionID, Identity: id})
	return id, nil
}

// SignInFederated records a federated sign-in with the provider.
func (p *HTTPProvider) SignInFederated(ctx context.Context, sessionID string, user FederatedUser) (*Identity, error) {
	body, err := json.Marshal(user)
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	id, err := p.doAccount(ctx, http.MethodPost, "/v1/accounts:federated", body)
	if err != nil {
		return nil, err
	}
	p.Notify(Event{SessionID: sessionID, Identity: id})
	return id, nil
}

// UpdateProfile changes display name and photo on the provider.
func (p *HTTPProvider) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	body, err := json.Marshal(map[string]string{
		"display_name": displayName,
		"photo_url":    photoURL,
	})
	if err != nil {
		return NewError(CodeInternal, err.Error())
	}
	_, err = p.doAccount(ctx, http.MethodPatch, "/v1/accounts/"+uid, body)
	return err
}

// SendPasswordReset asks the provider to send a reset email. Unknown
// addresses are reported as user-not-found; whether the provider instead
// answers 200 for privacy is its own business.
func (p *HTTPProvider) SendPasswordReset(ctx context.Context, email string) error {
	_, err := p.postAccount(ctx, "/v1/accounts:sendPasswordReset", map[string]string{"email": email})
	var perr *Error
	if errors.As(err, &perr) && perr.Code == CodeInvalidCredentials {
		return NewError(CodeUserNotFound, perr.Message)
	}
	return err
}

// SignOut invalidates the provider session and emits the signed-out
// event regardless of the call's outcome, so local teardown always runs.
func (p *HTTPProvider) SignOut(ctx context.Context, sessionID string) error {
	defer p.Notify(Event{SessionID: sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/sessions/"+sessionID+":signOut", nil)
	if err != nil {
		return NewError(CodeInternal, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.http.Do(req)
	if err != nil {
		return NewError(CodeNetwork, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return NewError(CodeNetwork, fmt.Sprintf("provider sign-out returned %d", resp.StatusCode))
	}
	return nil
}

// Events returns the auth-state change stream.
func (p *HTTPProvider) Events() <-chan Event {
	return p.events
}

// Notify publishes an auth-state event. The back-channel webhook uses it
// to inject provider-initiated sign-outs and token refreshes. Events are
// dropped once the provider is closed, or when the buffer is full
// because the pump has stalled; blocking here would wedge every provider
// call behind the lock.
func (p *HTTPProvider) Notify(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}

// Close shuts the event stream down.
func (p *HTTPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return nil
}

func (p *HTTPProvider) postAccount(ctx context.Context, path string, payload map[string]string) (*Identity, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	return p.doAccount(ctx, http.MethodPost, path, body)
}

func (p *HTTPProvider) doAccount(ctx context.Context, method, path string, body []byte) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(CodeInternal, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, NewError(CodeNetwork, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var data accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, NewError(CodeInternal, fmt.Sprintf("decode response: %s", err))
	}
	return &data.User, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := http.StatusText(resp.StatusCode)
	var payload errorResponse
	if json.Unmarshal(raw, &payload) == nil {
		if payload.ErrorMsg != "" {
			message = payload.ErrorMsg
		}
		if payload.Code != "" {
			return NewError(Code(payload.Code), message)
		}
	}
	switch resp.StatusCode {
	case http.StatusConflict:
		return NewError(CodeEmailInUse, message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewError(CodeInvalidCredentials, message)
	case http.StatusNotFound:
		return NewError(CodeUserNotFound, message)
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(message), "password") {
			return NewError(CodeWeakPassword, message)
		}
		return NewError(CodeInternal, message)
	default:
		return NewError(CodeNetwork, message)
	}
}
