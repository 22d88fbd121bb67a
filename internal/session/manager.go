package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gatherly-app/gatherly/internal/identity"
)

// FlashMessage is a one-time notification stored in the browser session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Manager orchestrates cookie-based browser sessions backed by Redis.
// The cookie only identifies the session; authenticated state lives in
// the Store and the CredentialStore under the same session ID.
type Manager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Browser is the per-request browser session.
type Browser struct {
	ID        string
	identity  *identity.Identity
	flashes   []FlashMessage
	isNew     bool
	dirty     bool
	destroyed bool
}

type browserPayload struct {
	Identity *identity.Identity `json:"identity,omitempty"`
	Flashes  []FlashMessage     `json:"flashes,omitempty"`
}

// NewManager constructs a Manager.
func NewManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Load reads the browser session for the request, creating a fresh one
// when no cookie or no stored payload exists.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Browser, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return m.newBrowser(), nil
		}
		return nil, err
	}

	raw, err := m.client.Get(ctx, m.key(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			sess := m.newBrowser()
			sess.ID = cookie.Value
			return sess, nil
		}
		return nil, err
	}

	var stored browserPayload
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}

	sess := &Browser{
		ID:       cookie.Value,
		identity: stored.Identity,
		flashes:  stored.Flashes,
	}
	return sess, nil
}

// Commit persists the browser session and writes cookie headers.
func (m *Manager) Commit(ctx context.Context, w http.ResponseWriter, sess *Browser) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := m.client.Del(ctx, m.key(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     m.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteLaxMode,
		})
		return nil
	}

	if sess.dirty || sess.isNew {
		payload, err := json.Marshal(browserPayload{Identity: sess.identity, Flashes: sess.flashes})
		if err != nil {
			return err
		}
		if err := m.client.Set(ctx, m.key(sess.ID), payload, m.ttl).Err(); err != nil {
			return err
		}
		sess.dirty = false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(m.ttl),
	})
	return nil
}

// Destroy marks the session for deletion on Commit.
func (m *Manager) Destroy(sess *Browser) {
	if sess != nil {
		sess.destroyed = true
	}
}

// TTL exposes the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// CookieName returns the cookie identifier used for sessions.
func (m *Manager) CookieName() string { return m.cookieName }

// SetIdentity snapshots the signed-in identity into the browser session
// so the session store can rehydrate it after a restart.
func (s *Browser) SetIdentity(id *identity.Identity) {
	s.identity = id
	s.dirty = true
}

// Identity returns the stored identity snapshot, if any.
func (s *Browser) Identity() *identity.Identity { return s.identity }

// AddFlash queues a flash message.
func (s *Browser) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Browser) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

func (m *Manager) newBrowser() *Browser {
	return &Browser{
		ID:    newSessionID(),
		isNew: true,
		dirty: true,
	}
}

func (m *Manager) key(id string) string {
	return "browser:" + id
}

func newSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
