package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/identity"
	"github.com/gatherly-app/gatherly/internal/session"
)

const (
	stateTTL        = 10 * time.Minute
	userinfoURL     = "https://www.googleapis.com/oauth2/v2/userinfo"
	federatedOrigin = "google"
)

// GoogleOAuth drives the federated sign-in flow: redirect to Google's
// consent screen, then exchange the callback code for a profile the
// identity provider can sign in.
type GoogleOAuth struct {
	config *oauth2.Config
	states *redis.Client
}

// NewGoogleOAuth constructs the flow. Returns nil when the client is not
// configured, which disables the federated routes.
func NewGoogleOAuth(clientID, clientSecret, publicBaseURL string, states *redis.Client) *GoogleOAuth {
	if clientID == "" || clientSecret == "" {
		return nil
	}
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  publicBaseURL + "/auth/google/callback",
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		states: states,
	}
}

type statePayload struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
}

func (g *GoogleOAuth) saveState(ctx context.Context, state string, payload statePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return g.states.Set(ctx, "oauthstate:"+state, raw, stateTTL).Err()
}

func (g *GoogleOAuth) takeState(ctx context.Context, state string) (*statePayload, error) {
	key := "oauthstate:" + state
	raw, err := g.states.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.New("unknown or expired oauth state")
		}
		return nil, err
	}
	_ = g.states.Del(ctx, key).Err()
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (h *Handler) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())
	if browser == nil {
		http.Redirect(w, r, "/login?error=internal", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		h.logger.Error("generate oauth state", slog.Any("error", err))
		http.Redirect(w, r, "/login?error=internal", http.StatusSeeOther)
		return
	}
	payload := statePayload{SessionID: browser.ID, From: r.URL.Query().Get("from")}
	if err := h.google.saveState(r.Context(), state, payload); err != nil {
		h.logger.Error("save oauth state", slog.Any("error", err))
		http.Redirect(w, r, "/login?error=internal", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, h.google.config.AuthCodeURL(state), http.StatusSeeOther)
}

func (h *Handler) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())
	if browser == nil {
		http.Redirect(w, r, "/login?error=internal", http.StatusSeeOther)
		return
	}

	if errCode := r.URL.Query().Get("error"); errCode != "" {
		// The user closed or denied the consent screen.
		h.logger.Info("federated sign-in canceled", slog.String("reason", errCode))
		http.Redirect(w, r, "/login?error="+string(identity.CodeFlowCanceled), http.StatusSeeOther)
		return
	}

	state := r.URL.Query().Get("state")
	payload, err := h.google.takeState(r.Context(), state)
	if err != nil || payload.SessionID != browser.ID {
		h.logger.Warn("oauth state mismatch", slog.Any("error", err))
		http.Redirect(w, r, "/login?error=state_mismatch", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	token, err := h.google.config.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("oauth code exchange", slog.Any("error", err))
		http.Redirect(w, r, "/login?error="+string(identity.CodeNetwork), http.StatusSeeOther)
		return
	}

	user, err := h.google.fetchUserinfo(r.Context(), token)
	if err != nil {
		h.logger.Warn("fetch userinfo", slog.Any("error", err))
		http.Redirect(w, r, "/login?error="+string(identity.CodeNetwork), http.StatusSeeOther)
		return
	}

	id, err := h.store.SignInFederated(r.Context(), browser.ID, *user)
	if err != nil {
		h.respondIdentityError(w, err)
		return
	}

	// First federated sign-in also needs a profile row.
	profile := sessionProfile(id)
	if err := h.client.RegisterUser(r.Context(), browser.ID, profile); err != nil {
		h.logger.Debug("register profile row", slog.String("email", id.Email), slog.Any("error", err))
	}

	sess, err := h.store.WaitSettled(r.Context(), browser.ID)
	if err == nil {
		browser.SetIdentity(sess.Identity)
	}

	target := "/dashboard"
	if payload.From != "" {
		q := r.URL.Query()
		q.Set("from", payload.From)
		r.URL.RawQuery = q.Encode()
		target = redirectAfterLogin(r)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (g *GoogleOAuth) fetchUserinfo(ctx context.Context, token *oauth2.Token) (*identity.FederatedUser, error) {
	client := g.config.Client(ctx, token)
	resp, err := client.Get(userinfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("userinfo returned " + resp.Status)
	}

	var info struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &identity.FederatedUser{
		Provider: federatedOrigin,
		Subject:  info.ID,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
	}, nil
}

func sessionProfile(id *identity.Identity) api.UserProfile {
	return api.UserProfile{
		Name:     id.DisplayName,
		Email:    id.Email,
		PhotoURL: id.PhotoURL,
		Role:     string(session.RoleUser),
		Status:   string(session.StatusActive),
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
