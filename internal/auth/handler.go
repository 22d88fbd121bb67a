// Package auth wires the HTTP endpoints for the sign-in lifecycle:
// registration, password and federated sign-in, password reset,
// sign-out, and the identity provider's back-channel webhook.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/identity"
	"github.com/gatherly-app/gatherly/internal/platform/httpx"
	"github.com/gatherly-app/gatherly/internal/session"
)

// Notifier lets the back-channel webhook inject provider-initiated
// auth-state events into the stream the session store consumes.
type Notifier interface {
	Notify(identity.Event)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger     *slog.Logger
	store      *session.Store
	client     *api.Client
	google     *GoogleOAuth
	notifier   Notifier
	hookSecret string
	validator  *validator.Validate
}

// NewHandler constructs a Handler instance. google and notifier may be
// nil when federated sign-in or the webhook are not configured.
func NewHandler(logger *slog.Logger, store *session.Store, client *api.Client, google *GoogleOAuth, notifier Notifier, hookSecret string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		store:      store,
		client:     client,
		google:     google,
		notifier:   notifier,
		hookSecret: hookSecret,
		validator:  validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/reset-password", h.handleResetPassword)
	if h.google != nil {
		r.Get("/auth/google", h.handleGoogleStart)
		r.Get("/auth/google/callback", h.handleGoogleCallback)
	}
	if h.notifier != nil {
		r.Post("/hooks/identity", h.handleIdentityHook)
	}
}

type registerForm struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	PhotoURL string `json:"photoURL" validate:"omitempty,url"`
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type resetForm struct {
	Email string `json:"email" validate:"required,email"`
}

type sessionResponse struct {
	Identity *identity.Identity    `json:"identity"`
	Role     session.Role          `json:"role"`
	Status   session.AccountStatus `json:"status"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())
	if browser == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Session Missing", "")
		return
	}

	var form registerForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	id, err := h.store.CreateAccount(r.Context(), browser.ID, form.Email, form.Password)
	if err != nil {
		h.respondIdentityError(w, err)
		return
	}

	// The sign-in lands through the event stream; the display name can
	// only be attached once the identity has settled into the store.
	if _, err := h.store.WaitSettled(r.Context(), browser.ID); err != nil {
		httpx.Problem(w, http.StatusGatewayTimeout, "Sign-In Timed Out", "")
		return
	}
	if err := h.store.UpdateProfile(r.Context(), browser.ID, form.Name, form.PhotoURL); err != nil {
		h.logger.Warn("update profile after register", slog.Any("error", err))
	}

	// Register the profile row with the events API; the session keeps
	// working even if this fails, the row is re-creatable.
	profile := api.UserProfile{
		Name:     form.Name,
		Email:    id.Email,
		PhotoURL: form.PhotoURL,
		Role:     string(session.RoleUser),
		Status:   string(session.StatusActive),
	}
	if err := h.client.RegisterUser(r.Context(), browser.ID, profile); err != nil && !errors.Is(err, httpx.ErrDuplicate) {
		h.logger.Warn("register profile row", slog.String("email", id.Email), slog.Any("error", err))
	}

	h.finishSignIn(w, r, browser, http.StatusCreated)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())
	if browser == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Session Missing", "")
		return
	}

	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if _, err := h.store.SignIn(r.Context(), browser.ID, form.Email, form.Password); err != nil {
		h.respondIdentityError(w, err)
		return
	}

	h.finishSignIn(w, r, browser, http.StatusOK)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())
	if browser == nil {
		httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if err := h.store.SignOut(r.Context(), browser.ID); err != nil {
		h.logger.Warn("sign out", slog.String("session", browser.ID), slog.Any("error", err))
	}
	browser.SetIdentity(nil)
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var form resetForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.store.SendPasswordReset(r.Context(), form.Email); err != nil {
		h.respondIdentityError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleIdentityHook accepts provider-initiated auth-state changes
// (remote sign-out, token revocation) and feeds them to the store.
func (h *Handler) handleIdentityHook(w http.ResponseWriter, r *http.Request) {
	if h.hookSecret != "" && r.Header.Get("Authorization") != "Bearer "+h.hookSecret {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var ev struct {
		SessionID string             `json:"sessionId"`
		Identity  *identity.Identity `json:"identity"`
	}
	if err := httpx.DecodeJSON(r, &ev); err != nil || ev.SessionID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "sessionId is required")
		return
	}
	h.notifier.Notify(identity.Event{SessionID: ev.SessionID, Identity: ev.Identity})
	httpx.JSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// finishSignIn waits for the resolution pipeline, snapshots the identity
// into the browser session, and reports the settled state.
func (h *Handler) finishSignIn(w http.ResponseWriter, r *http.Request, browser *session.Browser, status int) {
	sess, err := h.store.WaitSettled(r.Context(), browser.ID)
	if err != nil {
		httpx.Problem(w, http.StatusGatewayTimeout, "Sign-In Timed Out", "")
		return
	}
	browser.SetIdentity(sess.Identity)

	resp := sessionResponse{Identity: sess.Identity, Role: sess.Role, Status: sess.Status}
	httpx.JSON(w, status, resp)
}

// respondIdentityError maps provider error codes to form-friendly HTTP
// responses; the provider message passes through verbatim.
func (h *Handler) respondIdentityError(w http.ResponseWriter, err error) {
	var perr *identity.Error
	if !errors.As(err, &perr) {
		h.logger.Error("identity provider", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Identity Provider Failure", "")
		return
	}
	status := http.StatusBadRequest
	switch perr.Code {
	case identity.CodeEmailInUse:
		status = http.StatusConflict
	case identity.CodeInvalidCredentials, identity.CodeUserNotFound:
		status = http.StatusUnauthorized
	case identity.CodeNetwork:
		status = http.StatusBadGateway
	}
	httpx.JSON(w, status, map[string]string{
		"code":  string(perr.Code),
		"error": perr.Message,
	})
}

// redirectAfterLogin decides where a completed federated sign-in lands,
// honoring the "from" location carried by the guards.
func redirectAfterLogin(r *http.Request) string {
	from := r.URL.Query().Get("from")
	if from == "" {
		return "/dashboard"
	}
	if parsed, err := url.Parse(from); err != nil || parsed.IsAbs() || parsed.Host != "" {
		return "/dashboard"
	}
	return from
}
