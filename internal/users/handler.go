// Package users serves the profile page and the admin user-management
// dashboard.
package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/platform/httpx"
	"github.com/gatherly-app/gatherly/internal/roles"
	"github.com/gatherly-app/gatherly/internal/session"
)

// Handler wires profile and admin user endpoints.
type Handler struct {
	logger    *slog.Logger
	client    *api.Client
	store     *session.Store
	resolver  *roles.Resolver
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, client *api.Client, store *session.Store, resolver *roles.Resolver) *Handler {
	return &Handler{
		logger:    logger,
		client:    client,
		store:     store,
		resolver:  resolver,
		validator: validator.New(),
	}
}

// MountProtectedRoutes registers routes behind the identity guard.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Get("/profile", h.handleProfile)
	r.Post("/profile", h.handleUpdateProfile)
}

// MountAdminRoutes registers routes behind the admin guard.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/users", h.handleListUsers)
	r.Patch("/users/{id}/role", h.handleSetRole)
	r.Patch("/users/{id}/status", h.handleSetStatus)
	r.Get("/stats", h.handleStats)
	r.Get("/recent-joins", h.handleRecentJoins)
}

type profileForm struct {
	DisplayName string `json:"displayName" validate:"required,min=2"`
	PhotoURL    string `json:"photoURL" validate:"omitempty,url"`
}

type roleForm struct {
	Email string `json:"email" validate:"required,email"`
	Admin bool   `json:"admin"`
}

type statusForm struct {
	Email  string `json:"email" validate:"required,email"`
	Status string `json:"status" validate:"required,oneof=active suspended"`
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())
	snap := h.store.Snapshot(browser.ID)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"identity": snap.Identity,
		"role":     snap.Role,
		"status":   snap.Status,
	})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())

	var form profileForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.store.UpdateProfile(r.Context(), browser.ID, form.DisplayName, form.PhotoURL); err != nil {
		h.logger.Warn("update profile", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Profile Update Failed", "")
		return
	}

	snap := h.store.Snapshot(browser.ID)
	browser.SetIdentity(snap.Identity)
	httpx.JSON(w, http.StatusOK, map[string]any{"identity": snap.Identity})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.client.ListUsers(r.Context(), sessionID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var form roleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.client.UpdateUserRole(r.Context(), sessionID(r), chi.URLParam(r, "id"), form.Admin); err != nil {
		h.respondError(w, err)
		return
	}
	// The changed account must not keep its cached privilege answer.
	h.resolver.Invalidate(r.Context(), form.Email)
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var form statusForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.client.UpdateUserStatus(r.Context(), sessionID(r), chi.URLParam(r, "id"), form.Status); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.client.AdminStats(r.Context(), sessionID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRecentJoins(w http.ResponseWriter, r *http.Request) {
	joins, err := h.client.RecentJoins(r.Context(), sessionID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, joins)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, api.ErrSessionTerminated) {
		httpx.Problem(w, http.StatusUnauthorized, "Session Ended", "sign in again")
		return
	}
	httpx.RespondError(w, err)
}

func sessionID(r *http.Request) string {
	if browser := session.BrowserFromContext(r.Context()); browser != nil {
		return browser.ID
	}
	return ""
}
