// Package events serves the event browsing, management, and
// participation pages. Handlers are thin: they validate input and proxy
// through the secured API client, which owns credential attachment and
// forced logout.
package events

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/platform/httpx"
	"github.com/gatherly-app/gatherly/internal/session"
)

// Handler wires the event endpoints.
type Handler struct {
	logger    *slog.Logger
	client    *api.Client
	store     *session.Store
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, client *api.Client, store *session.Store) *Handler {
	return &Handler{
		logger:    logger,
		client:    client,
		store:     store,
		validator: validator.New(),
	}
}

// MountPublicRoutes registers the routes anyone may browse.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/events", h.handleList)
	r.Get("/events/{id}", h.handleDetail)
	r.Get("/upcoming", h.handleUpcoming)
}

// MountProtectedRoutes registers the routes behind the identity guard.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/events", h.handleCreate)
	r.Patch("/events/{id}", h.handleUpdate)
	r.Delete("/events/{id}", h.handleDelete)
	r.Post("/events/{id}/join", h.handleJoin)
	r.Get("/joined", h.handleJoined)
	r.Get("/manage", h.handleManage)
}

type eventForm struct {
	Title        string    `json:"title" validate:"required,min=3"`
	Description  string    `json:"description" validate:"required,min=10"`
	EventType    string    `json:"eventType" validate:"required,oneof=cleanup plantation donation education health other"`
	Location     string    `json:"location" validate:"required"`
	ThumbnailURL string    `json:"thumbnail" validate:"omitempty,url"`
	EventDate    time.Time `json:"eventDate" validate:"required"`
	FeeCents     int64     `json:"feeCents" validate:"gte=0"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	events, err := h.client.ListEvents(r.Context(), sessionID(r), r.URL.Query().Get("type"), r.URL.Query().Get("search"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	events, err := h.client.UpcomingEvents(r.Context(), sessionID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	event, err := h.client.GetEvent(r.Context(), sessionID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, event)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	email := identityEmail(r, h.store)
	if form.EventDate.Before(time.Now()) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "event date must be in the future")
		return
	}

	created, err := h.client.CreateEvent(r.Context(), sessionID(r), api.EventInput{
		Title:        form.Title,
		Description:  form.Description,
		EventType:    form.EventType,
		Location:     form.Location,
		ThumbnailURL: form.ThumbnailURL,
		EventDate:    form.EventDate,
		CreatorEmail: email,
		FeeCents:     form.FeeCents,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	input := api.EventInput{
		Title:        form.Title,
		Description:  form.Description,
		EventType:    form.EventType,
		Location:     form.Location,
		ThumbnailURL: form.ThumbnailURL,
		EventDate:    form.EventDate,
		CreatorEmail: identityEmail(r, h.store),
		FeeCents:     form.FeeCents,
	}
	if err := h.client.UpdateEvent(r.Context(), sessionID(r), chi.URLParam(r, "id"), input); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.client.DeleteEvent(r.Context(), sessionID(r), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	email := identityEmail(r, h.store)
	if err := h.client.JoinEvent(r.Context(), sessionID(r), chi.URLParam(r, "id"), email); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleJoined(w http.ResponseWriter, r *http.Request) {
	email := identityEmail(r, h.store)
	joined, err := h.client.JoinedEvents(r.Context(), sessionID(r), email)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, joined)
}

// handleManage lists the caller's own events.
func (h *Handler) handleManage(w http.ResponseWriter, r *http.Request) {
	email := identityEmail(r, h.store)
	events, err := h.client.ListEvents(r.Context(), sessionID(r), "", "")
	if err != nil {
		h.respondError(w, err)
		return
	}
	mine := events[:0]
	for _, ev := range events {
		if ev.CreatorEmail == email {
			mine = append(mine, ev)
		}
	}
	httpx.JSON(w, http.StatusOK, mine)
}

func (h *Handler) decodeForm(w http.ResponseWriter, r *http.Request) (eventForm, bool) {
	var form eventForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return form, false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return form, false
	}
	return form, true
}

// respondError treats a terminated session as a redirect-worthy 401; the
// session itself is already torn down by the client's response check.
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

func identityEmail(r *http.Request, store *session.Store) string {
	if browser := session.BrowserFromContext(r.Context()); browser != nil {
		if snap := store.Snapshot(browser.ID); snap.Identity != nil {
			return snap.Identity.Email
		}
	}
	return ""
}
