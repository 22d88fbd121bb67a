// Package donations serves the donation flow: the user starts a payment
// through the provider widget, and a background task confirms it and
// records the donation. The session flow never waits on the provider.
package donations

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/payments"
	"github.com/gatherly-app/gatherly/internal/platform/httpx"
	"github.com/gatherly-app/gatherly/internal/session"
	"github.com/gatherly-app/gatherly/jobs"
)

// Handler wires donation endpoints.
type Handler struct {
	logger    *slog.Logger
	client    *api.Client
	store     *session.Store
	payments  *payments.Client
	enqueuer  *asynq.Client
	validator *validator.Validate
}

// NewHandler constructs a Handler. payments and enqueuer may be nil in
// development; starting a donation then fails with 503 instead of
// breaking the rest of the app.
func NewHandler(logger *slog.Logger, client *api.Client, store *session.Store, pay *payments.Client, enqueuer *asynq.Client) *Handler {
	return &Handler{
		logger:    logger,
		client:    client,
		store:     store,
		payments:  pay,
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

// MountProtectedRoutes registers routes behind the identity guard.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/donations", h.handleDonate)
}

// MountAdminRoutes registers routes behind the admin guard.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/donations", h.handleList)
}

type donationForm struct {
	AmountCents int64  `json:"amountCents" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,len=3"`
}

func (h *Handler) handleDonate(w http.ResponseWriter, r *http.Request) {
	var form donationForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	unit, err := currency.ParseISO(form.Currency)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown currency code")
		return
	}

	browser := session.BrowserFromContext(r.Context())
	snap := h.store.Snapshot(browser.ID)
	if snap.Identity == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	intent, err := h.payments.CreateIntent(r.Context(), form.AmountCents, unit.String(), snap.Identity.Email)
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			httpx.Problem(w, http.StatusServiceUnavailable, "Payments Unavailable", "")
			return
		}
		h.logger.Error("create payment intent", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Payment Provider Failure", "")
		return
	}

	task, err := jobs.NewDonationConfirmTask(jobs.DonationConfirmPayload{
		IntentID:    intent.ID,
		Email:       snap.Identity.Email,
		AmountCents: form.AmountCents,
		Currency:    unit.String(),
	})
	if err == nil {
		_, err = h.enqueuer.Enqueue(task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(10))
	}
	if err != nil {
		h.logger.Error("enqueue donation confirmation", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"intentId":     intent.ID,
		"clientSecret": intent.ClientSecret,
		"amount":       formatAmount(unit, form.AmountCents),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	browser := session.BrowserFromContext(r.Context())
	list, err := h.client.ListDonations(r.Context(), browser.ID)
	if err != nil {
		if errors.Is(err, api.ErrSessionTerminated) {
			httpx.Problem(w, http.StatusUnauthorized, "Session Ended", "sign in again")
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

// formatAmount renders minor units as a localized currency string.
func formatAmount(unit currency.Unit, cents int64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("%v", unit.Amount(float64(cents)/100))
}
