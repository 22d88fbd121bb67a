package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatherly-app/gatherly/internal/auth"
	"github.com/gatherly-app/gatherly/internal/donations"
	"github.com/gatherly-app/gatherly/internal/events"
	"github.com/gatherly-app/gatherly/internal/guard"
	"github.com/gatherly-app/gatherly/internal/observability"
	"github.com/gatherly-app/gatherly/internal/session"
	"github.com/gatherly-app/gatherly/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *session.Manager
	Guard           *guard.Guard
	AuthHandler     *auth.Handler
	EventHandler    *events.Handler
	UserHandler     *users.Handler
	DonationHandler *donations.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with Gatherly defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	params.AuthHandler.MountRoutes(r)
	params.EventHandler.MountPublicRoutes(r)

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(params.Guard.RequireIdentity)
		params.EventHandler.MountProtectedRoutes(r)
		params.UserHandler.MountProtectedRoutes(r)
		params.DonationHandler.MountProtectedRoutes(r)

		r.Route("/admin", func(r chi.Router) {
			r.Use(params.Guard.RequireAdmin)
			params.UserHandler.MountAdminRoutes(r)
			params.DonationHandler.MountAdminRoutes(r)
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
