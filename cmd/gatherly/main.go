package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/app"
	"github.com/gatherly-app/gatherly/internal/audit"
	"github.com/gatherly-app/gatherly/internal/auth"
	"github.com/gatherly-app/gatherly/internal/donations"
	"github.com/gatherly-app/gatherly/internal/events"
	"github.com/gatherly-app/gatherly/internal/guard"
	"github.com/gatherly-app/gatherly/internal/identity"
	"github.com/gatherly-app/gatherly/internal/observability"
	"github.com/gatherly-app/gatherly/internal/payments"
	"github.com/gatherly-app/gatherly/internal/platform/cache"
	"github.com/gatherly-app/gatherly/internal/platform/db"
	"github.com/gatherly-app/gatherly/internal/roles"
	"github.com/gatherly-app/gatherly/internal/session"
	"github.com/gatherly-app/gatherly/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var auditTrail *audit.Trail
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		auditTrail = audit.NewTrail(logger, pool)
	}

	var provider identity.Provider
	if cfg.IDPBaseURL != "" {
		provider = identity.NewHTTPProvider(identity.HTTPConfig{
			BaseURL: cfg.IDPBaseURL,
			APIKey:  cfg.IDPAPIKey,
			Timeout: cfg.IDPTimeout,
		})
	} else {
		logger.Warn("no identity provider configured, using in-process accounts")
		provider = identity.NewDevProvider()
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("provider close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	credentials := session.NewCredentialStore(redisClient, cfg.SessionTTL)

	// The API client and the session store reference each other: the store
	// resolves roles through the client, and an authorization failure on
	// the client forces the session out through the store.
	var store *session.Store
	apiClient := api.New(api.Config{
		BaseURL:     cfg.APIBaseURL,
		Timeout:     cfg.APITimeout,
		Logger:      logger,
		Credentials: credentials,
		OnUnauthorized: func(ctx context.Context, sessionID string) {
			metrics.ForcedLogout()
			store.ForceSignOut(ctx, sessionID)
		},
	})

	store = session.NewStore(session.StoreConfig{
		Logger:         logger,
		Provider:       provider,
		Credentials:    credentials,
		Backend:        apiClient,
		Audit:          auditTrail,
		ResolveTimeout: cfg.ResolveTimeout,
	})

	resolver := roles.NewResolver(roles.Config{
		Logger:      logger,
		Store:       store,
		Credentials: credentials,
		Backend:     apiClient,
		Cache:       redisClient,
		TTL:         cfg.RoleCacheTTL,
		Metrics:     metrics,
	})

	sessionManager := session.NewManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	routeGuard := guard.New(logger, store, resolver, cfg.ResolveTimeout)

	var google *auth.GoogleOAuth
	if cfg.GoogleClientID != "" {
		google = auth.NewGoogleOAuth(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.PublicBaseURL, redisClient)
	}

	var notifier auth.Notifier
	if hp, ok := provider.(*identity.HTTPProvider); ok {
		notifier = hp
	}

	enqueuer := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	payClient := payments.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey)

	authHandler := auth.NewHandler(logger, store, apiClient, google, notifier, cfg.IDPHookSecret)
	eventHandler := events.NewHandler(logger, apiClient, store)
	userHandler := users.NewHandler(logger, apiClient, store, resolver)
	donationHandler := donations.NewHandler(logger, apiClient, store, payClient, enqueuer)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		Guard:           routeGuard,
		AuthHandler:     authHandler,
		EventHandler:    eventHandler,
		UserHandler:     userHandler,
		DonationHandler: donationHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return store.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("runtime", slog.Any("error", err))
		os.Exit(1)
	}
}
