package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/app"
	"github.com/gatherly-app/gatherly/internal/payments"
	"github.com/gatherly-app/gatherly/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	enqueuer := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	apiClient := api.New(api.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Logger:  logger,
	})
	payClient := payments.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey)

	confirmJob := jobs.NewDonationConfirmJob(logger, payClient, apiClient, enqueuer)

	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeDonationConfirm, Handler: confirmJob.Handle},
		},
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down worker")
		worker.Shutdown()
	}()

	if err := worker.Run(); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
