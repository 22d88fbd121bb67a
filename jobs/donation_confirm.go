package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/payments"
)

// DonationConfirmJob polls the payment provider until a donation's
// payment settles, then records the donation with the events API.
type DonationConfirmJob struct {
	logger   *slog.Logger
	payments *payments.Client
	api      *api.Client
	enqueuer *asynq.Client
}

// NewDonationConfirmJob constructs the job.
func NewDonationConfirmJob(logger *slog.Logger, pay *payments.Client, client *api.Client, enqueuer *asynq.Client) *DonationConfirmJob {
	return &DonationConfirmJob{logger: logger, payments: pay, api: client, enqueuer: enqueuer}
}

// Handle processes TaskTypeDonationConfirm tasks. A pending payment
// returns an error so Asynq retries with backoff; a failed payment is
// final and must not retry.
func (j *DonationConfirmJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DonationConfirmPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	conf, err := j.payments.Confirm(ctx, payload.IntentID)
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			return asynq.SkipRetry
		}
		return fmt.Errorf("confirm %s: %w", payload.IntentID, err)
	}

	switch conf.Status {
	case payments.StatusPending:
		return fmt.Errorf("payment %s still pending", payload.IntentID)
	case payments.StatusFailed:
		j.logger.Warn("payment failed",
			slog.String("intent", payload.IntentID),
			slog.String("email", payload.Email))
		return nil
	}

	// The worker has no browser session; it authenticates the recording
	// call with a freshly exchanged credential for the donor.
	token, err := j.api.ExchangeToken(ctx, payload.Email)
	if err != nil {
		return fmt.Errorf("exchange token for %s: %w", payload.Email, err)
	}
	donation := api.Donation{
		Email:         payload.Email,
		AmountCents:   payload.AmountCents,
		Currency:      payload.Currency,
		TransactionID: conf.TransactionID,
		Status:        conf.Status,
		CreatedAt:     time.Now().UTC(),
	}
	if err := j.api.RecordDonationWithToken(ctx, token, donation); err != nil {
		return fmt.Errorf("record donation %s: %w", conf.TransactionID, err)
	}

	receipt, err := NewDonationReceiptTask(DonationReceiptPayload{
		Email:         payload.Email,
		AmountCents:   payload.AmountCents,
		Currency:      payload.Currency,
		TransactionID: conf.TransactionID,
	})
	if err == nil {
		if _, err := j.enqueuer.Enqueue(receipt, asynq.Queue(QueueDefault)); err != nil {
			j.logger.Warn("enqueue receipt", slog.Any("error", err))
		}
	}
	return nil
}
