// Package jobs holds the background task definitions and the Asynq
// worker that runs them.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDonationConfirm polls the payment provider for a
	// donation's outcome and records it.
	TaskTypeDonationConfirm = "donation:confirm"
	// TaskTypeDonationReceipt sends the donor a receipt email.
	TaskTypeDonationReceipt = "donation:receipt"
)

// DonationConfirmPayload identifies the payment to confirm.
type DonationConfirmPayload struct {
	IntentID    string `json:"intent_id"`
	Email       string `json:"email"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// NewDonationConfirmTask constructs an Asynq task.
func NewDonationConfirmTask(payload DonationConfirmPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDonationConfirm, data), nil
}

// DonationReceiptPayload describes the receipt email to send.
type DonationReceiptPayload struct {
	Email         string `json:"email"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transaction_id"`
}

// NewDonationReceiptTask constructs an Asynq task.
func NewDonationReceiptTask(payload DonationReceiptPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDonationReceipt, data), nil
}
