package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// HandleDonationReceiptTask processes TaskTypeDonationReceipt tasks.
// TODO: deliver through SMTP once the mail relay is provisioned; for
// now the receipt is only logged.
func HandleDonationReceiptTask(ctx context.Context, t *asynq.Task) error {
	var payload DonationReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	amount := payload.Currency
	if unit, err := currency.ParseISO(payload.Currency); err == nil {
		p := message.NewPrinter(language.English)
		amount = p.Sprintf("%v", unit.Amount(float64(payload.AmountCents)/100))
	}
	slog.Info("donation receipt",
		slog.String("to", payload.Email),
		slog.String("amount", amount),
		slog.String("transaction", payload.TransactionID))
	return nil
}
