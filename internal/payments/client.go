// Package payments integrates the external card-payment provider. Only
// intent creation and confirmation polling live here; card entry happens
// in the provider's embedded widget, never in this application.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Confirmation statuses reported by the provider.
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// ErrNotConfigured is returned when no payment provider is wired.
var ErrNotConfigured = errors.New("payments: provider not configured")

// Intent is a created payment the widget can collect against.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// Confirmation is the provider's final word on a payment.
type Confirmation struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Client talks to the payment provider's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient constructs a Client. Returns nil when baseURL is empty,
// which disables the donation payment flow.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateIntent registers a payment of amountCents with the provider.
func (c *Client) CreateIntent(ctx context.Context, amountCents int64, currency, email string) (*Intent, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	payload, err := json.Marshal(map[string]any{
		"amount":        amountCents,
		"currency":      currency,
		"receipt_email": email,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: create intent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payments: create intent returned %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("payments: decode intent: %w", err)
	}
	return &intent, nil
}

// Confirm asks the provider for the payment's outcome. Pending is not an
// error; callers poll until the status settles.
func (c *Client) Confirm(ctx context.Context, intentID string) (*Confirmation, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment_intents/"+intentID+"/confirm", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: confirm: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payments: confirm returned %d", resp.StatusCode)
	}

	var conf Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return nil, fmt.Errorf("payments: decode confirmation: %w", err)
	}
	return &conf, nil
}
