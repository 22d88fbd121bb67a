package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/gatherly-app/gatherly/testing"
)

func TestNilClientIsNotConfigured(t *testing.T) {
	client := NewClient("", "")
	require.Nil(t, client)

	_, err := client.CreateIntent(context.Background(), 500, "USD", "a@b.c")
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = client.Confirm(context.Background(), "pi_1")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 2500, body["amount"])
		require.Equal(t, "USD", body["currency"])

		_ = json.NewEncoder(w).Encode(Intent{
			ID:           "pi_123",
			ClientSecret: "pi_123_secret",
			AmountCents:  2500,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	intent, err := client.CreateIntent(context.Background(), 2500, "USD", "donor@test.local")
	require.NoError(t, err)
	require.Equal(t, "pi_123", intent.ID)
	require.Equal(t, "pi_123_secret", intent.ClientSecret)
}

func TestConfirmStatuses(t *testing.T) {
	for _, status := range []string{StatusSucceeded, StatusPending, StatusFailed} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/payment_intents/pi_9/confirm", r.URL.Path)
			_ = json.NewEncoder(w).Encode(Confirmation{TransactionID: "tx_9", Status: status})
		}))

		client := NewClient(srv.URL, "sk_test")
		conf, err := client.Confirm(context.Background(), "pi_9")
		require.NoError(t, err)
		require.Equal(t, status, conf.Status)
		require.Equal(t, "tx_9", conf.TransactionID)
		srv.Close()
	}
}

func TestConfirmUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sk_test")
	_, err := client.Confirm(context.Background(), "pi_9")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotConfigured))
}
