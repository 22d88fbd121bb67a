package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatherly-app/gatherly/internal/api"
	"github.com/gatherly-app/gatherly/internal/platform/httpx"
	"github.com/gatherly-app/gatherly/internal/session"
	_ "github.com/gatherly-app/gatherly/testing"
)

func newCredentials(t *testing.T) *session.CredentialStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return session.NewCredentialStore(client, time.Hour)
}

func TestClientAttachesStoredBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]api.Event{})
	}))
	defer srv.Close()

	creds := newCredentials(t)
	if err := creds.Set(context.Background(), "sess-1", "jwt-abc"); err != nil {
		t.Fatalf("store credential: %v", err)
	}

	client := api.New(api.Config{BaseURL: srv.URL, Credentials: creds})
	if _, err := client.ListEvents(context.Background(), "sess-1", "", ""); err != nil {
		t.Fatalf("list events: %v", err)
	}
	if gotAuth != "Bearer jwt-abc" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestClientSendsNoHeaderWithoutCredential(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]api.Event{})
	}))
	defer srv.Close()

	client := api.New(api.Config{BaseURL: srv.URL, Credentials: newCredentials(t)})
	if _, err := client.ListEvents(context.Background(), "sess-unknown", "", ""); err != nil {
		t.Fatalf("list events: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected unauthenticated request, got header %q", gotAuth)
	}
}

func TestClientForcesSignOutOnAuthorizationFailure(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		var mu sync.Mutex
		var terminated []string
		client := api.New(api.Config{
			BaseURL:     srv.URL,
			Credentials: newCredentials(t),
			OnUnauthorized: func(ctx context.Context, sessionID string) {
				mu.Lock()
				terminated = append(terminated, sessionID)
				mu.Unlock()
			},
		})

		_, err := client.ListEvents(context.Background(), "sess-2", "", "")
		if !errors.Is(err, api.ErrSessionTerminated) {
			t.Fatalf("status %d: expected ErrSessionTerminated, got %v", status, err)
		}
		mu.Lock()
		if len(terminated) != 1 || terminated[0] != "sess-2" {
			t.Fatalf("status %d: expected one forced sign-out for sess-2, got %v", status, terminated)
		}
		mu.Unlock()
		srv.Close()
	}
}

func TestClientUnauthenticatedCallNeverForcesSignOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var hooked bool
	client := api.New(api.Config{
		BaseURL:     srv.URL,
		Credentials: newCredentials(t),
		OnUnauthorized: func(ctx context.Context, sessionID string) {
			hooked = true
		},
	})

	if _, err := client.ExchangeToken(context.Background(), "user@test.local"); !errors.Is(err, api.ErrSessionTerminated) {
		t.Fatalf("expected terminated error, got %v", err)
	}
	if hooked {
		t.Fatalf("unauthenticated call must not force a session out")
	}
}

func TestClientExchangeTokenRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))
	defer srv.Close()

	client := api.New(api.Config{BaseURL: srv.URL, Credentials: newCredentials(t)})
	if _, err := client.ExchangeToken(context.Background(), "user@test.local"); !errors.Is(err, httpx.ErrUpstream) {
		t.Fatalf("expected upstream error on empty token, got %v", err)
	}
}

func TestClientLookupRoleUsesExplicitToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer explicit-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/users/role/user@test.local" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(session.RoleRecord{Admin: true, Status: "active"})
	}))
	defer srv.Close()

	client := api.New(api.Config{BaseURL: srv.URL, Credentials: newCredentials(t)})
	rec, err := client.LookupRole(context.Background(), "explicit-jwt", "user@test.local")
	if err != nil {
		t.Fatalf("lookup role: %v", err)
	}
	if !rec.Admin {
		t.Fatalf("expected admin record, got %+v", rec)
	}
}

func TestClientMapsStatusesToSentinels(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, httpx.ErrNotFound},
		{http.StatusConflict, httpx.ErrDuplicate},
		{http.StatusBadGateway, httpx.ErrUpstream},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := api.New(api.Config{BaseURL: srv.URL, Credentials: newCredentials(t)})
		_, err := client.GetEvent(context.Background(), "sess-3", "ev-1")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		srv.Close()
	}
}
