// Package api is the secured HTTP client for the remote events API. One
// configured client issues every call; an explicit decorator chain
// attaches the session's bearer credential on the way out and turns
// authorization failures into forced session teardown on the way back.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gatherly-app/gatherly/internal/platform/httpx"
)

// ErrSessionTerminated is returned for calls that hit a 401 or 403. The
// session is already torn down when callers see it; they must treat the
// call as failed and not assume partial success.
var ErrSessionTerminated = errors.New("api: session terminated by authorization failure")

// CredentialSource supplies the bearer credential for a session, or ""
// when none is stored.
type CredentialSource interface {
	Token(ctx context.Context, sessionID string) (string, error)
}

// UnauthorizedHook is invoked exactly once per 401/403 response, before
// the call's error is returned.
type UnauthorizedHook func(ctx context.Context, sessionID string)

// Client is the secured API client.
type Client struct {
	baseURL        string
	http           *http.Client
	logger         *slog.Logger
	creds          CredentialSource
	onUnauthorized UnauthorizedHook
}

// Config collects the client's dependencies.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Logger         *slog.Logger
	Credentials    CredentialSource
	OnUnauthorized UnauthorizedHook
}

// New constructs a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           &http.Client{Timeout: timeout},
		logger:         logger,
		creds:          cfg.Credentials,
		onUnauthorized: cfg.OnUnauthorized,
	}
}

// do issues one request for the given session: build, decorate, send,
// check. sessionID may be empty for unauthenticated endpoints.
func (c *Client) do(ctx context.Context, sessionID, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if sessionID != "" {
		if err := c.authorize(ctx, sessionID, req); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", httpx.ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(ctx, sessionID, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", httpx.ErrUpstream, method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// authorize is the request-side decorator: attach the stored bearer
// credential when one exists, otherwise send unauthenticated and let the
// endpoint decide.
func (c *Client) authorize(ctx context.Context, sessionID string, req *http.Request) error {
	token, err := c.creds.Token(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: read credential: %v", httpx.ErrUpstream, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// checkResponse is the response-side decorator: a 401 or 403 forces the
// session out and fails the call with ErrSessionTerminated; any other
// failure maps to a sentinel without touching the session.
func (c *Client) checkResponse(ctx context.Context, sessionID string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if sessionID != "" && c.onUnauthorized != nil {
			c.logger.Warn("authorization failure, terminating session",
				slog.String("session", sessionID),
				slog.Int("status", resp.StatusCode))
			c.onUnauthorized(ctx, sessionID)
		}
		return ErrSessionTerminated
	case resp.StatusCode == http.StatusNotFound:
		return httpx.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return httpx.ErrDuplicate
	default:
		return fmt.Errorf("%w: unexpected status %d", httpx.ErrUpstream, resp.StatusCode)
	}
}
