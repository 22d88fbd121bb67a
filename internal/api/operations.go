package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gatherly-app/gatherly/internal/platform/httpx"
	"github.com/gatherly-app/gatherly/internal/session"
)

// ExchangeToken trades an identity's email for a bearer credential.
// Unauthenticated: it is the call that obtains the credential.
func (c *Client) ExchangeToken(ctx context.Context, email string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, "", http.MethodPost, "/api/jwt", map[string]string{"email": email}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: jwt exchange returned empty token", httpx.ErrUpstream)
	}
	return out.Token, nil
}

// LookupRole fetches the role record for an email using an explicit
// bearer token, so the session store can look up before the credential
// is readable through the session path.
func (c *Client) LookupRole(ctx context.Context, token, email string) (*session.RoleRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/users/role/"+url.PathEscape(email), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: role lookup: %v", httpx.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: role lookup returned %d", httpx.ErrUpstream, resp.StatusCode)
	}

	var rec session.RoleRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode role lookup: %v", httpx.ErrUpstream, err)
	}
	return &rec, nil
}

// RegisterUser creates the profile row for a newly registered identity.
func (c *Client) RegisterUser(ctx context.Context, sessionID string, profile UserProfile) error {
	return c.do(ctx, sessionID, http.MethodPost, "/api/users", profile, nil)
}

// ListEvents returns events, optionally filtered by type and search term.
func (c *Client) ListEvents(ctx context.Context, sessionID, eventType, search string) ([]Event, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if search != "" {
		q.Set("search", search)
	}
	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Event
	if err := c.do(ctx, sessionID, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpcomingEvents returns events whose date is still ahead.
func (c *Client) UpcomingEvents(ctx context.Context, sessionID string) ([]Event, error) {
	var out []Event
	if err := c.do(ctx, sessionID, http.MethodGet, "/api/events?upcoming=true", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEvent returns one event by ID.
func (c *Client) GetEvent(ctx context.Context, sessionID, id string) (*Event, error) {
	var out Event
	if err := c.do(ctx, sessionID, http.MethodGet, "/api/events/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateEvent creates an event.
func (c *Client) CreateEvent(ctx context.Context, sessionID string, input EventInput) (*Event, error) {
	var out Event
	if err := c.do(ctx, sessionID, http.MethodPost, "/api/events", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateEvent patches an event.
func (c *Client) UpdateEvent(ctx context.Context, sessionID, id string, input EventInput) error {
	return c.do(ctx, sessionID, http.MethodPatch, "/api/events/"+url.PathEscape(id), input, nil)
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, sessionID, id string) error {
	return c.do(ctx, sessionID, http.MethodDelete, "/api/events/"+url.PathEscape(id), nil, nil)
}

// JoinEvent registers the participant for an event.
func (c *Client) JoinEvent(ctx context.Context, sessionID, eventID, email string) error {
	payload := map[string]string{"eventId": eventID, "email": email}
	return c.do(ctx, sessionID, http.MethodPost, "/api/join-event", payload, nil)
}

// JoinedEvents lists the events a participant has joined.
func (c *Client) JoinedEvents(ctx context.Context, sessionID, email string) ([]JoinedEvent, error) {
	var out []JoinedEvent
	if err := c.do(ctx, sessionID, http.MethodGet, "/api/joined-events/"+url.PathEscape(email), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDonations returns all donations (admin view).
func (c *Client) ListDonations(ctx context.Context, sessionID string) ([]Donation, error) {
	var out []Donation
	if err := c.do(ctx, sessionID, http.MethodGet, "/api/donations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordDonation persists a confirmed donation.
func (c *Client) RecordDonation(ctx context.Context, sessionID string, donation Donation) error {
	return c.do(ctx, sessionID, http.MethodPost, "/api/donations", donation, nil)
}

// RecordDonationWithToken persists a donation with an explicit bearer
// token, used by the worker which has no browser session.
func (c *Client) RecordDonationWithToken(ctx context.Context, token string, donation Donation) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/donations", donation)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: record donation: %v", httpx.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: record donation returned %d", httpx.ErrUpstream, resp.StatusCode)
	}
	return nil
}

// ListUsers returns every profile row (admin view).
func (c *Client) ListUsers(ctx context.Context, sessionID string) ([]UserRecord, error) {
	var out []UserRecord
	if err := c.do(ctx, sessionID, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateUserRole promotes or demotes a user's admin flag.
func (c *Client) UpdateUserRole(ctx context.Context, sessionID, userID string, admin bool) error {
	payload := map[string]any{"admin": admin}
	return c.do(ctx, sessionID, http.MethodPatch, "/api/users/"+url.PathEscape(userID), payload, nil)
}

// UpdateUserStatus suspends or reactivates an account.
func (c *Client) UpdateUserStatus(ctx context.Context, sessionID, userID, status string) error {
	payload := map[string]any{"status": status}
	return c.do(ctx, sessionID, http.MethodPatch, "/api/users/"+url.PathEscape(userID), payload, nil)
}

// AdminStats returns the dashboard summary.
func (c *Client) AdminStats(ctx context.Context, sessionID string) (*AdminStats, error) {
	var out AdminStats
	if err := c.do(ctx, sessionID, http.MethodGet, "/api/admin-stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentJoins returns the latest participations feed.
func (c *Client) RecentJoins(ctx context.Context, sessionID string) ([]RecentJoin, error) {
	var out []RecentJoin
	if err := c.do(ctx, sessionID, http.MethodGet, "/api/recent-joins", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
