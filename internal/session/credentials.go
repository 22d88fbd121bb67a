package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CredentialStore keeps one opaque bearer token per browser session, the
// server-side stand-in for the SPA's local-storage slot. Absence is a
// valid unauthenticated state. The token's internal structure is never
// interpreted here.
type CredentialStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(client *redis.Client, ttl time.Duration) *CredentialStore {
	return &CredentialStore{client: client, ttl: ttl}
}

// Token returns the bearer credential for the session, or "" when none
// is stored.
func (s *CredentialStore) Token(ctx context.Context, sessionID string) (string, error) {
	token, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

// Set stores the bearer credential. Callers must store before marking
// the session settled so no ready session is missing its credential.
func (s *CredentialStore) Set(ctx context.Context, sessionID, token string) error {
	return s.client.Set(ctx, s.key(sessionID), token, s.ttl).Err()
}

// Delete removes the credential. Callers must clear before marking the
// session signed out so a stale token is never attached.
func (s *CredentialStore) Delete(ctx context.Context, sessionID string) error {
	err := s.client.Del(ctx, s.key(sessionID)).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (s *CredentialStore) key(sessionID string) string {
	return "credential:" + sessionID
}
