// Package audit keeps a best-effort trail of session lifecycle events in
// PostgreSQL. Failures are logged and never block the auth flow.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Trail records sign-in and sign-out events.
type Trail struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewTrail constructs a Trail.
func NewTrail(logger *slog.Logger, pool *pgxpool.Pool) *Trail {
	return &Trail{logger: logger, pool: pool}
}

const insertEvent = `
INSERT INTO session_audit (session_id, email, action, forced, occurred_at)
VALUES ($1, $2, $3, $4, $5)`

// RecordSignIn stores one resolved sign-in.
func (t *Trail) RecordSignIn(ctx context.Context, sessionID, email string) {
	t.record(ctx, sessionID, email, "sign_in", false)
}

// RecordSignOut stores one sign-out, flagged when an authorization
// failure forced it.
func (t *Trail) RecordSignOut(ctx context.Context, sessionID, email string, forced bool) {
	action := "sign_out"
	if forced {
		action = "forced_sign_out"
	}
	t.record(ctx, sessionID, email, action, forced)
}

func (t *Trail) record(ctx context.Context, sessionID, email, action string, forced bool) {
	if t == nil || t.pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := t.pool.Exec(ctx, insertEvent, sessionID, email, action, forced, time.Now().UTC()); err != nil {
		t.logger.Warn("audit record",
			slog.String("action", action),
			slog.String("session", sessionID),
			slog.Any("error", err))
	}
}
