package store

import (
	"context"
	"errors"
	"time"

	"pixbot/internal/models"
)

// ErrNotFound is returned by mutations whose target row is absent.
// Callers treat it as a benign race: another flow already finalized
// or replaced the session.
var ErrNotFound = errors.New("session not found")

// SessionStore persists payment sessions and enforces the
// one-active-session-per-user invariant. All mutations are keyed by
// SessionID so a stale caller cannot touch a replacement session.
type SessionStore interface {
	// FindActive returns the session for the user key, or nil when none exists.
	FindActive(ctx context.Context, userKey string) (*models.Session, error)
	// FindByChargeRef returns the session holding the gateway charge, or nil.
	FindByChargeRef(ctx context.Context, chargeRef string) (*models.Session, error)
	// Replace atomically removes any session for the user key and inserts s.
	Replace(ctx context.Context, userKey string, s *models.Session) error
	// AdvanceStage increments the remarketing stage counter.
	AdvanceStage(ctx context.Context, sessionID string) error
	// MarkSettled transitions the session to SETTLED.
	MarkSettled(ctx context.Context, sessionID string) error
	// Delete removes the session row.
	Delete(ctx context.Context, sessionID string) error
	// DeleteStalePending removes PENDING sessions created before the cutoff,
	// freeing their user keys. Returns the number of rows removed.
	DeleteStalePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// SaleLog records settled purchases append-only
type SaleLog interface {
	Record(ctx context.Context, sale *models.Sale) error
	Total(ctx context.Context) (int64, error)
}
