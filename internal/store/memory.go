package store

import (
	"context"
	"sync"
	"time"

	"pixbot/internal/models"
)

// MemoryStore is an in-memory session store. It backs tests and runs
// without a DATABASE_URL; sessions do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string]*models.Session
	sales  []models.Sale
	nextID uint
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string]*models.Session),
	}
}

func (s *MemoryStore) findBySessionID(sessionID string) *models.Session {
	for _, session := range s.byUser {
		if session.SessionID == sessionID {
			return session
		}
	}
	return nil
}

// FindActive returns a copy of the session for the user key, or nil
func (s *MemoryStore) FindActive(ctx context.Context, userKey string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.byUser[userKey]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

// FindByChargeRef returns a copy of the session holding the charge, or nil
func (s *MemoryStore) FindByChargeRef(ctx context.Context, chargeRef string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.byUser {
		if session.ChargeRef == chargeRef {
			cp := *session
			return &cp, nil
		}
	}
	return nil, nil
}

// Replace swaps in a new session for the user key
func (s *MemoryStore) Replace(ctx context.Context, userKey string, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	cp := *session
	cp.ID = s.nextID
	cp.UpdatedAt = time.Now()
	s.byUser[userKey] = &cp
	session.ID = cp.ID
	return nil
}

// AdvanceStage increments the remarketing stage counter
func (s *MemoryStore) AdvanceStage(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.findBySessionID(sessionID)
	if session == nil {
		return ErrNotFound
	}
	session.Stage++
	session.UpdatedAt = time.Now()
	return nil
}

// MarkSettled transitions a pending session to SETTLED
func (s *MemoryStore) MarkSettled(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.findBySessionID(sessionID)
	if session == nil || session.Status != models.SessionStatusPending {
		return ErrNotFound
	}
	session.Status = models.SessionStatusSettled
	session.UpdatedAt = time.Now()
	return nil
}

// Delete removes the session row
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userKey, session := range s.byUser {
		if session.SessionID == sessionID {
			delete(s.byUser, userKey)
			return nil
		}
	}
	return ErrNotFound
}

// DeleteStalePending removes pending sessions created before the cutoff
func (s *MemoryStore) DeleteStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for userKey, session := range s.byUser {
		if session.Status == models.SessionStatusPending && session.CreatedAt.Before(cutoff) {
			delete(s.byUser, userKey)
			removed++
		}
	}
	return removed, nil
}

// Record appends a sale row
func (s *MemoryStore) Record(ctx context.Context, sale *models.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sale
	cp.ID = uint(len(s.sales) + 1)
	cp.CreatedAt = time.Now()
	s.sales = append(s.sales, cp)
	return nil
}

// Total counts recorded sales
func (s *MemoryStore) Total(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sales)), nil
}
