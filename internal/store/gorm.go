package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"pixbot/internal/models"
)

// GormStore is the Postgres-backed session store
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// FindActive returns the session for a user key, or nil when none exists
func (s *GormStore) FindActive(ctx context.Context, userKey string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where("user_key = ?", userKey).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// FindByChargeRef returns the session holding a gateway charge, or nil
func (s *GormStore) FindByChargeRef(ctx context.Context, chargeRef string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where("charge_ref = ?", chargeRef).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// Replace atomically swaps in a new session for the user key. The
// delete and insert run in one transaction so no other writer for the
// same key can interleave.
func (s *GormStore) Replace(ctx context.Context, userKey string, session *models.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_key = ?", userKey).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		return tx.Create(session).Error
	})
}

// AdvanceStage increments the remarketing stage counter
func (s *GormStore) AdvanceStage(ctx context.Context, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		UpdateColumn("stage", gorm.Expr("stage + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSettled transitions a pending session to SETTLED
func (s *GormStore) MarkSettled(ctx context.Context, sessionID string) error {
	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND status = ?", sessionID, models.SessionStatusPending).
		Update("status", models.SessionStatusSettled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the session row
func (s *GormStore) Delete(ctx context.Context, sessionID string) error {
	res := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStalePending removes pending sessions created before the cutoff
func (s *GormStore) DeleteStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.SessionStatusPending, cutoff).
		Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// Record appends a sale row
func (s *GormStore) Record(ctx context.Context, sale *models.Sale) error {
	return s.db.WithContext(ctx).Create(sale).Error
}

// Total counts recorded sales
func (s *GormStore) Total(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Sale{}).Count(&n).Error
	return n, err
}
