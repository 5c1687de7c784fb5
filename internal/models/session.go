package models

import (
	"time"
)

// SessionStatus represents the state of a payment session
type SessionStatus string

const (
	SessionStatusPending SessionStatus = "PENDING"
	SessionStatusSettled SessionStatus = "SETTLED"
)

// Session is the persisted charge record linking a buyer to their
// in-flight payment intent. The unique index on UserKey enforces at
// most one row per buyer; creating a new session for the same buyer
// replaces the old row.
//
// No soft delete here: the unique index must free up the moment a
// session is deleted or replaced.
type Session struct {
	ID         uint          `gorm:"primaryKey" json:"id"`
	SessionID  string        `gorm:"type:varchar(100);index" json:"session_id"`
	UserKey    string        `gorm:"type:varchar(64);uniqueIndex" json:"user_key"`
	ChargeRef  string        `gorm:"type:varchar(100);index" json:"charge_ref"`
	BuyerLabel string        `gorm:"type:varchar(255)" json:"buyer_label"`
	Status     SessionStatus `gorm:"type:varchar(20);default:'PENDING'" json:"status"`
	Stage      int           `json:"stage"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Sale is the append-only settlement record written when a session is
// finalized. Rows are never updated or deleted; the table doubles as
// the durable sales counter.
type Sale struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserKey     string    `gorm:"type:varchar(64);index" json:"user_key"`
	SessionID   string    `gorm:"type:varchar(100)" json:"session_id"`
	ChargeRef   string    `gorm:"type:varchar(100)" json:"charge_ref"`
	BuyerLabel  string    `gorm:"type:varchar(255)" json:"buyer_label"`
	AmountCents int64     `json:"amount_cents"`
	SettledAt   time.Time `json:"settled_at"`
	CreatedAt   time.Time `json:"created_at"`
}
