package models

import (
	"time"
)

// Token is an issued, time-bounded, revocable credential carrying a
// package's sealed delivery payload. Tokens are never deleted.
type Token struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	PackageID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tokens_single_active,where:is_active = true" json:"packageId"`

	// Envelope fields
	EnvelopeVersion int    `gorm:"not null" json:"envelopeVersion"`
	KeyID           string `gorm:"not null;index" json:"keyId"`
	IV              []byte `gorm:"type:bytea;not null" json:"-"`
	Ciphertext      []byte `gorm:"type:bytea;not null" json:"-"`
	AuthTag         []byte `gorm:"type:bytea;not null" json:"-"`

	IssuedAt           time.Time  `gorm:"not null" json:"issuedAt"`
	ExpiresAt          time.Time  `gorm:"not null;index" json:"expiresAt"`
	IsActive           bool       `gorm:"not null" json:"isActive"`
	InvalidatedAt      *time.Time `json:"invalidatedAt,omitempty"`
	InvalidationReason string     `json:"invalidationReason,omitempty"`
}

func (Token) TableName() string { return "package_tokens" }

// Token invalidation reasons
const (
	ReasonSuperseded = "superseded" // A newer token was issued
	ReasonRotated    = "rotated"    // Explicit rotation (PII edit, suspected compromise)
	ReasonConsumed   = "consumed"   // A scan moved the package into a terminal status
	ReasonTerminal   = "terminal"   // An admin moved the package into a terminal status
	ReasonExpired    = "expired"    // Flipped by the reaper
	ReasonRevoked    = "revoked"    // Manual invalidation
)
