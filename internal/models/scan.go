package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScanOutcome classifies a verification attempt
type ScanOutcome string

// Scan outcome constants
const (
	OutcomeAuthorized       ScanOutcome = "authorized"
	OutcomeTampered         ScanOutcome = "tampered"
	OutcomeExpired          ScanOutcome = "expired"
	OutcomeInactive         ScanOutcome = "inactive"
	OutcomeUnauthorizedRole ScanOutcome = "unauthorized_role"
	OutcomeError            ScanOutcome = "error" // Storage failed mid-scan
)

// ScanEvent is the append-only audit record of one scan attempt.
// TokenID and PackageID stay empty when the envelope never decoded.
type ScanEvent struct {
	ID             string            `gorm:"primaryKey;type:uuid" json:"id"`
	TokenID        string            `gorm:"index" json:"tokenId,omitempty"`
	PackageID      string            `gorm:"index" json:"packageId,omitempty"`
	ScannerID      string            `gorm:"not null;index" json:"scannerId"`
	ScannerRole    Role              `gorm:"not null" json:"scannerRole"`
	Outcome        ScanOutcome       `gorm:"not null;index" json:"outcome"`
	Reason         string            `gorm:"type:text" json:"reason,omitempty"` // Internal detail, never sent to the scanner
	TransitionTo   PackageStatus     `json:"transitionTo,omitempty"`
	Transitioned   bool              `gorm:"not null" json:"transitioned"`
	EnvelopeDigest string            `gorm:"index" json:"envelopeDigest,omitempty"`
	Location       datatypes.JSONMap `gorm:"type:jsonb" json:"location,omitempty"`
	Timestamp      time.Time         `gorm:"not null;index" json:"timestamp"`
}

func (ScanEvent) TableName() string { return "scan_events" }
