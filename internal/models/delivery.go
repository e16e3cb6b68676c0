package models

import (
	"time"
)

// PackageStatus is the delivery state of a package
type PackageStatus string

// Package status constants
const (
	StatusCreated        PackageStatus = "created"          // Intake done, not yet handed to a carrier
	StatusInTransit      PackageStatus = "in_transit"       // Moving between facilities
	StatusOutForDelivery PackageStatus = "out_for_delivery" // On the last-mile vehicle
	StatusDelivered      PackageStatus = "delivered"        // Handed to the recipient
	StatusFailed         PackageStatus = "failed"           // Delivery attempt failed
	StatusReturned       PackageStatus = "returned"         // Sent back to sender
	StatusCancelled      PackageStatus = "cancelled"        // Cancelled by an admin
)

// AllStatuses lists every known status in lifecycle order
var AllStatuses = []PackageStatus{
	StatusCreated,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusFailed,
	StatusReturned,
	StatusCancelled,
}

// Valid reports whether s is a known status
func (s PackageStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no normal transition leaves s
func (s PackageStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusReturned || s == StatusCancelled
}

// History actions
const (
	HistoryActionTransition    = "transition"
	HistoryActionAdminOverride = "admin_override"
)

// StatusHistoryEntry is one append-only record of a status change
type StatusHistoryEntry struct {
	ID             int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PackageID      string        `gorm:"type:uuid;not null;uniqueIndex:idx_history_package_seq" json:"packageId"`
	Seq            int           `gorm:"not null;uniqueIndex:idx_history_package_seq" json:"seq"`
	Status         PackageStatus `gorm:"not null" json:"status"`
	PreviousStatus PackageStatus `gorm:"not null" json:"previousStatus"`
	Action         string        `gorm:"not null;default:transition" json:"action"`
	ActorID        string        `gorm:"not null" json:"actorId"`
	ActorRole      Role          `json:"actorRole"`
	Note           string        `gorm:"type:text" json:"note,omitempty"`
	Timestamp      time.Time     `gorm:"not null" json:"timestamp"`
}

func (StatusHistoryEntry) TableName() string { return "package_status_history" }
