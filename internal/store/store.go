// Package store is the persistence collaborator for packages, tokens and
// scan events. Implementations report missing rows as apperr.ErrNotFound,
// lost compare-and-set races as apperr.ErrConcurrencyConflict and every
// other failure wrapped in apperr.ErrStorageUnavailable. They never retry.
package store

import (
	"context"
	"time"

	"github.com/xelth-com/parcelseal/internal/models"
)

// TransitionCommit is one atomic status change: the package status and
// version bump, the new history entry and, optionally, consumption of the
// token that authorized it.
type TransitionCommit struct {
	PackageID       string
	ExpectedVersion int64
	Status          models.PackageStatus
	Entry           models.StatusHistoryEntry

	// ConsumeTokenID, when set, must still be active or the whole commit
	// fails with ErrConcurrencyConflict.
	ConsumeTokenID string
	ConsumeReason  string

	At time.Time
}

// PackageStore persists packages and their status history
type PackageStore interface {
	CreatePackage(ctx context.Context, pkg *models.Package) error
	GetPackage(ctx context.Context, id string) (*models.Package, error)
	GetPackageByTracking(ctx context.Context, trackingNumber string) (*models.Package, error)
	UpdateRecipient(ctx context.Context, id string, expectedVersion int64, recipient models.Recipient, at time.Time) error
	ApplyTransition(ctx context.Context, commit TransitionCommit) error
}

// TokenStore persists tokens. ActivateToken is the only way a token
// becomes active and it deactivates every other token of the package in
// the same atomic step.
type TokenStore interface {
	ActivateToken(ctx context.Context, tok *models.Token, reason string, at time.Time) (superseded []string, err error)
	GetToken(ctx context.Context, id string) (*models.Token, error)
	ActiveToken(ctx context.Context, packageID string) (*models.Token, error)
	ListTokens(ctx context.Context, packageID string) ([]models.Token, error)
	DeactivateToken(ctx context.Context, id, reason string, at time.Time) (changed bool, err error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// ScanEventStore is the append-only scan audit trail
type ScanEventStore interface {
	AppendScanEvent(ctx context.Context, ev *models.ScanEvent) error
	ListScanEvents(ctx context.Context, packageID string) ([]models.ScanEvent, error)
}

// Store is the full persistence surface
type Store interface {
	PackageStore
	TokenStore
	ScanEventStore
}
