package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/models"
)

// GormStore persists to PostgreSQL through GORM. The database must be
// opened with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open GORM handle
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Models lists every table the store owns, for AutoMigrate
func Models() []interface{} {
	return []interface{}{
		&models.Package{},
		&models.StatusHistoryEntry{},
		&models.Token{},
		&models.ScanEvent{},
	}
}

// CreatePackage inserts a package without history rows
func (s *GormStore) CreatePackage(ctx context.Context, pkg *models.Package) error {
	err := s.db.WithContext(ctx).Omit("History").Create(pkg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Validation("tracking number %s already exists", pkg.TrackingNumber)
	}
	return apperr.Storage("create package", err)
}

// GetPackage loads a package with its ordered history
func (s *GormStore) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	if !isUUID(id) {
		return nil, apperr.ErrNotFound
	}
	return s.findPackage(ctx, "id = ?", id)
}

// GetPackageByTracking loads a package by tracking number
func (s *GormStore) GetPackageByTracking(ctx context.Context, trackingNumber string) (*models.Package, error) {
	return s.findPackage(ctx, "tracking_number = ?", trackingNumber)
}

func (s *GormStore) findPackage(ctx context.Context, query string, arg interface{}) (*models.Package, error) {
	var pkg models.Package
	err := s.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where(query, arg).
		First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage("get package", err)
	}
	return &pkg, nil
}

// UpdateRecipient replaces the recipient with a compare-and-set on version
func (s *GormStore) UpdateRecipient(ctx context.Context, id string, expectedVersion int64, r models.Recipient, at time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Package{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(map[string]interface{}{
				"recipient_name":    r.Name,
				"recipient_address": r.Address,
				"recipient_phone":   r.Phone,
				"recipient_email":   r.Email,
				"version":           gorm.Expr("version + 1"),
				"updated_at":        at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, id)
		}
		return nil
	})
	return apperr.Storage("update recipient", err)
}

// ApplyTransition commits status, history and token consumption together
func (s *GormStore) ApplyTransition(ctx context.Context, c TransitionCommit) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Package{}).
			Where("id = ? AND version = ?", c.PackageID, c.ExpectedVersion).
			Updates(map[string]interface{}{
				"status":     c.Status,
				"version":    gorm.Expr("version + 1"),
				"updated_at": c.At,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return missingOrConflict(tx, c.PackageID)
		}

		entry := c.Entry
		entry.ID = 0
		entry.PackageID = c.PackageID
		if err := tx.Create(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.ErrConcurrencyConflict
			}
			return err
		}

		if c.ConsumeTokenID != "" {
			res := tx.Model(&models.Token{}).
				Where("id = ? AND package_id = ? AND is_active = ?", c.ConsumeTokenID, c.PackageID, true).
				Updates(deactivation(c.ConsumeReason, c.At))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.ErrConcurrencyConflict
			}
		}
		return nil
	})
	return apperr.Storage("apply transition", err)
}

// ActivateToken deactivates the package's current tokens and inserts tok
// in one transaction. The package row is locked so concurrent issuers and
// status commits queue up; the partial unique index catches anything that
// slips through. Terminal packages are refused with ErrConcurrencyConflict.
func (s *GormStore) ActivateToken(ctx context.Context, tok *models.Token, reason string, at time.Time) ([]string, error) {
	var superseded []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pkg models.Package
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			Where("id = ?", tok.PackageID).
			First(&pkg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound
		}
		if err != nil {
			return err
		}
		// Status is re-read under the row lock; the caller's copy may predate
		// a delivering scan
		if pkg.Status.IsTerminal() {
			return fmt.Errorf("%w: package %s is %s", apperr.ErrConcurrencyConflict, pkg.ID, pkg.Status)
		}

		if err := tx.Model(&models.Token{}).
			Where("package_id = ? AND is_active = ?", tok.PackageID, true).
			Pluck("id", &superseded).Error; err != nil {
			return err
		}

		if len(superseded) > 0 {
			if err := tx.Model(&models.Token{}).
				Where("id IN ?", superseded).
				Updates(deactivation(reason, at)).Error; err != nil {
				return err
			}
		}

		tok.IsActive = true
		if err := tx.Create(tok).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.ErrConcurrencyConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		tok.IsActive = false
		return nil, apperr.Storage("activate token", err)
	}
	return superseded, nil
}

// GetToken loads a token by id
func (s *GormStore) GetToken(ctx context.Context, id string) (*models.Token, error) {
	if !isUUID(id) {
		return nil, apperr.ErrNotFound
	}
	var tok models.Token
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage("get token", err)
	}
	return &tok, nil
}

// ActiveToken loads the package's active token
func (s *GormStore) ActiveToken(ctx context.Context, packageID string) (*models.Token, error) {
	if !isUUID(packageID) {
		return nil, apperr.ErrNotFound
	}
	var tok models.Token
	err := s.db.WithContext(ctx).
		Where("package_id = ? AND is_active = ?", packageID, true).
		First(&tok).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Storage("get active token", err)
	}
	return &tok, nil
}

// ListTokens returns the package's tokens oldest first
func (s *GormStore) ListTokens(ctx context.Context, packageID string) ([]models.Token, error) {
	var tokens []models.Token
	err := s.db.WithContext(ctx).
		Where("package_id = ?", packageID).
		Order("issued_at ASC").
		Find(&tokens).Error
	return tokens, apperr.Storage("list tokens", err)
}

// DeactivateToken flips one token inactive; false means it already was
func (s *GormStore) DeactivateToken(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	if !isUUID(id) {
		return false, apperr.ErrNotFound
	}
	res := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(deactivation(reason, at))
	if res.Error != nil {
		return false, apperr.Storage("deactivate token", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Token{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, apperr.Storage("deactivate token", err)
	}
	if count == 0 {
		return false, apperr.ErrNotFound
	}
	return false, nil
}

// DeactivateExpired flips every active token whose expiry has passed
func (s *GormStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Updates(deactivation(models.ReasonExpired, now))
	if res.Error != nil {
		return 0, apperr.Storage("deactivate expired tokens", res.Error)
	}
	return res.RowsAffected, nil
}

// AppendScanEvent inserts one audit record
func (s *GormStore) AppendScanEvent(ctx context.Context, ev *models.ScanEvent) error {
	return apperr.Storage("append scan event", s.db.WithContext(ctx).Create(ev).Error)
}

// ListScanEvents returns a package's scan events oldest first
func (s *GormStore) ListScanEvents(ctx context.Context, packageID string) ([]models.ScanEvent, error) {
	var events []models.ScanEvent
	err := s.db.WithContext(ctx).
		Where("package_id = ?", packageID).
		Order("timestamp ASC").
		Find(&events).Error
	return events, apperr.Storage("list scan events", err)
}

// isUUID guards uuid columns, where Postgres rejects malformed input with
// a cast error instead of returning no rows
func isUUID(id string) bool {
	return uuid.Validate(id) == nil
}

func deactivation(reason string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"is_active":           false,
		"invalidated_at":      at,
		"invalidation_reason": reason,
	}
}

// missingOrConflict tells a zero-row compare-and-set apart
func missingOrConflict(tx *gorm.DB, packageID string) error {
	var count int64
	if err := tx.Model(&models.Package{}).Where("id = ?", packageID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperr.ErrNotFound
	}
	return apperr.ErrConcurrencyConflict
}
