// Package parcel is the package intake and administration path around the
// token core: creating packages, editing recipients and moving status
// outside of a scan.
package parcel

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/metrics"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/notify"
	"github.com/xelth-com/parcelseal/internal/status"
	"github.com/xelth-com/parcelseal/internal/store"
	"github.com/xelth-com/parcelseal/internal/tokens"
)

// trackingPattern is PREFIX-YYYYMMDD-XXXXX, e.g. CS-20240101-ABCDE
var trackingPattern = regexp.MustCompile(`^[A-Z]{2}-(\d{8})-[A-Z0-9]{5}$`)

const trackingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultTrackingPrefix is used when intake generates a tracking number
const DefaultTrackingPrefix = "CS"

// IntakeRequest describes a new package. An empty TrackingNumber is
// generated.
type IntakeRequest struct {
	TrackingNumber string           `json:"trackingNumber"`
	Recipient      models.Recipient `json:"recipient"`
}

// Service manages packages
type Service struct {
	store     store.PackageStore
	tokens    *tokens.Manager
	publisher notify.Publisher

	// NowFunc is the clock; defaults to time.Now
	NowFunc func() time.Time
}

// NewService creates the package service. A nil publisher drops events.
func NewService(s store.PackageStore, tm *tokens.Manager, publisher notify.Publisher) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		store:     s,
		tokens:    tm,
		publisher: publisher,
		NowFunc:   time.Now,
	}
}

// ValidateTrackingNumber checks the format and the embedded date
func ValidateTrackingNumber(tn string) error {
	m := trackingPattern.FindStringSubmatch(tn)
	if m == nil {
		return apperr.Validation("tracking number %q must look like CS-20240101-ABCDE", tn)
	}
	if _, err := time.Parse("20060102", m[1]); err != nil {
		return apperr.Validation("tracking number %q has an invalid date", tn)
	}
	return nil
}

// GenerateTrackingNumber builds a random tracking number for the given day
func GenerateTrackingNumber(prefix string, day time.Time) (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate tracking number: %w", err)
	}
	for i, b := range buf {
		buf[i] = trackingAlphabet[int(b)%len(trackingAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, day.UTC().Format("20060102"), buf), nil
}

// ValidateRecipient checks the fields needed to deliver
func ValidateRecipient(r models.Recipient) error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.Validation("recipient name is required")
	}
	if strings.TrimSpace(r.Address) == "" {
		return apperr.Validation("recipient address is required")
	}
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return apperr.Validation("recipient email %q is invalid", r.Email)
		}
	}
	return nil
}

func normalizeRecipient(r models.Recipient) models.Recipient {
	return models.Recipient{
		Name:    strings.TrimSpace(r.Name),
		Address: strings.TrimSpace(r.Address),
		Phone:   strings.TrimSpace(r.Phone),
		Email:   strings.TrimSpace(r.Email),
	}
}

func requireRole(actor models.Identity, roles ...models.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return apperr.ErrUnauthorizedRole
}

// Intake creates a package in Created status and issues its first token
func (s *Service) Intake(ctx context.Context, actor models.Identity, req IntakeRequest) (*models.Package, *models.Token, error) {
	if err := requireRole(actor, models.RoleAdmin, models.RoleDispatcher); err != nil {
		return nil, nil, err
	}

	now := s.NowFunc().UTC()
	tn := strings.ToUpper(strings.TrimSpace(req.TrackingNumber))
	if tn == "" {
		generated, err := GenerateTrackingNumber(DefaultTrackingPrefix, now)
		if err != nil {
			return nil, nil, err
		}
		tn = generated
	} else if err := ValidateTrackingNumber(tn); err != nil {
		return nil, nil, err
	}

	recipient := normalizeRecipient(req.Recipient)
	if err := ValidateRecipient(recipient); err != nil {
		return nil, nil, err
	}

	pkg := &models.Package{
		ID:             uuid.NewString(),
		TrackingNumber: tn,
		Status:         models.StatusCreated,
		Recipient:      recipient,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreatePackage(ctx, pkg); err != nil {
		return nil, nil, err
	}
	log.Printf("📦 Parcel: intake %s by %s", pkg.TrackingNumber, actor.SubjectID)

	tok, err := s.tokens.Issue(ctx, pkg)
	if err != nil {
		return pkg, nil, fmt.Errorf("package %s created but token issuance failed: %w", pkg.TrackingNumber, err)
	}
	return pkg, tok, nil
}

// Get loads a package
func (s *Service) Get(ctx context.Context, id string) (*models.Package, error) {
	return s.store.GetPackage(ctx, id)
}

// GetByTracking loads a package by tracking number
func (s *Service) GetByTracking(ctx context.Context, trackingNumber string) (*models.Package, error) {
	return s.store.GetPackageByTracking(ctx, strings.ToUpper(strings.TrimSpace(trackingNumber)))
}

// UpdateRecipient replaces the recipient and rotates the token, so codes
// printed with the old details stop working. The old token is invalidated
// before anything else changes.
func (s *Service) UpdateRecipient(ctx context.Context, actor models.Identity, packageID string, recipient models.Recipient) (*models.Package, *models.Token, error) {
	if err := requireRole(actor, models.RoleAdmin, models.RoleDispatcher); err != nil {
		return nil, nil, err
	}
	recipient = normalizeRecipient(recipient)
	if err := ValidateRecipient(recipient); err != nil {
		return nil, nil, err
	}

	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	if pkg.Status.IsTerminal() {
		return nil, nil, apperr.Validation("package %s is %s, recipient can no longer change", pkg.TrackingNumber, pkg.Status)
	}

	// The current code is retired first. If a later step fails the package
	// is left without an active token, never with one sealing stale details.
	active, err := s.tokens.Active(ctx, pkg.ID)
	switch {
	case err == nil:
		if err := s.tokens.Invalidate(ctx, active.ID, models.ReasonRotated); err != nil {
			return nil, nil, err
		}
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, nil, err
	}

	now := s.NowFunc().UTC()
	if err := s.store.UpdateRecipient(ctx, pkg.ID, pkg.Version, recipient, now); err != nil {
		return nil, nil, fmt.Errorf("token %s retired but recipient update failed, rotate to reissue: %w", tokenID(active), err)
	}
	pkg.Recipient = recipient
	pkg.Version++
	pkg.UpdatedAt = now

	tok, err := s.tokens.Rotate(ctx, pkg)
	if err != nil {
		return nil, nil, fmt.Errorf("recipient updated but token rotation failed, package has no active token: %w", err)
	}
	log.Printf("✏️ Parcel: recipient of %s updated by %s, token rotated", pkg.TrackingNumber, actor.SubjectID)

	notify.Safe(ctx, s.publisher, notify.Event{
		Type:           notify.EventTokenRotated,
		PackageID:      pkg.ID,
		TrackingNumber: pkg.TrackingNumber,
		ActorID:        actor.SubjectID,
		ActorRole:      actor.Role,
		At:             now,
	})
	return pkg, tok, nil
}

// ChangeStatus applies a normal transition without a scan, for hub and
// dispatch staff. Reaching a terminal status consumes the active token in
// the same commit.
func (s *Service) ChangeStatus(ctx context.Context, actor models.Identity, packageID string, to models.PackageStatus, note string) (*models.Package, error) {
	if !actor.Role.IsStaff() {
		return nil, apperr.ErrUnauthorizedRole
	}

	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}

	now := s.NowFunc().UTC()
	next, entry, err := status.Transition(*pkg, to, actor, note, now)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, actor, pkg, next, entry, now)
}

// Override moves a package out of a terminal status (admin only). Moving
// back into a live status issues a fresh token.
func (s *Service) Override(ctx context.Context, actor models.Identity, packageID string, to models.PackageStatus, note string) (*models.Package, *models.Token, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}

	now := s.NowFunc().UTC()
	next, entry, err := status.Override(*pkg, to, actor, note, now)
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.commit(ctx, actor, pkg, next, entry, now)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("⚠️ Parcel: admin %s overrode %s %s -> %s: %s", actor.SubjectID, pkg.TrackingNumber, pkg.Status, to, note)

	if updated.Status.IsTerminal() {
		return updated, nil, nil
	}
	tok, err := s.tokens.Issue(ctx, updated)
	if err != nil {
		return updated, nil, fmt.Errorf("status overridden but token issuance failed: %w", err)
	}
	return updated, tok, nil
}

func (s *Service) commit(ctx context.Context, actor models.Identity, pkg *models.Package, next models.Package, entry models.StatusHistoryEntry, now time.Time) (*models.Package, error) {
	c := store.TransitionCommit{
		PackageID:       pkg.ID,
		ExpectedVersion: pkg.Version,
		Status:          next.Status,
		Entry:           entry,
		At:              now,
	}

	reason := models.ReasonTerminal
	if entry.Action == models.HistoryActionAdminOverride {
		reason = models.ReasonRevoked
	}
	if next.Status.IsTerminal() {
		active, err := s.tokens.Active(ctx, pkg.ID)
		switch {
		case err == nil:
			c.ConsumeTokenID = active.ID
			c.ConsumeReason = reason
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}

	if err := s.store.ApplyTransition(ctx, c); err != nil {
		return nil, err
	}
	metrics.StatusTransitionsTotal.WithLabelValues(string(next.Status)).Inc()
	if c.ConsumeTokenID != "" {
		metrics.TokensInvalidatedTotal.WithLabelValues(c.ConsumeReason).Inc()
	}

	next.Version = pkg.Version + 1
	notify.Safe(ctx, s.publisher, notify.Event{
		Type:           notify.EventStatusChanged,
		PackageID:      pkg.ID,
		TrackingNumber: pkg.TrackingNumber,
		From:           pkg.Status,
		To:             next.Status,
		ActorID:        actor.SubjectID,
		ActorRole:      actor.Role,
		At:             now,
	})
	return &next, nil
}

func tokenID(tok *models.Token) string {
	if tok == nil {
		return "(none)"
	}
	return tok.ID
}
