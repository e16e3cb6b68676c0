package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/models"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func seedPackage(t *testing.T, s *MemoryStore, id string) *models.Package {
	t.Helper()
	pkg := &models.Package{
		ID:             id,
		TrackingNumber: "CS-20240101-" + id,
		Status:         models.StatusCreated,
		CreatedAt:      now,
	}
	if err := s.CreatePackage(context.Background(), pkg); err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}
	return pkg
}

func newToken(id, packageID string) *models.Token {
	return &models.Token{
		ID:        id,
		PackageID: packageID,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestCreatePackageRejectsDuplicates(t *testing.T) {
	s := NewMemoryStore()
	seedPackage(t, s, "P1")

	dup := &models.Package{ID: "P2", TrackingNumber: "CS-20240101-P1"}
	if err := s.CreatePackage(context.Background(), dup); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation for duplicate tracking number, got %v", err)
	}

	got, err := s.GetPackageByTracking(context.Background(), "CS-20240101-P1")
	if err != nil || got.ID != "P1" {
		t.Errorf("Lookup by tracking failed: %v %+v", err, got)
	}
	if _, err := s.GetPackage(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestActivateTokenKeepsSingleActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPackage(t, s, "P1")

	for i := 1; i <= 3; i++ {
		superseded, err := s.ActivateToken(ctx, newToken(fmt.Sprintf("T%d", i), "P1"), models.ReasonRotated, now)
		if err != nil {
			t.Fatalf("ActivateToken T%d: %v", i, err)
		}
		if i > 1 && (len(superseded) != 1 || superseded[0] != fmt.Sprintf("T%d", i-1)) {
			t.Errorf("T%d superseded %v", i, superseded)
		}
	}

	tokens, _ := s.ListTokens(ctx, "P1")
	if len(tokens) != 3 {
		t.Fatalf("Expected 3 tokens, got %d", len(tokens))
	}
	active := 0
	for _, tok := range tokens {
		if tok.IsActive {
			active++
			if tok.ID != "T3" {
				t.Errorf("Wrong token active: %s", tok.ID)
			}
		} else if tok.InvalidationReason != models.ReasonRotated || tok.InvalidatedAt == nil {
			t.Errorf("Token %s missing invalidation audit: %+v", tok.ID, tok)
		}
	}
	if active != 1 {
		t.Errorf("Expected exactly one active token, got %d", active)
	}

	if _, err := s.ActivateToken(ctx, newToken("T9", "nope"), models.ReasonSuperseded, now); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown package, got %v", err)
	}
}

func TestActivateTokenConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPackage(t, s, "P1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.ActivateToken(ctx, newToken(fmt.Sprintf("T%02d", i), "P1"), models.ReasonSuperseded, now); err != nil {
				t.Errorf("ActivateToken: %v", err)
			}
		}(i)
	}
	wg.Wait()

	tokens, _ := s.ListTokens(ctx, "P1")
	active := 0
	for _, tok := range tokens {
		if tok.IsActive {
			active++
		}
	}
	if len(tokens) != 50 || active != 1 {
		t.Errorf("Expected 50 tokens with 1 active, got %d tokens with %d active", len(tokens), active)
	}
}

func TestApplyTransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPackage(t, s, "P1")
	if _, err := s.ActivateToken(ctx, newToken("T1", "P1"), models.ReasonSuperseded, now); err != nil {
		t.Fatalf("ActivateToken: %v", err)
	}

	commit := TransitionCommit{
		PackageID:       "P1",
		ExpectedVersion: 0,
		Status:          models.StatusInTransit,
		Entry:           models.StatusHistoryEntry{Seq: 1, Status: models.StatusInTransit, PreviousStatus: models.StatusCreated},
		At:              now,
	}
	if err := s.ApplyTransition(ctx, commit); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}

	// Same expected version again loses the race
	if err := s.ApplyTransition(ctx, commit); !errors.Is(err, apperr.ErrConcurrencyConflict) {
		t.Fatalf("Expected ErrConcurrencyConflict, got %v", err)
	}

	pkg, _ := s.GetPackage(ctx, "P1")
	if pkg.Version != 1 || len(pkg.History) != 1 || pkg.Status != models.StatusInTransit {
		t.Errorf("Unexpected package after CAS: version=%d history=%d status=%s", pkg.Version, len(pkg.History), pkg.Status)
	}

	// Consuming an inactive token rolls the whole commit back
	if _, err := s.DeactivateToken(ctx, "T1", models.ReasonRevoked, now); err != nil {
		t.Fatalf("DeactivateToken: %v", err)
	}
	consume := TransitionCommit{
		PackageID:       "P1",
		ExpectedVersion: 1,
		Status:          models.StatusOutForDelivery,
		Entry:           models.StatusHistoryEntry{Seq: 2},
		ConsumeTokenID:  "T1",
		ConsumeReason:   models.ReasonConsumed,
		At:              now,
	}
	if err := s.ApplyTransition(ctx, consume); !errors.Is(err, apperr.ErrConcurrencyConflict) {
		t.Fatalf("Expected conflict when consuming inactive token, got %v", err)
	}
	pkg, _ = s.GetPackage(ctx, "P1")
	if pkg.Version != 1 || len(pkg.History) != 1 {
		t.Error("Failed commit left partial state")
	}

	if err := s.ApplyTransition(ctx, TransitionCommit{PackageID: "missing"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeactivateTokenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPackage(t, s, "P1")
	s.ActivateToken(ctx, newToken("T1", "P1"), models.ReasonSuperseded, now)

	changed, err := s.DeactivateToken(ctx, "T1", models.ReasonRevoked, now)
	if err != nil || !changed {
		t.Fatalf("First deactivate: changed=%v err=%v", changed, err)
	}
	changed, err = s.DeactivateToken(ctx, "T1", "other", now.Add(time.Minute))
	if err != nil || changed {
		t.Fatalf("Second deactivate should be a no-op: changed=%v err=%v", changed, err)
	}

	tok, _ := s.GetToken(ctx, "T1")
	if tok.InvalidationReason != models.ReasonRevoked {
		t.Errorf("Second deactivate overwrote the reason: %s", tok.InvalidationReason)
	}

	if _, err := s.DeactivateToken(ctx, "missing", "x", now); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeactivateExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPackage(t, s, "P1")
	seedPackage(t, s, "P2")

	short := newToken("T1", "P1")
	short.ExpiresAt = now.Add(-time.Minute)
	s.ActivateToken(ctx, short, models.ReasonSuperseded, now)
	s.ActivateToken(ctx, newToken("T2", "P2"), models.ReasonSuperseded, now)

	n, err := s.DeactivateExpired(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 expired token, got %d (%v)", n, err)
	}
	if _, err := s.ActiveToken(ctx, "P1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("Expired token still active")
	}
	if _, err := s.ActiveToken(ctx, "P2"); err != nil {
		t.Errorf("Live token was reaped: %v", err)
	}
}

func TestScanEventsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, pkgID := range []string{"P1", "", "P1"} {
		ev := &models.ScanEvent{ID: fmt.Sprintf("E%d", i), PackageID: pkgID, Outcome: models.OutcomeAuthorized}
		if err := s.AppendScanEvent(ctx, ev); err != nil {
			t.Fatalf("AppendScanEvent: %v", err)
		}
	}

	events, _ := s.ListScanEvents(ctx, "P1")
	if len(events) != 2 || events[0].ID != "E0" || events[1].ID != "E2" {
		t.Errorf("Unexpected events: %+v", events)
	}
	orphans, _ := s.ListScanEvents(ctx, "")
	if len(orphans) != 1 {
		t.Errorf("Expected 1 unresolved event, got %d", len(orphans))
	}
}

func TestActivateTokenRefusesTerminalPackage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedPackage(t, s, "P1")
	if _, err := s.ActivateToken(ctx, newToken("T1", "P1"), models.ReasonSuperseded, now); err != nil {
		t.Fatalf("ActivateToken: %v", err)
	}
	if err := s.ApplyTransition(ctx, TransitionCommit{
		PackageID:      "P1",
		Status:         models.StatusCancelled,
		Entry:          models.StatusHistoryEntry{Seq: 1, Status: models.StatusCancelled, PreviousStatus: models.StatusCreated},
		ConsumeTokenID: "T1",
		ConsumeReason:  models.ReasonTerminal,
		At:             now,
	}); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}

	if _, err := s.ActivateToken(ctx, newToken("T2", "P1"), models.ReasonRotated, now); !errors.Is(err, apperr.ErrConcurrencyConflict) {
		t.Fatalf("Expected ErrConcurrencyConflict for a cancelled package, got %v", err)
	}
	if _, err := s.ActiveToken(ctx, "P1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Cancelled package has an active token: %v", err)
	}
	if _, err := s.GetToken(ctx, "T2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Refused token was stored: %v", err)
	}
}
