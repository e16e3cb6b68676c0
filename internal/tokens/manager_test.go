package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/keystore"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/store"
	"github.com/xelth-com/parcelseal/internal/tokencodec"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.MemoryStore
	ring    *keystore.Keyring
	manager *Manager
	pkg     *models.Package
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	material, err := keystore.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ring := keystore.NewKeyring()
	if err := ring.Rotate("k1", material); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	codec, err := tokencodec.New(tokencodec.DefaultScheme)
	if err != nil {
		t.Fatalf("tokencodec.New: %v", err)
	}

	s := store.NewMemoryStore()
	pkg := &models.Package{
		ID:             "0f1e2d3c-4b5a-4978-8695-a4b3c2d1e0f9",
		TrackingNumber: "CS-20240101-ABCDE",
		Status:         models.StatusCreated,
		Recipient: models.Recipient{
			Name:    "Jane Recipient",
			Address: "12 Harbour Road, Springfield",
			Phone:   "+61 400 000 000",
			Email:   "jane@example.com",
		},
		CreatedAt: start,
	}
	if err := s.CreatePackage(context.Background(), pkg); err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}

	f := &fixture{store: s, ring: ring, pkg: pkg, now: start}
	f.manager = NewManager(s, codec, ring, time.Hour)
	f.manager.NowFunc = func() time.Time { return f.now }
	return f
}

func TestIssueDecodesToOriginalPayload(t *testing.T) {
	f := newFixture(t)

	tok, err := f.manager.Issue(context.Background(), f.pkg)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !tok.IsActive {
		t.Error("Issued token should be active")
	}
	if !tok.ExpiresAt.Equal(start.Add(time.Hour)) {
		t.Errorf("Expected expiry %v, got %v", start.Add(time.Hour), tok.ExpiresAt)
	}

	var got models.DeliveryPayload
	if err := tokencodec.Decode(EnvelopeOf(tok), f.ring, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.TokenID != tok.ID || got.PackageID != f.pkg.ID {
		t.Errorf("Payload ids mismatch: %+v", got)
	}
	if got.TrackingNumber != "CS-20240101-ABCDE" || got.Recipient != f.pkg.Recipient {
		t.Errorf("Payload does not match package: %+v", got)
	}

	stored, err := f.manager.Active(context.Background(), f.pkg.ID)
	if err != nil || stored.ID != tok.ID {
		t.Errorf("Active token mismatch: %v %+v", err, stored)
	}
}

func TestRotateTwiceLeavesOneActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.manager.Issue(ctx, f.pkg)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := f.manager.Rotate(ctx, f.pkg); err != nil {
		t.Fatalf("Rotate 1: %v", err)
	}
	last, err := f.manager.Rotate(ctx, f.pkg)
	if err != nil {
		t.Fatalf("Rotate 2: %v", err)
	}

	tokens, err := f.manager.List(ctx, f.pkg.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("Expected 3 tokens, got %d", len(tokens))
	}

	active, inactive := 0, 0
	for _, tok := range tokens {
		if tok.IsActive {
			active++
			if tok.ID != last.ID {
				t.Errorf("Expected %s active, got %s", last.ID, tok.ID)
			}
			continue
		}
		inactive++
		if tok.InvalidationReason != models.ReasonRotated {
			t.Errorf("Token %s: expected reason %q, got %q", tok.ID, models.ReasonRotated, tok.InvalidationReason)
		}
	}
	if active != 1 || inactive != 2 {
		t.Errorf("Expected 1 active and 2 inactive, got %d and %d", active, inactive)
	}

	// The old envelope still authenticates; only its liveness changed
	old, _ := f.manager.Get(ctx, first.ID)
	var payload models.DeliveryPayload
	if err := tokencodec.Decode(EnvelopeOf(old), f.ring, &payload); err != nil {
		t.Errorf("Old envelope should still decode: %v", err)
	}
}

func TestRotationSurvivesKeyRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	before, _ := f.manager.Issue(ctx, f.pkg)

	material, _ := keystore.GenerateKey()
	if err := f.ring.Rotate("k2", material); err != nil {
		t.Fatalf("Rotate key: %v", err)
	}
	after, err := f.manager.Rotate(ctx, f.pkg)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if before.KeyID != "k1" || after.KeyID != "k2" {
		t.Errorf("Expected k1 then k2, got %s then %s", before.KeyID, after.KeyID)
	}

	var payload models.DeliveryPayload
	for _, tok := range []*models.Token{before, after} {
		if err := tokencodec.Decode(EnvelopeOf(tok), f.ring, &payload); err != nil {
			t.Errorf("Token %s (key %s) failed to decode: %v", tok.ID, tok.KeyID, err)
		}
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok, _ := f.manager.Issue(ctx, f.pkg)

	if err := f.manager.Invalidate(ctx, tok.ID, models.ReasonRevoked); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := f.manager.Invalidate(ctx, tok.ID, models.ReasonRevoked); err != nil {
		t.Fatalf("Second Invalidate should be a no-op, got %v", err)
	}

	got, _ := f.manager.Get(ctx, tok.ID)
	if got.IsActive || got.InvalidationReason != models.ReasonRevoked || got.InvalidatedAt == nil {
		t.Errorf("Unexpected token state: %+v", got)
	}
	if _, err := f.manager.Active(ctx, f.pkg.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected no active token, got %v", err)
	}
	if err := f.manager.Invalidate(ctx, "missing", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIssueRejectsTerminalPackage(t *testing.T) {
	f := newFixture(t)
	delivered := *f.pkg
	delivered.Status = models.StatusDelivered

	if _, err := f.manager.Issue(context.Background(), &delivered); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestReapExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok, _ := f.manager.Issue(ctx, f.pkg)

	n, err := f.manager.ReapExpired(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Nothing should expire yet: n=%d err=%v", n, err)
	}

	f.now = start.Add(time.Hour)
	n, err = f.manager.ReapExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 reaped token, got %d (%v)", n, err)
	}
	got, _ := f.manager.Get(ctx, tok.ID)
	if got.IsActive || got.InvalidationReason != models.ReasonExpired {
		t.Errorf("Unexpected token state after reaping: %+v", got)
	}
}

func TestNewManagerDefaultsTTL(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), nil, nil, 0)
	if m.TTL() != DefaultTTL {
		t.Errorf("Expected %s, got %s", DefaultTTL, m.TTL())
	}
}
