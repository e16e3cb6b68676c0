package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/models"
)

// MemoryStore keeps everything in process memory. It offers the same
// atomicity as GormStore and is used by tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu sync.RWMutex

	packages   map[string]*models.Package
	byTracking map[string]string

	tokens     map[string]*models.Token
	tokenOrder []string

	events []models.ScanEvent
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages:   make(map[string]*models.Package),
		byTracking: make(map[string]string),
		tokens:     make(map[string]*models.Token),
	}
}

// CreatePackage stores a new package
func (m *MemoryStore) CreatePackage(ctx context.Context, pkg *models.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.packages[pkg.ID]; exists {
		return apperr.Validation("package %s already exists", pkg.ID)
	}
	if _, exists := m.byTracking[pkg.TrackingNumber]; exists {
		return apperr.Validation("tracking number %s already exists", pkg.TrackingNumber)
	}

	stored := pkg.Clone()
	m.packages[pkg.ID] = &stored
	m.byTracking[pkg.TrackingNumber] = pkg.ID
	return nil
}

// GetPackage returns a copy of the package with its history
func (m *MemoryStore) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pkg, ok := m.packages[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := pkg.Clone()
	return &out, nil
}

// GetPackageByTracking looks a package up by tracking number
func (m *MemoryStore) GetPackageByTracking(ctx context.Context, trackingNumber string) (*models.Package, error) {
	m.mu.RLock()
	id, ok := m.byTracking[trackingNumber]
	m.mu.RUnlock()

	if !ok {
		return nil, apperr.ErrNotFound
	}
	return m.GetPackage(ctx, id)
}

// UpdateRecipient replaces the recipient if the version still matches
func (m *MemoryStore) UpdateRecipient(ctx context.Context, id string, expectedVersion int64, recipient models.Recipient, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, ok := m.packages[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if pkg.Version != expectedVersion {
		return apperr.ErrConcurrencyConflict
	}
	pkg.Recipient = recipient
	pkg.Version++
	pkg.UpdatedAt = at
	return nil
}

// ApplyTransition commits a status change atomically
func (m *MemoryStore) ApplyTransition(ctx context.Context, c TransitionCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, ok := m.packages[c.PackageID]
	if !ok {
		return apperr.ErrNotFound
	}
	if pkg.Version != c.ExpectedVersion {
		return apperr.ErrConcurrencyConflict
	}

	var tok *models.Token
	if c.ConsumeTokenID != "" {
		tok, ok = m.tokens[c.ConsumeTokenID]
		if !ok || tok.PackageID != c.PackageID || !tok.IsActive {
			return apperr.ErrConcurrencyConflict
		}
	}

	entry := c.Entry
	entry.PackageID = c.PackageID
	entry.ID = int64(len(pkg.History) + 1)

	pkg.Status = c.Status
	pkg.Version++
	pkg.UpdatedAt = c.At
	pkg.History = append(pkg.History, entry)

	if tok != nil {
		deactivate(tok, c.ConsumeReason, c.At)
	}
	return nil
}

// ActivateToken stores tok as the only active token of its package.
// A package that reached a terminal status meanwhile is refused with
// ErrConcurrencyConflict.
func (m *MemoryStore) ActivateToken(ctx context.Context, tok *models.Token, reason string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, ok := m.packages[tok.PackageID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if pkg.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: package %s is %s", apperr.ErrConcurrencyConflict, pkg.ID, pkg.Status)
	}
	if _, exists := m.tokens[tok.ID]; exists {
		return nil, fmt.Errorf("%w: token %s already exists", apperr.ErrConcurrencyConflict, tok.ID)
	}

	var superseded []string
	for _, id := range m.tokenOrder {
		existing := m.tokens[id]
		if existing.PackageID == tok.PackageID && existing.IsActive {
			deactivate(existing, reason, at)
			superseded = append(superseded, id)
		}
	}

	stored := *tok
	stored.IsActive = true
	m.tokens[tok.ID] = &stored
	m.tokenOrder = append(m.tokenOrder, tok.ID)
	tok.IsActive = true
	return superseded, nil
}

// GetToken returns a copy of the token
func (m *MemoryStore) GetToken(ctx context.Context, id string) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.tokens[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := *tok
	return &out, nil
}

// ActiveToken returns the package's active token
func (m *MemoryStore) ActiveToken(ctx context.Context, packageID string) (*models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.tokenOrder {
		tok := m.tokens[id]
		if tok.PackageID == packageID && tok.IsActive {
			out := *tok
			return &out, nil
		}
	}
	return nil, apperr.ErrNotFound
}

// ListTokens returns every token of the package in issuance order
func (m *MemoryStore) ListTokens(ctx context.Context, packageID string) ([]models.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Token
	for _, id := range m.tokenOrder {
		if tok := m.tokens[id]; tok.PackageID == packageID {
			out = append(out, *tok)
		}
	}
	return out, nil
}

// DeactivateToken flips a token inactive; false means it already was
func (m *MemoryStore) DeactivateToken(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[id]
	if !ok {
		return false, apperr.ErrNotFound
	}
	if !tok.IsActive {
		return false, nil
	}
	deactivate(tok, reason, at)
	return true, nil
}

// DeactivateExpired flips every active token past its expiry
func (m *MemoryStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, tok := range m.tokens {
		if tok.IsActive && !now.Before(tok.ExpiresAt) {
			deactivate(tok, models.ReasonExpired, now)
			n++
		}
	}
	return n, nil
}

// AppendScanEvent appends to the audit trail
func (m *MemoryStore) AppendScanEvent(ctx context.Context, ev *models.ScanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, *ev)
	return nil
}

// ListScanEvents returns scan events for a package in append order.
// An empty packageID lists events that never resolved to a package.
func (m *MemoryStore) ListScanEvents(ctx context.Context, packageID string) ([]models.ScanEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ScanEvent
	for _, ev := range m.events {
		if ev.PackageID == packageID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func deactivate(tok *models.Token, reason string, at time.Time) {
	when := at
	tok.IsActive = false
	tok.InvalidatedAt = &when
	tok.InvalidationReason = reason
}
