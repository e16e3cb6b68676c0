// Package tokens issues, rotates and invalidates package tokens.
//
// A package has at most one active token at any instant. The manager
// relies on the store's ActivateToken to swap the active token in a
// single atomic step, so there is no window where two are active.
package tokens

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/keystore"
	"github.com/xelth-com/parcelseal/internal/metrics"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/store"
	"github.com/xelth-com/parcelseal/internal/tokencodec"
)

// DefaultTTL is how long a token stays scannable when no policy is set
const DefaultTTL = 72 * time.Hour

// Manager owns the token lifecycle
type Manager struct {
	store store.TokenStore
	codec *tokencodec.Codec
	keys  keystore.Source
	ttl   time.Duration

	// NowFunc is the clock; defaults to time.Now
	NowFunc func() time.Time
}

// NewManager creates a token manager. A non-positive ttl means DefaultTTL.
func NewManager(s store.TokenStore, codec *tokencodec.Codec, keys keystore.Source, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:   s,
		codec:   codec,
		keys:    keys,
		ttl:     ttl,
		NowFunc: time.Now,
	}
}

// TTL is the configured token lifetime
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue seals pkg's delivery payload into a new token and makes it the
// package's only active token. Any previous active token is marked
// superseded in the same step.
func (m *Manager) Issue(ctx context.Context, pkg *models.Package) (*models.Token, error) {
	return m.issue(ctx, pkg, models.ReasonSuperseded)
}

// Rotate replaces the package's active token. Used after recipient edits
// or when a printed code may have been compromised.
func (m *Manager) Rotate(ctx context.Context, pkg *models.Package) (*models.Token, error) {
	return m.issue(ctx, pkg, models.ReasonRotated)
}

func (m *Manager) issue(ctx context.Context, pkg *models.Package, reason string) (*models.Token, error) {
	if pkg == nil || pkg.ID == "" {
		return nil, apperr.Validation("package is required")
	}
	if pkg.Status.IsTerminal() {
		return nil, apperr.Validation("package %s is %s and cannot be issued a token", pkg.TrackingNumber, pkg.Status)
	}

	key, err := m.keys.Active()
	if err != nil {
		return nil, fmt.Errorf("resolve signing key: %w", err)
	}

	issuedAt := m.NowFunc().UTC().Truncate(time.Second)
	tok := &models.Token{
		ID:        uuid.NewString(),
		PackageID: pkg.ID,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(m.ttl),
	}

	env, err := m.codec.Encode(models.DeliveryPayload{
		TokenID:        tok.ID,
		PackageID:      pkg.ID,
		TrackingNumber: pkg.TrackingNumber,
		Recipient:      pkg.Recipient,
		IssuedAt:       issuedAt.Unix(),
	}, key)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}
	tok.EnvelopeVersion = env.Version
	tok.KeyID = env.KeyID
	tok.IV = env.IV
	tok.Ciphertext = env.Ciphertext
	tok.AuthTag = env.AuthTag

	superseded, err := m.store.ActivateToken(ctx, tok, reason, issuedAt)
	if err != nil {
		return nil, err
	}

	metrics.TokensIssuedTotal.Inc()
	if len(superseded) > 0 {
		metrics.TokensInvalidatedTotal.WithLabelValues(reason).Add(float64(len(superseded)))
	}
	log.Printf("🔑 Tokens: issued %s for package %s (key %s, expires %s, %d superseded)",
		tok.ID, pkg.TrackingNumber, tok.KeyID, tok.ExpiresAt.Format(time.RFC3339), len(superseded))
	return tok, nil
}

// Invalidate deactivates a token. Invalidating a token that is already
// inactive is a no-op: the original reason is kept.
func (m *Manager) Invalidate(ctx context.Context, tokenID, reason string) error {
	if reason == "" {
		reason = models.ReasonRevoked
	}
	changed, err := m.store.DeactivateToken(ctx, tokenID, reason, m.NowFunc().UTC())
	if err != nil {
		return err
	}
	if changed {
		metrics.TokensInvalidatedTotal.WithLabelValues(reason).Inc()
		log.Printf("🚫 Tokens: invalidated %s (%s)", tokenID, reason)
	}
	return nil
}

// Get loads a token by id
func (m *Manager) Get(ctx context.Context, tokenID string) (*models.Token, error) {
	return m.store.GetToken(ctx, tokenID)
}

// Active returns the package's active token, or apperr.ErrNotFound
func (m *Manager) Active(ctx context.Context, packageID string) (*models.Token, error) {
	return m.store.ActiveToken(ctx, packageID)
}

// List returns every token ever issued for the package
func (m *Manager) List(ctx context.Context, packageID string) ([]models.Token, error) {
	return m.store.ListTokens(ctx, packageID)
}

// ReapExpired flips expired tokens inactive. Verification checks expiry
// itself, so this is housekeeping only.
func (m *Manager) ReapExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeactivateExpired(ctx, m.NowFunc().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.TokensInvalidatedTotal.WithLabelValues(models.ReasonExpired).Add(float64(n))
	}
	return n, nil
}

// RunReaper calls ReapExpired every interval until ctx is done
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("⏰ Tokens: expiry reaper running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.ReapExpired(ctx)
			if err != nil {
				log.Printf("⚠️ Tokens: reaper failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("🧹 Tokens: deactivated %d expired tokens", n)
			}
		}
	}
}

// EnvelopeOf rebuilds the wire envelope stored with a token
func EnvelopeOf(tok *models.Token) tokencodec.Envelope {
	return tokencodec.Envelope{
		Version:    tok.EnvelopeVersion,
		KeyID:      tok.KeyID,
		IV:         tok.IV,
		Ciphertext: tok.Ciphertext,
		AuthTag:    tok.AuthTag,
	}
}
