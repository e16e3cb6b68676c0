// Package verify turns a scanned envelope into either the decoded delivery
// payload or a typed failure, writing exactly one scan audit event per
// attempt.
//
// Scans of the same token run one at a time within a process. Across
// processes the package version compare-and-set decides, and the token is
// consumed in the same commit that moves the package into a terminal
// status.
//
// Replay policy: a scan without a transition on a live token is accepted
// again as an informational re-confirmation. Once a scan has moved the
// package to a terminal status the token is consumed and every later
// scan, including one queued behind the winner, gets ErrInactiveToken. A
// scan that only loses the compare-and-set to another process gets
// ErrConcurrencyConflict.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/datatypes"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/audit"
	"github.com/xelth-com/parcelseal/internal/keystore"
	"github.com/xelth-com/parcelseal/internal/metrics"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/notify"
	"github.com/xelth-com/parcelseal/internal/status"
	"github.com/xelth-com/parcelseal/internal/store"
	"github.com/xelth-com/parcelseal/internal/tokencodec"
)

// Request is one scan
type Request struct {
	Envelope string
	Scanner  models.Identity

	// TransitionTo optionally moves the package as part of the scan
	TransitionTo models.PackageStatus
	Note         string
	Location     map[string]interface{}
}

// Result is returned only for authorized scans
type Result struct {
	Payload      models.DeliveryPayload `json:"payload"`
	Status       models.PackageStatus   `json:"status"`
	Transitioned bool                   `json:"transitioned"`
	ScanEventID  string                 `json:"scanEventId"`
}

// Service verifies scans
type Service struct {
	packages  store.PackageStore
	tokens    store.TokenStore
	keys      keystore.Resolver
	audit     *audit.Log
	publisher notify.Publisher

	locks   *keyedMutex
	allowed map[models.Role]bool

	// NowFunc is the clock; defaults to time.Now
	NowFunc func() time.Time
}

// NewService wires the verification service. A nil publisher drops
// notifications.
func NewService(packages store.PackageStore, tokens store.TokenStore, keys keystore.Resolver, auditLog *audit.Log, publisher notify.Publisher) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		packages:  packages,
		tokens:    tokens,
		keys:      keys,
		audit:     auditLog,
		publisher: publisher,
		locks:     newKeyedMutex(),
		allowed: map[models.Role]bool{
			models.RoleDeliveryAgent: true,
			models.RoleAdmin:         true,
		},
		NowFunc: time.Now,
	}
}

// Allows reports whether role may scan
func (s *Service) Allows(role models.Role) bool {
	return s.allowed[role]
}

// scan carries the audit event being built for one Verify call
type scan struct {
	s   *Service
	ctx context.Context
	ev  models.ScanEvent
}

// finish records the event. Every return path of Verify calls it exactly once.
func (sc *scan) finish(outcome models.ScanOutcome, reason string) models.ScanEvent {
	sc.ev.Outcome = outcome
	sc.ev.Reason = reason
	sc.ev = sc.s.audit.Record(sc.ctx, sc.ev)

	if outcome == models.OutcomeTampered || outcome == models.OutcomeUnauthorizedRole {
		log.Printf("🚨 Verify: %s scan by %s (%s): %s", outcome, sc.ev.ScannerID, sc.ev.ScannerRole, reason)
		notify.Safe(sc.ctx, sc.s.publisher, notify.Event{
			Type:        notify.EventScanAlert,
			PackageID:   sc.ev.PackageID,
			Outcome:     outcome,
			ScanEventID: sc.ev.ID,
			ActorID:     sc.ev.ScannerID,
			ActorRole:   sc.ev.ScannerRole,
			At:          sc.ev.Timestamp,
		})
	}
	return sc.ev
}

// Verify checks one scan. Crypto and lookup failures all come back as
// apperr.ErrInvalidCode; the precise reason is only in the audit log.
func (s *Service) Verify(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	defer func() { metrics.VerifyDuration.Observe(time.Since(started).Seconds()) }()

	sc := &scan{s: s, ctx: ctx, ev: models.ScanEvent{
		ScannerID:      req.Scanner.SubjectID,
		ScannerRole:    req.Scanner.Role,
		TransitionTo:   req.TransitionTo,
		EnvelopeDigest: audit.Digest(req.Envelope),
	}}
	if len(req.Location) > 0 {
		sc.ev.Location = datatypes.JSONMap(req.Location)
	}

	// 1. Role precheck
	if !s.allowed[req.Scanner.Role] {
		sc.finish(models.OutcomeUnauthorizedRole, fmt.Sprintf("role %q may not scan", req.Scanner.Role))
		return nil, apperr.ErrUnauthorizedRole
	}

	// 2. Authenticate the envelope
	env, err := tokencodec.ParseEnvelope(req.Envelope)
	if err != nil {
		sc.finish(models.OutcomeTampered, err.Error())
		return nil, apperr.ErrInvalidCode
	}
	var payload models.DeliveryPayload
	if err := tokencodec.Decode(env, s.keys, &payload); err != nil {
		sc.finish(models.OutcomeTampered, fmt.Sprintf("%v (key %s, v%d)", err, env.KeyID, env.Version))
		return nil, apperr.ErrInvalidCode
	}
	sc.ev.TokenID = payload.TokenID
	sc.ev.PackageID = payload.PackageID

	unlock := s.locks.Lock(payload.TokenID)
	defer unlock()

	// 3. Resolve the token
	tok, err := s.tokens.GetToken(ctx, payload.TokenID)
	if errors.Is(err, apperr.ErrNotFound) {
		sc.finish(models.OutcomeTampered, "authentic envelope for unknown token")
		return nil, apperr.ErrInvalidCode
	}
	if err != nil {
		sc.finish(models.OutcomeError, err.Error())
		return nil, apperr.Storage("get token", err)
	}
	if tok.PackageID != payload.PackageID {
		sc.finish(models.OutcomeTampered, fmt.Sprintf("token belongs to package %s", tok.PackageID))
		return nil, apperr.ErrInvalidCode
	}

	// 4. Liveness, expiry first so an expired token never reads as merely inactive
	now := s.NowFunc().UTC()
	if !now.Before(tok.ExpiresAt) {
		sc.finish(models.OutcomeExpired, "expired at "+tok.ExpiresAt.Format(time.RFC3339))
		return nil, apperr.ErrExpiredToken
	}
	if !tok.IsActive {
		sc.finish(models.OutcomeInactive, "invalidated: "+tok.InvalidationReason)
		return nil, apperr.ErrInactiveToken
	}

	pkg, err := s.packages.GetPackage(ctx, payload.PackageID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			sc.finish(models.OutcomeTampered, "authentic envelope for unknown package")
			return nil, apperr.ErrInvalidCode
		}
		sc.finish(models.OutcomeError, err.Error())
		return nil, apperr.Storage("get package", err)
	}

	// 5. Authorized, with an optional transition
	result := &Result{Payload: payload, Status: pkg.Status}
	if req.TransitionTo == "" {
		result.ScanEventID = sc.finish(models.OutcomeAuthorized, "").ID
		return result, nil
	}

	next, entry, err := status.Transition(*pkg, req.TransitionTo, req.Scanner, req.Note, now)
	if err != nil {
		sc.finish(models.OutcomeAuthorized, "transition rejected: "+err.Error())
		return nil, err
	}

	commit := store.TransitionCommit{
		PackageID:       pkg.ID,
		ExpectedVersion: pkg.Version,
		Status:          next.Status,
		Entry:           entry,
		At:              now,
	}
	if next.Status.IsTerminal() {
		commit.ConsumeTokenID = tok.ID
		commit.ConsumeReason = models.ReasonConsumed
	}

	if err := s.packages.ApplyTransition(ctx, commit); err != nil {
		if errors.Is(err, apperr.ErrConcurrencyConflict) {
			sc.finish(models.OutcomeAuthorized, "transition lost a concurrent update")
			return nil, apperr.ErrConcurrencyConflict
		}
		sc.finish(models.OutcomeError, err.Error())
		return nil, apperr.Storage("apply transition", err)
	}

	sc.ev.Transitioned = true
	result.ScanEventID = sc.finish(models.OutcomeAuthorized, "").ID
	result.Status = next.Status
	result.Transitioned = true

	metrics.StatusTransitionsTotal.WithLabelValues(string(next.Status)).Inc()
	if commit.ConsumeTokenID != "" {
		metrics.TokensInvalidatedTotal.WithLabelValues(models.ReasonConsumed).Inc()
	}
	log.Printf("📦 Verify: package %s %s -> %s by %s", pkg.TrackingNumber, pkg.Status, next.Status, req.Scanner.SubjectID)

	notify.Safe(ctx, s.publisher, notify.Event{
		Type:           notify.EventStatusChanged,
		PackageID:      pkg.ID,
		TrackingNumber: pkg.TrackingNumber,
		From:           pkg.Status,
		To:             next.Status,
		ActorID:        req.Scanner.SubjectID,
		ActorRole:      req.Scanner.Role,
		At:             now,
	})
	return result, nil
}
