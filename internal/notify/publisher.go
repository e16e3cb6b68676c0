// Package notify carries status and security events out of the core.
// The core only calls Publish; connection state lives in the Hub.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/xelth-com/parcelseal/internal/models"
)

// Event types
const (
	EventStatusChanged = "STATUS_CHANGED"
	EventTokenRotated  = "TOKEN_ROTATED"
	EventScanAlert     = "SCAN_ALERT"
)

// Event is a notification. It never carries recipient PII.
type Event struct {
	Type           string               `json:"type"`
	PackageID      string               `json:"packageId,omitempty"`
	TrackingNumber string               `json:"trackingNumber,omitempty"`
	From           models.PackageStatus `json:"from,omitempty"`
	To             models.PackageStatus `json:"to,omitempty"`
	Outcome        models.ScanOutcome   `json:"outcome,omitempty"`
	ScanEventID    string               `json:"scanEventId,omitempty"`
	ActorID        string               `json:"actorId,omitempty"`
	ActorRole      models.Role          `json:"actorRole,omitempty"`
	At             time.Time            `json:"at"`
}

// Publisher delivers events. Retrying a failed delivery is the
// publisher's job, not the caller's.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Safe publishes and logs a failure instead of returning it. A failed
// notification never changes the outcome of the operation that raised it.
func Safe(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.Printf("⚠️ Notify: failed to publish %s for package %s: %v", ev.Type, ev.PackageID, err)
	}
}
