// Package audit records every scan attempt, authorized or not.
//
// Writes are best-effort from the caller's point of view: Record never
// fails the scan that produced the event. An event the store refuses is
// kept in a retry queue and written later by Flush or Run.
package audit

import (
	"context"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/xelth-com/parcelseal/internal/metrics"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/store"
)

// DefaultMaxPending caps the retry queue
const DefaultMaxPending = 10000

// envelopeDomainKey separates envelope digests from any other BLAKE3 use
var envelopeDomainKey = [32]byte{
	'p', 'a', 'r', 'c', 'e', 'l', 's', 'e', 'a', 'l', '.', 's', 'c', 'a', 'n', '.',
	'e', 'n', 'v', 'e', 'l', 'o', 'p', 'e', 0, 0, 0, 0, 0, 0, 0, 0,
}

// Log is the scan audit log
type Log struct {
	store store.ScanEventStore

	mu         sync.Mutex
	pending    []models.ScanEvent
	maxPending int

	// NowFunc stamps events; defaults to time.Now
	NowFunc func() time.Time
}

// NewLog creates an audit log writing to s
func NewLog(s store.ScanEventStore) *Log {
	return &Log{
		store:      s,
		maxPending: DefaultMaxPending,
		NowFunc:    time.Now,
	}
}

// SetMaxPending changes the retry queue cap
func (l *Log) SetMaxPending(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > 0 {
		l.maxPending = n
	}
}

// Record assigns an id and timestamp and writes the event. A store error is
// logged and the event queued; it is never returned.
func (l *Log) Record(ctx context.Context, ev models.ScanEvent) models.ScanEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.NowFunc().UTC()
	}
	metrics.ScansTotal.WithLabelValues(string(ev.Outcome)).Inc()

	// Earlier failures go first so the trail stays in order
	if l.Pending() > 0 {
		l.Flush(ctx)
	}
	if l.Pending() == 0 {
		err := l.store.AppendScanEvent(ctx, &ev)
		if err == nil {
			return ev
		}
		log.Printf("⚠️ Audit: failed to write scan event %s (%s): %v, queued for retry", ev.ID, ev.Outcome, err)
	}

	l.enqueue(ev)
	return ev
}

func (l *Log) enqueue(ev models.ScanEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) >= l.maxPending {
		dropped := l.pending[0]
		l.pending = l.pending[1:]
		log.Printf("❌ Audit: retry queue full, dropping scan event %s (%s, package %q)", dropped.ID, dropped.Outcome, dropped.PackageID)
	}
	l.pending = append(l.pending, ev)
	metrics.AuditPending.Set(float64(len(l.pending)))
}

// Pending is the number of events waiting for retry
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush retries queued events in order and stops at the first failure.
// It returns how many were written.
func (l *Log) Flush(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	written := 0
	for len(l.pending) > 0 {
		ev := l.pending[0]
		if err := l.store.AppendScanEvent(ctx, &ev); err != nil {
			metrics.AuditPending.Set(float64(len(l.pending)))
			return written, err
		}
		l.pending = l.pending[1:]
		written++
	}
	l.pending = nil
	metrics.AuditPending.Set(0)
	return written, nil
}

// Run flushes the retry queue every interval until ctx is done
func (l *Log) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := l.Pending(); n > 0 {
				log.Printf("⚠️ Audit: stopping with %d scan events still queued", n)
			}
			return
		case <-ticker.C:
			if l.Pending() == 0 {
				continue
			}
			n, err := l.Flush(ctx)
			if n > 0 {
				log.Printf("✅ Audit: wrote %d queued scan events", n)
			}
			if err != nil {
				log.Printf("⚠️ Audit: retry failed, %d events still queued: %v", l.Pending(), err)
			}
		}
	}
}

// List returns a package's scan events
func (l *Log) List(ctx context.Context, packageID string) ([]models.ScanEvent, error) {
	return l.store.ListScanEvents(ctx, packageID)
}

// Digest fingerprints a raw envelope for the audit trail without storing it
func Digest(raw string) string {
	h, err := blake3.NewKeyed(envelopeDomainKey[:])
	if err != nil {
		// Only fails on a key that is not 32 bytes
		panic("audit: " + err.Error())
	}
	h.WriteString(raw)
	return hex.EncodeToString(h.Sum(nil))
}
