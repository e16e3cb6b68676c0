// Package status implements the package delivery state machine as pure
// functions: they return the next package state together with the history
// entry to persist, and never write anything themselves.
package status

import (
	"time"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/models"
)

// edges is the normal transition table. Cancellation is handled separately
// because it is allowed from every non-terminal status.
var edges = map[models.PackageStatus][]models.PackageStatus{
	models.StatusCreated:        {models.StatusInTransit},
	models.StatusInTransit:      {models.StatusOutForDelivery},
	models.StatusOutForDelivery: {models.StatusDelivered, models.StatusFailed},
	models.StatusFailed:         {models.StatusInTransit, models.StatusReturned},
}

// Next lists the statuses reachable from s for the given role
func Next(s models.PackageStatus, role models.Role) []models.PackageStatus {
	if s.IsTerminal() {
		return nil
	}
	next := append([]models.PackageStatus(nil), edges[s]...)
	if role == models.RoleAdmin {
		next = append(next, models.StatusCancelled)
	}
	return next
}

// Check reports whether actor may move a package from one status to another
// through a normal transition
func Check(from, to models.PackageStatus, actor models.Identity) error {
	if !to.Valid() {
		return &apperr.InvalidTransitionError{From: from, To: to, Reason: "unknown status"}
	}
	if from.IsTerminal() {
		return &apperr.InvalidTransitionError{From: from, To: to, Reason: "package is in a terminal status"}
	}
	if to == models.StatusCancelled {
		if actor.Role != models.RoleAdmin {
			return &apperr.InvalidTransitionError{From: from, To: to, Reason: "only an admin may cancel"}
		}
		return nil
	}
	for _, allowed := range edges[from] {
		if allowed == to {
			return nil
		}
	}
	return &apperr.InvalidTransitionError{From: from, To: to}
}

// Transition applies a normal edge. On error pkg is returned unchanged in
// meaning: the caller must not persist anything.
func Transition(pkg models.Package, to models.PackageStatus, actor models.Identity, note string, at time.Time) (models.Package, models.StatusHistoryEntry, error) {
	if err := Check(pkg.Status, to, actor); err != nil {
		return pkg, models.StatusHistoryEntry{}, err
	}
	return apply(pkg, to, actor, note, at, models.HistoryActionTransition)
}

// Override moves a package out of a terminal status. It is admin-only and
// is recorded as its own history action, distinct from a normal transition.
func Override(pkg models.Package, to models.PackageStatus, actor models.Identity, note string, at time.Time) (models.Package, models.StatusHistoryEntry, error) {
	switch {
	case actor.Role != models.RoleAdmin:
		return pkg, models.StatusHistoryEntry{}, &apperr.InvalidTransitionError{From: pkg.Status, To: to, Reason: "override requires admin"}
	case !to.Valid():
		return pkg, models.StatusHistoryEntry{}, &apperr.InvalidTransitionError{From: pkg.Status, To: to, Reason: "unknown status"}
	case !pkg.Status.IsTerminal():
		return pkg, models.StatusHistoryEntry{}, &apperr.InvalidTransitionError{From: pkg.Status, To: to, Reason: "override only applies to terminal statuses"}
	case to == pkg.Status:
		return pkg, models.StatusHistoryEntry{}, &apperr.InvalidTransitionError{From: pkg.Status, To: to, Reason: "package already has this status"}
	case note == "":
		return pkg, models.StatusHistoryEntry{}, &apperr.InvalidTransitionError{From: pkg.Status, To: to, Reason: "override requires a note"}
	}
	return apply(pkg, to, actor, note, at, models.HistoryActionAdminOverride)
}

func apply(pkg models.Package, to models.PackageStatus, actor models.Identity, note string, at time.Time, action string) (models.Package, models.StatusHistoryEntry, error) {
	entry := models.StatusHistoryEntry{
		PackageID:      pkg.ID,
		Seq:            len(pkg.History) + 1,
		Status:         to,
		PreviousStatus: pkg.Status,
		Action:         action,
		ActorID:        actor.SubjectID,
		ActorRole:      actor.Role,
		Note:           note,
		Timestamp:      at.UTC(),
	}

	next := pkg.Clone()
	next.Status = to
	next.History = append(next.History, entry)
	next.UpdatedAt = entry.Timestamp
	return next, entry, nil
}
