package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/verify"
)

// ScanRequest is the payload from a scanner app
type ScanRequest struct {
	Envelope     string                 `json:"envelope"` // Raw QR text
	TransitionTo models.PackageStatus   `json:"transitionTo,omitempty"`
	Note         string                 `json:"note,omitempty"`
	Location     map[string]interface{} `json:"location,omitempty"`
}

// handleScan verifies a scanned code. The scanner's identity comes from
// its bearer token, never from the body.
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) {
	var body ScanRequest
	if !decodeBody(w, req, &body) {
		return
	}

	res, err := r.deps.Verifier.Verify(req.Context(), verify.Request{
		Envelope:     body.Envelope,
		Scanner:      identity(req),
		TransitionTo: body.TransitionTo,
		Note:         body.Note,
		Location:     body.Location,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// listScans returns the scan audit trail of a package
func (r *Router) listScans(w http.ResponseWriter, req *http.Request) {
	if !canManageTokens(identity(req)) {
		writeError(w, apperr.ErrUnauthorizedRole)
		return
	}
	id := mux.Vars(req)["id"]
	if _, err := r.deps.Parcels.Get(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	events, err := r.deps.Audit.List(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.ScanEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
