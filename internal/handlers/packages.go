package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/services/parcel"
	"github.com/xelth-com/parcelseal/internal/status"
)

type statusRequest struct {
	Status models.PackageStatus `json:"status"`
	Note   string               `json:"note"`
}

type packageResponse struct {
	Package *models.Package `json:"package"`
	Token   *tokenView      `json:"token,omitempty"`
	// Next lists the statuses the caller may move the package to
	Next []models.PackageStatus `json:"next,omitempty"`
}

func (r *Router) packageResponse(req *http.Request, pkg *models.Package, tok *models.Token) packageResponse {
	resp := packageResponse{Package: pkg, Next: nextStatuses(pkg, identity(req))}
	if tok != nil {
		v := viewToken(tok, true)
		resp.Token = &v
	}
	return resp
}

// intakePackage creates a package and returns its first token
func (r *Router) intakePackage(w http.ResponseWriter, req *http.Request) {
	var body parcel.IntakeRequest
	if !decodeBody(w, req, &body) {
		return
	}

	pkg, tok, err := r.deps.Parcels.Intake(req.Context(), identity(req), body)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, r.packageResponse(req, pkg, tok))
}

func (r *Router) getPackage(w http.ResponseWriter, req *http.Request) {
	pkg, err := r.deps.Parcels.Get(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.packageResponse(req, pkg, nil))
}

func (r *Router) getPackageByTracking(w http.ResponseWriter, req *http.Request) {
	pkg, err := r.deps.Parcels.GetByTracking(req.Context(), mux.Vars(req)["tracking"])
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.packageResponse(req, pkg, nil))
}

// updateRecipient edits the protected recipient data; the token rotates
func (r *Router) updateRecipient(w http.ResponseWriter, req *http.Request) {
	var body models.Recipient
	if !decodeBody(w, req, &body) {
		return
	}

	pkg, tok, err := r.deps.Parcels.UpdateRecipient(req.Context(), identity(req), mux.Vars(req)["id"], body)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.packageResponse(req, pkg, tok))
}

// changeStatus applies a normal transition without a scan
func (r *Router) changeStatus(w http.ResponseWriter, req *http.Request) {
	var body statusRequest
	if !decodeBody(w, req, &body) {
		return
	}

	pkg, err := r.deps.Parcels.ChangeStatus(req.Context(), identity(req), mux.Vars(req)["id"], body.Status, body.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.packageResponse(req, pkg, nil))
}

// overrideStatus is the admin escape hatch out of terminal statuses
func (r *Router) overrideStatus(w http.ResponseWriter, req *http.Request) {
	var body statusRequest
	if !decodeBody(w, req, &body) {
		return
	}

	pkg, tok, err := r.deps.Parcels.Override(req.Context(), identity(req), mux.Vars(req)["id"], body.Status, body.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.packageResponse(req, pkg, tok))
}

// listTokens returns every token of a package, newest envelope included
func (r *Router) listTokens(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if _, err := r.deps.Parcels.Get(req.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	list, err := r.deps.Tokens.List(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]tokenView, 0, len(list))
	for i := range list {
		views = append(views, viewToken(&list[i], false))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tokens": views})
}

// rotateToken replaces the active token, e.g. after a label was lost
func (r *Router) rotateToken(w http.ResponseWriter, req *http.Request) {
	if !canManageTokens(identity(req)) {
		writeError(w, apperr.ErrUnauthorizedRole)
		return
	}
	pkg, err := r.deps.Parcels.Get(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	tok, err := r.deps.Tokens.Rotate(req.Context(), pkg)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.packageResponse(req, pkg, tok))
}

type invalidateRequest struct {
	Reason string `json:"reason"`
}

// invalidateToken revokes one token; repeating it is harmless
func (r *Router) invalidateToken(w http.ResponseWriter, req *http.Request) {
	if !canManageTokens(identity(req)) {
		writeError(w, apperr.ErrUnauthorizedRole)
		return
	}
	var body invalidateRequest
	if req.ContentLength != 0 && !decodeBody(w, req, &body) {
		return
	}

	id := mux.Vars(req)["id"]
	if err := r.deps.Tokens.Invalidate(req.Context(), id, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	tok, err := r.deps.Tokens.Get(req.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewToken(tok, false))
}

func nextStatuses(pkg *models.Package, id models.Identity) []models.PackageStatus {
	return status.Next(pkg.Status, id.Role)
}

func canManageTokens(id models.Identity) bool {
	return id.Role == models.RoleAdmin || id.Role == models.RoleDispatcher
}
