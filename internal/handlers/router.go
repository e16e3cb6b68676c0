package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/audit"
	"github.com/xelth-com/parcelseal/internal/buildinfo"
	"github.com/xelth-com/parcelseal/internal/middleware"
	"github.com/xelth-com/parcelseal/internal/models"
	"github.com/xelth-com/parcelseal/internal/notify"
	"github.com/xelth-com/parcelseal/internal/services/parcel"
	"github.com/xelth-com/parcelseal/internal/tokens"
	"github.com/xelth-com/parcelseal/internal/verify"
)

// Deps are the services the HTTP layer calls into
type Deps struct {
	Parcels  *parcel.Service
	Tokens   *tokens.Manager
	Verifier *verify.Service
	Audit    *audit.Log
	Hub      *notify.Hub

	JWTSecret string

	// Ping reports storage health; nil means always healthy
	Ping func() error
	// Metrics serves the Prometheus registry; nil disables /metrics
	Metrics http.Handler
}

// Router wraps the mux router and the services
type Router struct {
	*mux.Router
	deps Deps
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		deps:   deps,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods("GET")
	}

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	// Everything else needs a bearer token
	secured := api.NewRoute().Subrouter()
	secured.Use(middleware.Auth(deps.JWTSecret))

	secured.HandleFunc("/scan", r.handleScan).Methods("POST")

	staff := secured.NewRoute().Subrouter()
	staff.Use(middleware.RequireStaff)

	staff.HandleFunc("/packages", r.intakePackage).Methods("POST")
	staff.HandleFunc("/packages/tracking/{tracking}", r.getPackageByTracking).Methods("GET")
	staff.HandleFunc("/packages/{id}", r.getPackage).Methods("GET")
	staff.HandleFunc("/packages/{id}/recipient", r.updateRecipient).Methods("PUT")
	staff.HandleFunc("/packages/{id}/status", r.changeStatus).Methods("POST")
	staff.HandleFunc("/packages/{id}/override", r.overrideStatus).Methods("POST")
	staff.HandleFunc("/packages/{id}/tokens", r.listTokens).Methods("GET")
	staff.HandleFunc("/packages/{id}/tokens/rotate", r.rotateToken).Methods("POST")
	staff.HandleFunc("/packages/{id}/scans", r.listScans).Methods("GET")
	staff.HandleFunc("/packages/{id}/qr.png", r.packageQR).Methods("GET")
	staff.HandleFunc("/packages/{id}/label.pdf", r.packageLabel).Methods("GET")
	staff.HandleFunc("/labels", r.generateLabels).Methods("POST")
	staff.HandleFunc("/tokens/{id}/invalidate", r.invalidateToken).Methods("POST")

	if deps.Hub != nil {
		staff.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			notify.ServeWs(deps.Hub, w, req)
		}).Methods("GET")
	}

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	if r.deps.Ping != nil {
		if err := r.deps.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "storage unavailable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getStatus returns build and runtime information
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	status := map[string]interface{}{
		"status":     "running",
		"buildTime":  buildinfo.BuildTime,
		"commitTime": buildinfo.CommitTime,
		"commitHash": buildinfo.CommitHash,
		"startTime":  buildinfo.StartTime,
	}
	if r.deps.Tokens != nil {
		status["tokenTTL"] = r.deps.Tokens.TTL().String()
	}
	if r.deps.Audit != nil {
		status["auditPending"] = r.deps.Audit.Pending()
	}
	if r.deps.Hub != nil {
		status["subscribers"] = r.deps.Hub.Count()
	}
	respondJSON(w, http.StatusOK, status)
}

// identity is set by the auth middleware on every secured route
func identity(req *http.Request) models.Identity {
	id, _ := middleware.IdentityFrom(req.Context())
	return id
}

func decodeBody(w http.ResponseWriter, req *http.Request, v interface{}) bool {
	req.Body = http.MaxBytesReader(w, req.Body, 64*1024)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// writeError maps the error taxonomy onto HTTP. Crypto and lookup failures
// reach this point already flattened to apperr.ErrInvalidCode.
func writeError(w http.ResponseWriter, err error) {
	var transition *apperr.InvalidTransitionError
	switch {
	case errors.As(err, &transition):
		respondError(w, http.StatusConflict, "invalid_transition", transition.Error())
	case errors.Is(err, apperr.ErrInvalidCode):
		respondError(w, http.StatusUnprocessableEntity, "invalid_code", "Invalid code")
	case errors.Is(err, apperr.ErrExpiredToken):
		respondError(w, http.StatusGone, "expired", "This code has expired")
	case errors.Is(err, apperr.ErrInactiveToken):
		respondError(w, http.StatusGone, "inactive", "This code is no longer valid")
	case errors.Is(err, apperr.ErrUnauthorizedRole):
		respondError(w, http.StatusForbidden, "forbidden", "Your role may not perform this action")
	case errors.Is(err, apperr.ErrConcurrencyConflict):
		respondError(w, http.StatusConflict, "conflict", "The package was updated concurrently, reload and retry")
	case errors.Is(err, apperr.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, apperr.ErrValidation):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperr.ErrStorageUnavailable):
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage is temporarily unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal", "Internal error")
	}
}

// tokenView is a token as staff see it, with the envelope text for printing
type tokenView struct {
	*models.Token
	Envelope string `json:"envelope,omitempty"`
}

func viewToken(tok *models.Token, withEnvelope bool) tokenView {
	v := tokenView{Token: tok}
	if withEnvelope && tok.IsActive {
		v.Envelope = tokens.EnvelopeOf(tok).String()
	}
	return v
}
