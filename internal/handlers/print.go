package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/xelth-com/parcelseal/internal/apperr"
	"github.com/xelth-com/parcelseal/internal/services/printer"
	"github.com/xelth-com/parcelseal/internal/tokens"
)

// label builds the printable label of a package's active token
func (r *Router) label(req *http.Request, packageID string) (printer.Label, error) {
	pkg, err := r.deps.Parcels.Get(req.Context(), packageID)
	if err != nil {
		return printer.Label{}, err
	}
	tok, err := r.deps.Tokens.Active(req.Context(), pkg.ID)
	if err != nil {
		return printer.Label{}, err
	}
	return printer.Label{
		TrackingNumber: pkg.TrackingNumber,
		Envelope:       tokens.EnvelopeOf(tok).String(),
		ExpiresAt:      tok.ExpiresAt,
	}, nil
}

// packageQR renders the active token as a PNG
func (r *Router) packageQR(w http.ResponseWriter, req *http.Request) {
	l, err := r.label(req, mux.Vars(req)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	size, _ := strconv.Atoi(req.URL.Query().Get("size"))
	if size > 2048 {
		size = 2048
	}
	png, err := printer.QRCode(l.Envelope, size)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", fmt.Sprintf("Failed to generate QR: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Write(png)
}

// packageLabel renders a single-label PDF
func (r *Router) packageLabel(w http.ResponseWriter, req *http.Request) {
	l, err := r.label(req, mux.Vars(req)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	sheet := printer.SheetConfig{Cols: 1, Rows: 2, MarginTop: 10, MarginLeft: 30}
	r.writePDF(w, []printer.Label{l}, sheet, l.TrackingNumber)
}

type labelsRequest struct {
	PackageIDs []string              `json:"packageIds"`
	Sheet      *printer.SheetConfig `json:"sheet,omitempty"`
}

// generateLabels prints a sheet for several packages
func (r *Router) generateLabels(w http.ResponseWriter, req *http.Request) {
	var body labelsRequest
	if !decodeBody(w, req, &body) {
		return
	}
	if len(body.PackageIDs) == 0 || len(body.PackageIDs) > 200 {
		writeError(w, apperr.Validation("between 1 and 200 package ids are required"))
		return
	}

	sheet := printer.DefaultSheet()
	if body.Sheet != nil {
		sheet = *body.Sheet
	}

	labels := make([]printer.Label, 0, len(body.PackageIDs))
	for _, id := range body.PackageIDs {
		l, err := r.label(req, id)
		if err != nil {
			writeError(w, fmt.Errorf("package %s: %w", id, err))
			return
		}
		labels = append(labels, l)
	}
	r.writePDF(w, labels, sheet, fmt.Sprintf("batch_%d", len(labels)))
}

func (r *Router) writePDF(w http.ResponseWriter, labels []printer.Label, sheet printer.SheetConfig, name string) {
	pdfBytes, err := printer.GenerateLabelsPDF(labels, sheet)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", fmt.Sprintf("Failed to generate PDF: %v", err))
		return
	}

	// Set headers for download
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"label_%s.pdf\"", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdfBytes)))
	w.Write(pdfBytes)
}
