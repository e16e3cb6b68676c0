package printer

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// Label is one printed parcel label. It carries only what is safe to show
// on the outside of a box: the recipient stays sealed in the envelope.
type Label struct {
	TrackingNumber string
	Envelope       string // Envelope JSON encoded into the QR code
	ExpiresAt      time.Time
}

// SheetConfig lays labels out on an A4 page
type SheetConfig struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	MarginTop  float64 `json:"marginTop"`
	MarginLeft float64 `json:"marginLeft"`
	GapX       float64 `json:"gapX"`
	GapY       float64 `json:"gapY"`
}

// DefaultSheet is a 2x2 grid of A6-sized labels
func DefaultSheet() SheetConfig {
	return SheetConfig{Cols: 2, Rows: 2, MarginTop: 5, MarginLeft: 5, GapX: 0, GapY: 0}
}

// QRCode renders content as a PNG. Medium recovery keeps sealed envelopes
// readable through minor label damage.
func QRCode(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("empty QR content")
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}

// GenerateLabelsPDF creates a PDF sheet of parcel labels
func GenerateLabelsPDF(labels []Label, cfg SheetConfig) ([]byte, error) {
	if len(labels) == 0 {
		return nil, errors.New("no labels to print")
	}
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		return nil, fmt.Errorf("invalid sheet grid %dx%d", cfg.Cols, cfg.Rows)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Arial", "B", 10)

	// A4 dimensions
	pageWidth, pageHeight := 210.0, 297.0

	totalGapX := float64(cfg.Cols-1) * cfg.GapX
	totalGapY := float64(cfg.Rows-1) * cfg.GapY

	// Symmetric margins
	availW := pageWidth - (cfg.MarginLeft * 2)
	availH := pageHeight - (cfg.MarginTop * 2)

	labelW := (availW - totalGapX) / float64(cfg.Cols)
	labelH := (availH - totalGapY) / float64(cfg.Rows)

	labelsPerPage := cfg.Cols * cfg.Rows
	imgOptions := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}

	for i, label := range labels {
		if i%labelsPerPage == 0 {
			pdf.AddPage()
		}

		indexOnPage := i % labelsPerPage
		col := indexOnPage % cfg.Cols
		row := indexOnPage / cfg.Cols

		// Top-left of the label
		x := cfg.MarginLeft + float64(col)*(labelW+cfg.GapX)
		y := cfg.MarginTop + float64(row)*(labelH+cfg.GapY)

		qrPng, err := QRCode(label.Envelope, 512)
		if err != nil {
			return nil, fmt.Errorf("label %s: %w", label.TrackingNumber, err)
		}
		imgName := fmt.Sprintf("qr_%d", i)
		pdf.RegisterImageOptionsReader(imgName, imgOptions, bytes.NewReader(qrPng))

		// QR centered, 70% of the label height, leaving room for text
		qrSize := labelH * 0.7
		if qrSize > labelW {
			qrSize = labelW * 0.9
		}
		qrX := x + (labelW-qrSize)/2
		qrY := y + 12

		// Tracking number on top
		pdf.SetXY(x, y+3)
		pdf.SetFontSize(14)
		pdf.CellFormat(labelW, 7, label.TrackingNumber, "", 0, "C", false, 0, "")

		pdf.ImageOptions(imgName, qrX, qrY, qrSize, qrSize, false, imgOptions, 0, "")

		if !label.ExpiresAt.IsZero() {
			pdf.SetXY(x, qrY+qrSize+2)
			pdf.SetFontSize(7)
			pdf.CellFormat(labelW, 4, "Valid until "+label.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"), "", 0, "C", false, 0, "")
		}

		// Cut guide
		pdf.SetDrawColor(200, 200, 200)
		pdf.Rect(x, y, labelW, labelH, "D")
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
