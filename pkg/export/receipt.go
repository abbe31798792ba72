package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jung-kurt/gofpdf"
)

// ReceiptField is one labelled row of a signing receipt.
type ReceiptField struct {
	Label string
	Value string
}

// Receipt describes a completed signature for the signer's records.
type Receipt struct {
	Title       string
	Fields      []ReceiptField
	Signature   []byte
	GeneratedAt time.Time
}

// ReceiptRenderer renders signing receipts as a one page PDF.
type ReceiptRenderer struct{}

// NewReceiptRenderer constructs a receipt renderer.
func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

// Render creates the receipt PDF. The signature image is embedded when it is
// a PNG or JPEG.
func (r *ReceiptRenderer) Render(receipt Receipt) ([]byte, error) {
	if len(receipt.Fields) == 0 {
		return nil, fmt.Errorf("receipt requires at least one field")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	if !receipt.GeneratedAt.IsZero() {
		pdf.SetCreationDate(receipt.GeneratedAt)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	title := receipt.Title
	if title == "" {
		title = "Signing receipt"
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	for _, field := range receipt.Fields {
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(55, 7, tr(field.Label), "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.MultiCell(0, 7, tr(field.Value), "1", "", false)
	}

	if kind := imageKind(receipt.Signature); kind != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(0, 7, "Signature", "", 1, "", false, 0, "")
		opts := gofpdf.ImageOptions{ImageType: kind}
		pdf.RegisterImageOptionsReader("signature", opts, bytes.NewReader(receipt.Signature))
		pdf.ImageOptions("signature", pdf.GetX(), pdf.GetY(), 70, 0, true, opts, 0, "")
	}

	if !receipt.GeneratedAt.IsZero() {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 6, "Generated at "+receipt.GeneratedAt.UTC().Format(time.RFC3339), "", 1, "R", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func imageKind(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/png"):
		return "PNG"
	case mt.Is("image/jpeg"):
		return "JPG"
	default:
		return ""
	}
}
