package pdfstamp

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

const pageBox = "/MediaBox"

var (
	// ErrNotPDF is returned when the source bytes are not a PDF document.
	ErrNotPDF = errors.New("source is not a pdf document")
	// ErrUnsupportedImage is returned for artifacts other than PNG or JPEG.
	ErrUnsupportedImage = errors.New("unsupported image format")
)

// Placement is one image to draw, positioned with normalized coordinates.
type Placement struct {
	Page  int
	X     float64
	Y     float64
	W     float64
	H     float64
	Image []byte
	Label string
}

// Applied records a placement that was drawn.
type Applied struct {
	Label string
	Page  int
	Rect  Rect
}

// Skipped records a placement that was not drawn and why.
type Skipped struct {
	Label  string
	Page   int
	Reason string
}

// Result is the output of a stamping pass.
type Result struct {
	Data    []byte
	Pages   int
	Applied []Applied
	Skipped []Skipped
}

// Stamper rewrites a PDF page by page and draws images over it. The creation
// date is pinned to CreationDate, but the importer does not keep a stable
// object order, so equal inputs give equivalent documents, not equal bytes.
type Stamper struct {
	CreationDate time.Time
}

// NewStamper returns a stamper with a fixed creation date.
func NewStamper() *Stamper {
	return &Stamper{CreationDate: time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

// Inspect returns the media box of every page.
func Inspect(source []byte) (sizes []PageSize, err error) {
	if !isPDF(source) {
		return nil, ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			sizes, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()

	pdf := gofpdf.New("P", "pt", "A4", "")
	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(source))
	importer.ImportPageFromStream(pdf, &rs, 1, pageBox)
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return pageSizes(importer.GetPageSizes())
}

// Stamp imports every page of source and draws the placements on top.
// Placements are applied in slice order; a placement on a page that does
// not exist is skipped and reported.
func (s *Stamper) Stamp(source []byte, placements []Placement) (result *Result, err error) {
	if !isPDF(source) {
		return nil, ErrNotPDF
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("stamp pdf: %v", r)
		}
	}()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", Size: gofpdf.SizeType{Wd: 595.28, Ht: 841.89}})
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.SetCreationDate(s.CreationDate)
	pdf.SetCatalogSort(true)

	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(source))
	first := importer.ImportPageFromStream(pdf, &rs, 1, pageBox)
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("import pdf: %w", err)
	}
	sizes, err := pageSizes(importer.GetPageSizes())
	if err != nil {
		return nil, err
	}

	byPage := make(map[int][]Placement)
	result = &Result{Pages: len(sizes)}
	for _, p := range placements {
		if p.Page < 1 || p.Page > len(sizes) {
			result.Skipped = append(result.Skipped, Skipped{Label: p.Label, Page: p.Page, Reason: "page out of range"})
			continue
		}
		byPage[p.Page] = append(byPage[p.Page], p)
	}

	for i, size := range sizes {
		page := i + 1
		tpl := first
		if page > 1 {
			tpl = importer.ImportPageFromStream(pdf, &rs, page, pageBox)
		}
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: size.W, Ht: size.H})
		importer.UseImportedTemplate(pdf, tpl, 0, 0, size.W, size.H)

		for _, p := range byPage[page] {
			kind, err := imageType(p.Image)
			if err != nil {
				result.Skipped = append(result.Skipped, Skipped{Label: p.Label, Page: page, Reason: err.Error()})
				continue
			}
			name := imageName(p.Image)
			opts := gofpdf.ImageOptions{ImageType: kind}
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(p.Image))
			rect := ToPDFRect(p.X, p.Y, p.W, p.H, size)
			// gofpdf places images from the top-left corner
			pdf.ImageOptions(name, rect.X, p.Y*size.H, rect.W, rect.H, false, opts, 0, "")
			result.Applied = append(result.Applied, Applied{Label: p.Label, Page: page, Rect: rect})
		}
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("render page %d: %w", page, err)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	result.Data = buf.Bytes()
	return result, nil
}

func pageSizes(raw map[int]map[string]map[string]float64) ([]PageSize, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	pages := make([]int, 0, len(raw))
	for page := range raw {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	sizes := make([]PageSize, 0, len(pages))
	for _, page := range pages {
		box, ok := raw[page][pageBox]
		if !ok || box["w"] <= 0 || box["h"] <= 0 {
			return nil, fmt.Errorf("page %d has no media box", page)
		}
		sizes = append(sizes, PageSize{W: box["w"], H: box["h"]})
	}
	return sizes, nil
}

func isPDF(data []byte) bool {
	return len(data) > 0 && mimetype.Detect(data).Is("application/pdf")
}

func imageType(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/png"):
		return "PNG", nil
	case mt.Is("image/jpeg"):
		return "JPG", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
	}
}

func imageName(data []byte) string {
	sum := sha256.Sum256(data)
	return "img-" + hex.EncodeToString(sum[:8])
}
