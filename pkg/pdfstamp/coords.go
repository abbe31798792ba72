package pdfstamp

// PageSize is a page extent in PDF points.
type PageSize struct {
	W float64
	H float64
}

// Rect is a rectangle in PDF user space: origin at the bottom-left corner of
// the page, units in points.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// ToPDFRect converts a normalized rectangle (origin top-left, fractions of
// the page) into PDF user space.
func ToPDFRect(x, y, w, h float64, page PageSize) Rect {
	return Rect{
		X: x * page.W,
		Y: page.H - (y+h)*page.H,
		W: w * page.W,
		H: h * page.H,
	}
}

// ToNormalized is the inverse of ToPDFRect.
func ToNormalized(r Rect, page PageSize) (x, y, w, h float64) {
	if page.W == 0 || page.H == 0 {
		return 0, 0, 0, 0
	}
	w = r.W / page.W
	h = r.H / page.H
	x = r.X / page.W
	y = (page.H-r.Y)/page.H - h
	return x, y, w, h
}
