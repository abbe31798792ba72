package models

import "time"

// AnchorKind selects which artifact is drawn in an anchor.
type AnchorKind string

const (
	AnchorKindSignature AnchorKind = "signature"
	AnchorKindInitials  AnchorKind = "initials"
)

// Valid reports whether k is a known anchor kind.
func (k AnchorKind) Valid() bool {
	return k == AnchorKindSignature || k == AnchorKindInitials
}

// Anchor is a normalized rectangle on a page where a signer's artifact is
// stamped. Y is measured from the top of the page.
type Anchor struct {
	ID         int64      `db:"id" json:"id"`
	DocumentID int64      `db:"document_id" json:"-"`
	SignerID   int64      `db:"signer_id" json:"-"`
	Kind       AnchorKind `db:"tipo" json:"tipo"`
	Page       int        `db:"page" json:"page"`
	X          float64    `db:"x" json:"x"`
	Y          float64    `db:"y" json:"y"`
	W          float64    `db:"w" json:"w"`
	H          float64    `db:"h" json:"h"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
