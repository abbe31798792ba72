package dto

import (
	"time"

	"github.com/noah-isme/esign-api/internal/models"
)

// SignerDefinition describes one signer when creating a document.
type SignerDefinition struct {
	Kind           models.SignerKind `json:"signer_kind" validate:"required,oneof=client opposing_party representative third_party staff_user guest"`
	EntityID       *string           `json:"entity_id,omitempty" validate:"omitempty,max=128"`
	Name           string            `json:"name" validate:"omitempty,max=255"`
	DocumentNumber string            `json:"document_number" validate:"omitempty,max=64"`
	Email          string            `json:"email" validate:"omitempty,email"`
	Phone          string            `json:"phone" validate:"omitempty,max=32"`
	SelfieRequired bool              `json:"selfie_required"`
	TTLHours       int               `json:"ttl_hours" validate:"omitempty,min=1"`
}

// CreateDocumentRequest is the metadata part of a document upload.
type CreateDocumentRequest struct {
	Title          *string            `json:"title,omitempty" validate:"omitempty,max=255"`
	SelfieRequired bool               `json:"selfie_required"`
	Signers        []SignerDefinition `json:"signers" validate:"required,min=1,max=20,dive"`
}

// AnchorInput positions one stamp for a signer, referenced by position.
type AnchorInput struct {
	Signer int               `json:"signer" validate:"required,min=1"`
	Kind   models.AnchorKind `json:"tipo" validate:"required,oneof=signature initials"`
	Page   int               `json:"page" validate:"required,min=1"`
	X      float64           `json:"x" validate:"gte=0,lte=1"`
	Y      float64           `json:"y" validate:"gte=0,lte=1"`
	W      float64           `json:"w" validate:"gt=0,lte=1"`
	H      float64           `json:"h" validate:"gt=0,lte=1"`
}

// SetAnchorsRequest replaces the anchor set of a document.
type SetAnchorsRequest struct {
	Anchors []AnchorInput `json:"anchors" validate:"required,min=1,dive"`
}

// DocumentListQuery captures list filters from the query string.
type DocumentListQuery struct {
	Status    string `form:"status" validate:"omitempty,oneof=draft ready completed cancelled"`
	Search    string `form:"search"`
	Mine      bool   `form:"mine"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"page_size" validate:"omitempty,min=1,max=100"`
	SortOrder string `form:"sort" validate:"omitempty,oneof=asc desc"`
}

// SignerLink is a signer as returned to staff, with its public link.
type SignerLink struct {
	Position    int                     `json:"position"`
	Kind        models.SignerKind       `json:"signer_kind"`
	EntityID    *string                 `json:"entity_id,omitempty"`
	Identity    models.IdentitySnapshot `json:"identity"`
	Status      models.SignerStatus     `json:"status"`
	Link        string                  `json:"link"`
	ExpiresAt   time.Time               `json:"expires_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// AnchorView is an anchor as returned to staff.
type AnchorView struct {
	Signer int               `json:"signer"`
	Kind   models.AnchorKind `json:"tipo"`
	Page   int               `json:"page"`
	X      float64           `json:"x"`
	Y      float64           `json:"y"`
	W      float64           `json:"w"`
	H      float64           `json:"h"`
}

// DocumentDetail is the staff view of a document.
type DocumentDetail struct {
	Document    *models.Document `json:"document"`
	Signers     []SignerLink     `json:"signers"`
	Anchors     []AnchorView     `json:"anchors"`
	OriginalURL string           `json:"original_url,omitempty"`
	FinalURL    string           `json:"final_url,omitempty"`
}

// IdentificationRequest lets a signer correct their identity.
type IdentificationRequest struct {
	Name           string `json:"name" validate:"omitempty,max=255"`
	DocumentNumber string `json:"document_number" validate:"omitempty,max=64"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone" validate:"omitempty,max=32"`
}

// FinalizeRequest carries the signer's artifacts as base64 or data URLs.
type FinalizeRequest struct {
	Signature         string                 `json:"signature"`
	Initials          string                 `json:"initials,omitempty"`
	Selfie            string                 `json:"selfie,omitempty"`
	TermsVersion      string                 `json:"terms_version" validate:"required,max=32"`
	Geolocation       string                 `json:"geolocation,omitempty" validate:"omitempty,max=128"`
	DeviceFingerprint string                 `json:"device_fingerprint,omitempty" validate:"omitempty,max=256"`
	Identity          *IdentificationRequest `json:"identity,omitempty"`
}

// SigningSession is what a signer sees when opening their link.
type SigningSession struct {
	DocumentUUID     string                  `json:"document_uuid"`
	DocumentTitle    *string                 `json:"document_title,omitempty"`
	DocumentStatus   models.DocumentStatus   `json:"document_status"`
	PageCount        int                     `json:"page_count"`
	Kind             models.SignerKind       `json:"signer_kind"`
	Identity         models.IdentitySnapshot `json:"identity"`
	Status           models.SignerStatus     `json:"status"`
	ExpiresAt        time.Time               `json:"expires_at"`
	InitialsRequired bool                    `json:"initials_required"`
	SelfieRequired   bool                    `json:"selfie_required"`
	TermsVersion     string                  `json:"terms_version"`
	Anchors          []AnchorView            `json:"anchors"`
}

// FinalizeResult is returned after a successful finalize.
type FinalizeResult struct {
	DocumentUUID     string                `json:"document_uuid"`
	FinalURL         string                `json:"final_url"`
	HashFinal        string                `json:"hash_final"`
	DocumentStatus   models.DocumentStatus `json:"document_status"`
	SignersCompleted int                   `json:"signers_completed"`
	SignersTotal     int                   `json:"signers_total"`
	DownloadUntil    time.Time             `json:"download_until"`
}

// FileDownload is a binary payload for the public download endpoints.
type FileDownload struct {
	Filename    string
	ContentType string
	Data        []byte
}
