package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SignerKind classifies the party a signer represents.
type SignerKind string

const (
	SignerKindClient         SignerKind = "client"
	SignerKindOpposingParty  SignerKind = "opposing_party"
	SignerKindRepresentative SignerKind = "representative"
	SignerKindThirdParty     SignerKind = "third_party"
	SignerKindStaffUser      SignerKind = "staff_user"
	SignerKindGuest          SignerKind = "guest"
)

// Valid reports whether k is a known signer kind.
func (k SignerKind) Valid() bool {
	switch k {
	case SignerKindClient, SignerKindOpposingParty, SignerKindRepresentative,
		SignerKindThirdParty, SignerKindStaffUser, SignerKindGuest:
		return true
	}
	return false
}

// SignerStatus is pending until the signer finalizes.
type SignerStatus string

const (
	SignerStatusPending   SignerStatus = "pending"
	SignerStatusCompleted SignerStatus = "completed"
)

// IdentitySnapshot is a denormalized copy of the signer's identity, stored as JSON.
type IdentitySnapshot struct {
	Name           string `json:"name,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

// Merge overlays the non-empty fields of other.
func (s IdentitySnapshot) Merge(other IdentitySnapshot) IdentitySnapshot {
	if other.Name != "" {
		s.Name = other.Name
	}
	if other.DocumentNumber != "" {
		s.DocumentNumber = other.DocumentNumber
	}
	if other.Email != "" {
		s.Email = other.Email
	}
	if other.Phone != "" {
		s.Phone = other.Phone
	}
	return s
}

// Value implements driver.Valuer.
func (s IdentitySnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *IdentitySnapshot) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = IdentitySnapshot{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported identity snapshot type %T", src)
	}
	if len(raw) == 0 {
		*s = IdentitySnapshot{}
		return nil
	}
	return json.Unmarshal(raw, s)
}

// Signer is one party required to sign a document.
type Signer struct {
	ID                 int64            `db:"id" json:"-"`
	DocumentID         int64            `db:"document_id" json:"-"`
	Position           int              `db:"position" json:"position"`
	Kind               SignerKind       `db:"signer_kind" json:"signer_kind"`
	EntityID           *string          `db:"entity_id" json:"entity_id,omitempty"`
	Identity           IdentitySnapshot `db:"identity_snapshot" json:"identity"`
	Token              string           `db:"token" json:"-"`
	Status             SignerStatus     `db:"status" json:"status"`
	ExpiresAt          time.Time        `db:"expires_at" json:"expires_at"`
	SignatureKey       *string          `db:"signature_key" json:"-"`
	InitialsKey        *string          `db:"initials_key" json:"-"`
	SelfieKey          *string          `db:"selfie_key" json:"-"`
	ConsentIP          *string          `db:"consent_ip" json:"consent_ip,omitempty"`
	ConsentUserAgent   *string          `db:"consent_user_agent" json:"consent_user_agent,omitempty"`
	ConsentGeolocation *string          `db:"consent_geolocation" json:"consent_geolocation,omitempty"`
	TermsVersion       *string          `db:"terms_version" json:"terms_version,omitempty"`
	DeviceFingerprint  *string          `db:"device_fingerprint" json:"device_fingerprint,omitempty"`
	CompletedAt        *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
}

// Completed reports whether the signer has finalized.
func (s *Signer) Completed() bool {
	return s.Status == SignerStatusCompleted
}

// Consent is the metadata recorded when a signer accepts the terms.
type Consent struct {
	IP                string
	UserAgent         string
	Geolocation       string
	TermsVersion      string
	DeviceFingerprint string
}

// SignerCompletion carries the immutable fields written when a signer completes.
type SignerCompletion struct {
	SignerID     int64
	SignatureKey string
	InitialsKey  *string
	SelfieKey    *string
	Identity     IdentitySnapshot
	Consent      Consent
	CompletedAt  time.Time
	ExpiresAt    time.Time
}
