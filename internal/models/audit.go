package models

import "time"

// Signing trail actions.
const (
	AuditActionDocumentCreate    = "DOCUMENT_CREATE"
	AuditActionAnchorsReplace    = "ANCHORS_REPLACE"
	AuditActionDocumentCancel    = "DOCUMENT_CANCEL"
	AuditActionDocumentRecompose = "DOCUMENT_RECOMPOSE"
	AuditActionSignerIdentify    = "SIGNER_IDENTIFY"
	AuditActionSignerComplete    = "SIGNER_COMPLETE"
	AuditActionDocumentComplete  = "DOCUMENT_COMPLETE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Actor      *string   `db:"actor" json:"actor,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Payload    []byte    `db:"payload" json:"payload,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
