package models

import "time"

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "draft"
	DocumentStatusReady     DocumentStatus = "ready"
	DocumentStatusCompleted DocumentStatus = "completed"
	DocumentStatusCancelled DocumentStatus = "cancelled"
)

// Document is a PDF awaiting signatures from one or more signers.
type Document struct {
	ID             int64          `db:"id" json:"-"`
	UUID           string         `db:"uuid" json:"uuid"`
	Title          *string        `db:"title" json:"title,omitempty"`
	SelfieRequired bool           `db:"selfie_required" json:"selfie_required"`
	OriginalKey    string         `db:"original_key" json:"-"`
	FinalKey       *string        `db:"final_key" json:"-"`
	HashOriginal   string         `db:"hash_original" json:"hash_original"`
	HashFinal      *string        `db:"hash_final" json:"hash_final,omitempty"`
	Status         DocumentStatus `db:"status" json:"status"`
	PageCount      int            `db:"page_count" json:"page_count"`
	CreatedBy      string         `db:"created_by" json:"created_by"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt    *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// DocumentSummary is a list row with derived signer counts.
type DocumentSummary struct {
	Document
	SignersTotal     int `db:"signers_total" json:"signers_total"`
	SignersCompleted int `db:"signers_completed" json:"signers_completed"`
}

// DocumentFilter captures list criteria.
type DocumentFilter struct {
	Status    *DocumentStatus
	CreatedBy string
	Search    string
	Page      int
	PageSize  int
	SortOrder string
}

// FinalArtifact is the persisted result of a composition pass.
type FinalArtifact struct {
	Key    string
	Hash   string
	Status DocumentStatus
}
