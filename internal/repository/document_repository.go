package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/esign-api/internal/models"
)

var (
	// ErrStatusConflict is returned when a guarded status update matched no row.
	ErrStatusConflict = errors.New("document status changed concurrently")
	// ErrSignerNotPending is returned when completing a signer that already completed.
	ErrSignerNotPending = errors.New("signer is not pending")
)

const documentColumns = `id, uuid, title, selfie_required, original_key, final_key, hash_original, hash_final, status,
        page_count, created_by, created_at, updated_at, completed_at, cancelled_at`

const signerColumns = `id, document_id, position, signer_kind, entity_id, identity_snapshot, token, status, expires_at,
        signature_key, initials_key, selfie_key, consent_ip, consent_user_agent, consent_geolocation, terms_version,
        device_fingerprint, completed_at, created_at`

const anchorColumns = `id, document_id, signer_id, tipo, page, x, y, w, h, created_at`

// DocumentRepository persists documents, their signers and anchors.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new repository instance.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateWithSigners inserts a document and its signers in one transaction.
func (r *DocumentRepository) CreateWithSigners(ctx context.Context, doc *models.Document, signers []*models.Signer) error {
	if doc.UUID == "" {
		doc.UUID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.DocumentStatusDraft
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const insertDocument = `INSERT INTO documents (uuid, title, selfie_required, original_key, hash_original, status, page_count, created_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	if err := tx.QueryRowxContext(ctx, insertDocument,
		doc.UUID, doc.Title, doc.SelfieRequired, doc.OriginalKey, doc.HashOriginal, doc.Status,
		doc.PageCount, doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt,
	).Scan(&doc.ID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert document: %w", err)
	}

	const insertSigner = `INSERT INTO signers (document_id, position, signer_kind, entity_id, identity_snapshot, token, status, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	for i, signer := range signers {
		signer.DocumentID = doc.ID
		signer.Position = i + 1
		if signer.Status == "" {
			signer.Status = models.SignerStatusPending
		}
		signer.CreatedAt = now
		if err := tx.QueryRowxContext(ctx, insertSigner,
			signer.DocumentID, signer.Position, signer.Kind, signer.EntityID, signer.Identity,
			signer.Token, signer.Status, signer.ExpiresAt, signer.CreatedAt,
		).Scan(&signer.ID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert signer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

// FindByUUID returns a document by its public identifier.
func (r *DocumentRepository) FindByUUID(ctx context.Context, id string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE uuid = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByID returns a document by internal id.
func (r *DocumentRepository) FindByID(ctx context.Context, id int64) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// List returns document summaries with signer counts and the total match count.
func (r *DocumentRepository) List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentSummary, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND d.status = $%d", len(args)+1)
		args = append(args, *filter.Status)
	}
	if filter.CreatedBy != "" {
		where += fmt.Sprintf(" AND d.created_by = $%d", len(args)+1)
		args = append(args, filter.CreatedBy)
	}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND d.title ILIKE $%d", len(args)+1)
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM documents d"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}

	query := `SELECT d.id, d.uuid, d.title, d.selfie_required, d.original_key, d.final_key, d.hash_original, d.hash_final,
        d.status, d.page_count, d.created_by, d.created_at, d.updated_at, d.completed_at, d.cancelled_at,
        COUNT(s.id) AS signers_total,
        COUNT(s.id) FILTER (WHERE s.status = 'completed') AS signers_completed
        FROM documents d
        LEFT JOIN signers s ON s.document_id = d.id` + where + `
        GROUP BY d.id
        ORDER BY d.created_at ` + order + fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)

	var rows []models.DocumentSummary
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return rows, total, nil
}

// UpdateStatus moves a document to next when its current status is one of from.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, documentID int64, from []models.DocumentStatus, next models.DocumentStatus, at time.Time) error {
	const query = `UPDATE documents SET status = $2, updated_at = $3,
        cancelled_at = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancelled_at END
        WHERE id = $1 AND status = ANY($4)`
	res, err := r.db.ExecContext(ctx, query, documentID, next, at, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return expectOneRow(res, ErrStatusConflict)
}

// ReplaceAnchors swaps the anchor set and moves the document to next in one
// transaction. The status guard rejects documents that left the from set.
func (r *DocumentRepository) ReplaceAnchors(ctx context.Context, documentID int64, anchors []models.Anchor, from []models.DocumentStatus, next models.DocumentStatus) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	const guard = `UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1 AND status = ANY($4)`
	res, err := tx.ExecContext(ctx, guard, documentID, next, now, pq.Array(statusStrings(from)))
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update document status: %w", err)
	}
	if err := expectOneRow(res, ErrStatusConflict); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := r.replaceAnchorsTx(ctx, tx, documentID, anchors, now); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit anchors: %w", err)
	}
	return nil
}

func (r *DocumentRepository) replaceAnchorsTx(ctx context.Context, tx *sqlx.Tx, documentID int64, anchors []models.Anchor, now time.Time) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM anchors WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("clear anchors: %w", err)
	}
	const insertAnchor = `INSERT INTO anchors (document_id, signer_id, tipo, page, x, y, w, h, created_at)
        VALUES (:document_id, :signer_id, :tipo, :page, :x, :y, :w, :h, :created_at)`
	for i := range anchors {
		anchors[i].DocumentID = documentID
		anchors[i].CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, insertAnchor, anchors[i]); err != nil {
			return fmt.Errorf("insert anchor: %w", err)
		}
	}
	return nil
}

// ListSigners returns the signers of a document ordered by id.
func (r *DocumentRepository) ListSigners(ctx context.Context, documentID int64) ([]models.Signer, error) {
	query := `SELECT ` + signerColumns + ` FROM signers WHERE document_id = $1 ORDER BY id`
	var signers []models.Signer
	if err := r.db.SelectContext(ctx, &signers, query, documentID); err != nil {
		return nil, fmt.Errorf("list signers: %w", err)
	}
	return signers, nil
}

// FindSignerByToken resolves a capability token.
func (r *DocumentRepository) FindSignerByToken(ctx context.Context, token string) (*models.Signer, error) {
	query := `SELECT ` + signerColumns + ` FROM signers WHERE token = $1`
	var signer models.Signer
	if err := r.db.GetContext(ctx, &signer, query, token); err != nil {
		return nil, err
	}
	return &signer, nil
}

// UpdateSignerIdentity stores a new identity snapshot for a pending signer.
func (r *DocumentRepository) UpdateSignerIdentity(ctx context.Context, signerID int64, identity models.IdentitySnapshot) error {
	const query = `UPDATE signers SET identity_snapshot = $2 WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, signerID, identity)
	if err != nil {
		return fmt.Errorf("update signer identity: %w", err)
	}
	return expectOneRow(res, ErrSignerNotPending)
}

// ListAnchors returns every anchor of a document ordered by signer then id.
func (r *DocumentRepository) ListAnchors(ctx context.Context, documentID int64) ([]models.Anchor, error) {
	query := `SELECT ` + anchorColumns + ` FROM anchors WHERE document_id = $1 ORDER BY signer_id, id`
	var anchors []models.Anchor
	if err := r.db.SelectContext(ctx, &anchors, query, documentID); err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	return anchors, nil
}

// ListAnchorsBySigner returns the anchors of one signer.
func (r *DocumentRepository) ListAnchorsBySigner(ctx context.Context, documentID, signerID int64) ([]models.Anchor, error) {
	query := `SELECT ` + anchorColumns + ` FROM anchors WHERE document_id = $1 AND signer_id = $2 ORDER BY id`
	var anchors []models.Anchor
	if err := r.db.SelectContext(ctx, &anchors, query, documentID, signerID); err != nil {
		return nil, fmt.Errorf("list signer anchors: %w", err)
	}
	return anchors, nil
}

// CompleteSigner records a signer's completion and the document's new final
// artifact in one transaction.
func (r *DocumentRepository) CompleteSigner(ctx context.Context, documentID int64, completion models.SignerCompletion, final models.FinalArtifact) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	c := completion.Consent
	const completeSigner = `UPDATE signers SET status = 'completed', signature_key = $2, initials_key = $3, selfie_key = $4,
        identity_snapshot = $5, consent_ip = $6, consent_user_agent = $7, consent_geolocation = $8, terms_version = $9,
        device_fingerprint = $10, completed_at = $11, expires_at = $12
        WHERE id = $1 AND status = 'pending'`
	res, err := tx.ExecContext(ctx, completeSigner,
		completion.SignerID, completion.SignatureKey, completion.InitialsKey, completion.SelfieKey,
		completion.Identity, nullString(c.IP), nullString(c.UserAgent), nullString(c.Geolocation),
		nullString(c.TermsVersion), nullString(c.DeviceFingerprint), completion.CompletedAt, completion.ExpiresAt,
	)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("complete signer: %w", err)
	}
	if err := expectOneRow(res, ErrSignerNotPending); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := r.saveFinalTx(ctx, tx, documentID, final, completion.CompletedAt); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit signer completion: %w", err)
	}
	return nil
}

// SaveFinal stores a regenerated final artifact reference and status.
func (r *DocumentRepository) SaveFinal(ctx context.Context, documentID int64, final models.FinalArtifact) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.saveFinalTx(ctx, tx, documentID, final, time.Now().UTC()); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit final artifact: %w", err)
	}
	return nil
}

func (r *DocumentRepository) saveFinalTx(ctx context.Context, tx *sqlx.Tx, documentID int64, final models.FinalArtifact, at time.Time) error {
	const query = `UPDATE documents SET final_key = $2, hash_final = $3, status = $4, updated_at = $5,
        completed_at = CASE WHEN $4 = 'completed' THEN COALESCE(completed_at, $5) ELSE completed_at END
        WHERE id = $1 AND status <> 'cancelled'`
	res, err := tx.ExecContext(ctx, query, documentID, final.Key, final.Hash, final.Status, at)
	if err != nil {
		return fmt.Errorf("update final artifact: %w", err)
	}
	return expectOneRow(res, ErrStatusConflict)
}

func expectOneRow(res sql.Result, notMatched error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notMatched
	}
	return nil
}

func statusStrings(statuses []models.DocumentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
