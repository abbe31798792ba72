package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esign-api/internal/models"
)

func newDocumentRepoMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewDocumentRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

var signerRowColumns = []string{"id", "document_id", "position", "signer_kind", "entity_id", "identity_snapshot", "token", "status", "expires_at",
	"signature_key", "initials_key", "selfie_key", "consent_ip", "consent_user_agent", "consent_geolocation", "terms_version",
	"device_fingerprint", "completed_at", "created_at"}

func TestDocumentRepositoryCreateWithSigners(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO signers")).
		WithArgs(int64(7), 1, models.SignerKindClient, nil, sqlmock.AnyArg(), "tok-a", models.SignerStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO signers")).
		WithArgs(int64(7), 2, models.SignerKindGuest, nil, sqlmock.AnyArg(), "tok-b", models.SignerStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	doc := &models.Document{OriginalKey: "documents/x/original.pdf", HashOriginal: "abc", PageCount: 1, CreatedBy: "staff-1"}
	signers := []*models.Signer{
		{Kind: models.SignerKindClient, Token: "tok-a", ExpiresAt: time.Now().Add(time.Hour)},
		{Kind: models.SignerKindGuest, Token: "tok-b", ExpiresAt: time.Now().Add(time.Hour)},
	}
	require.NoError(t, repo.CreateWithSigners(context.Background(), doc, signers))
	require.Equal(t, int64(7), doc.ID)
	require.NotEmpty(t, doc.UUID)
	require.Equal(t, models.DocumentStatusDraft, doc.Status)
	require.Equal(t, int64(12), signers[1].ID)
	require.Equal(t, 2, signers[1].Position)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryCreateRollsBackOnSignerFailure(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO documents")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO signers")).
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	err := repo.CreateWithSigners(context.Background(), &models.Document{}, []*models.Signer{{Kind: models.SignerKindClient, Token: "t"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryReplaceAnchors(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET status = $2")).
		WithArgs(int64(7), models.DocumentStatusReady, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM anchors WHERE document_id = $1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO anchors")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO anchors")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	anchors := []models.Anchor{
		{SignerID: 11, Kind: models.AnchorKindSignature, Page: 1, X: 0.1, Y: 0.8, W: 0.3, H: 0.1},
		{SignerID: 12, Kind: models.AnchorKindInitials, Page: 1, X: 0.8, Y: 0.9, W: 0.1, H: 0.05},
	}
	err := repo.ReplaceAnchors(context.Background(), 7, anchors,
		[]models.DocumentStatus{models.DocumentStatusDraft, models.DocumentStatusReady}, models.DocumentStatusReady)
	require.NoError(t, err)
	require.Equal(t, int64(7), anchors[1].DocumentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryReplaceAnchorsStatusConflict(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ReplaceAnchors(context.Background(), 7, nil, []models.DocumentStatus{models.DocumentStatusDraft}, models.DocumentStatusReady)
	require.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryCompleteSignerGuardsPending(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	completion := models.SignerCompletion{
		SignerID:     11,
		SignatureKey: "signers/11/signature.png",
		Consent:      models.Consent{IP: "10.0.0.1", TermsVersion: "v1"},
		CompletedAt:  time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(48 * time.Hour),
	}
	final := models.FinalArtifact{Key: "documents/u/final.pdf", Hash: "ff", Status: models.DocumentStatusReady}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE signers SET status = 'completed'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET final_key = $2")).
		WithArgs(int64(7), final.Key, final.Hash, final.Status, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, repo.CompleteSigner(context.Background(), 7, completion, final))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE signers SET status = 'completed'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	err := repo.CompleteSigner(context.Background(), 7, completion, final)
	require.ErrorIs(t, err, ErrSignerNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryFindSignerByToken(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	expires := time.Now().Add(time.Hour)
	rows := sqlmock.NewRows(signerRowColumns).
		AddRow(11, 7, 1, "client", nil, []byte(`{"name":"Ana","email":"ana@example.com"}`), "tok-a", "pending", expires,
			nil, nil, nil, nil, nil, nil, nil, nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM signers WHERE token = $1")).
		WithArgs("tok-a").
		WillReturnRows(rows)

	signer, err := repo.FindSignerByToken(context.Background(), "tok-a")
	require.NoError(t, err)
	require.Equal(t, int64(11), signer.ID)
	require.Equal(t, "Ana", signer.Identity.Name)
	require.Equal(t, models.SignerStatusPending, signer.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepositoryListWithCounts(t *testing.T) {
	repo, mock, cleanup := newDocumentRepoMock(t)
	defer cleanup()

	status := models.DocumentStatusReady
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents d WHERE 1=1 AND d.status = $1")).
		WithArgs(status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	rows := sqlmock.NewRows([]string{"id", "uuid", "title", "selfie_required", "original_key", "final_key", "hash_original", "hash_final",
		"status", "page_count", "created_by", "created_at", "updated_at", "completed_at", "cancelled_at", "signers_total", "signers_completed"}).
		AddRow(7, "u-1", "Contrato", false, "documents/u-1/original.pdf", nil, "aa", nil, "ready", 2, "staff-1", time.Now(), time.Now(), nil, nil, 3, 1)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(s.id) AS signers_total")).
		WithArgs(status, 10, 10).
		WillReturnRows(rows)

	items, total, err := repo.List(context.Background(), models.DocumentFilter{Status: &status, Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.Equal(t, 3, items[0].SignersTotal)
	require.Equal(t, 1, items[0].SignersCompleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
