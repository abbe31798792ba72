package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esign-api/internal/dto"
	"github.com/noah-isme/esign-api/internal/models"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

func TestCreateDocumentIssuesLinks(t *testing.T) {
	h := newSigningHarness(t)
	second := dto.SignerDefinition{Kind: models.SignerKindOpposingParty, Name: "Beatriz", TTLHours: 24, SelfieRequired: true}
	title := "  Settlement agreement  "
	detail, err := h.docs.Create(context.Background(), staff, dto.CreateDocumentRequest{
		Title:   &title,
		Signers: []dto.SignerDefinition{{Kind: models.SignerKindClient, Name: "Ana"}, second},
	}, fixturePDF(t, 3), RequestMeta{})
	require.NoError(t, err)

	doc := detail.Document
	require.Equal(t, models.DocumentStatusDraft, doc.Status)
	require.Equal(t, 3, doc.PageCount)
	require.Equal(t, "Settlement agreement", *doc.Title)
	require.True(t, doc.SelfieRequired)
	require.Equal(t, staff.UserID, doc.CreatedBy)
	require.Len(t, detail.Signers, 2)

	for i, signer := range detail.Signers {
		require.Equal(t, i+1, signer.Position)
		require.True(t, strings.HasPrefix(signer.Link, "https://sign.example.com/assinar/"))
		require.Regexp(t, `^[0-9a-f]{64}$`, tokenFromLink(signer.Link))
	}
	require.Equal(t, fixedNow.Add(24*time.Hour), detail.Signers[1].ExpiresAt)

	original, err := h.objects.Get(context.Background(), OriginalKey(doc.UUID))
	require.NoError(t, err)
	require.Equal(t, doc.HashOriginal, IntegrityHasher{}.Sum(original))
	assert.Contains(t, h.auditLog.actions(), models.AuditActionDocumentCreate)
}

func TestCreateDocumentValidatesInput(t *testing.T) {
	h := newSigningHarness(t)
	ctx := context.Background()
	valid := dto.CreateDocumentRequest{Signers: []dto.SignerDefinition{{Kind: models.SignerKindClient}}}

	_, err := h.docs.Create(ctx, nil, valid, fixturePDF(t, 1), RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	_, err = h.docs.Create(ctx, staff, dto.CreateDocumentRequest{}, fixturePDF(t, 1), RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = h.docs.Create(ctx, staff, dto.CreateDocumentRequest{Signers: []dto.SignerDefinition{{Kind: "judge"}}}, fixturePDF(t, 1), RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = h.docs.Create(ctx, staff, valid, []byte("plain text"), RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = h.docs.Create(ctx, staff, valid, nil, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Empty(t, h.objects.keysWithPrefix("documents/"))
}

func TestSetAnchorsValidatesAgainstDocument(t *testing.T) {
	h := newSigningHarness(t)
	detail := h.createDocument(t, 1, 1, false)
	ctx := context.Background()

	_, err := h.docs.SetAnchors(ctx, staff, detail.Document.UUID, dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{signatureAnchor(2, 1)}}, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = h.docs.SetAnchors(ctx, staff, detail.Document.UUID, dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{signatureAnchor(1, 2)}}, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	offPage := dto.AnchorInput{Signer: 1, Kind: models.AnchorKindSignature, Page: 1, X: 0.9, Y: 0.1, W: 0.3, H: 0.1}
	_, err = h.docs.SetAnchors(ctx, staff, detail.Document.UUID, dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{offPage}}, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
	require.Equal(t, models.DocumentStatusDraft, h.document(t, detail.Document.UUID).Status)

	updated, err := h.docs.SetAnchors(ctx, staff, detail.Document.UUID, dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{signatureAnchor(1, 1)}}, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusReady, updated.Document.Status)
	require.Len(t, updated.Anchors, 1)
	require.Equal(t, 1, updated.Anchors[0].Signer)

	_, err = h.docs.SetAnchors(ctx, staff, "not-a-uuid", dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{signatureAnchor(1, 1)}}, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestSetAnchorsAfterPartialSigningRebuildsFinal(t *testing.T) {
	h := newSigningHarness(t)
	detail := h.createDocument(t, 1, 2, false)
	h.setAnchors(t, detail.Document.UUID, signatureAnchor(1, 1), signatureAnchor(2, 1))
	_, err := h.signing.Finalize(context.Background(), tokenFromLink(detail.Signers[0].Link), finalizeRequest(t, false), RequestMeta{})
	require.NoError(t, err)
	before := *h.document(t, detail.Document.UUID).HashFinal

	moved := dto.AnchorInput{Signer: 1, Kind: models.AnchorKindSignature, Page: 1, X: 0.5, Y: 0.1, W: 0.3, H: 0.05}
	updated, err := h.docs.SetAnchors(context.Background(), staff, detail.Document.UUID, dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{moved, signatureAnchor(2, 1)}}, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusReady, updated.Document.Status)
	require.NotEqual(t, before, *h.document(t, detail.Document.UUID).HashFinal)
	require.Equal(t, 1, h.storedStamps(t, detail.Document.UUID))
}

func TestGetByUUIDReturnsLinksAndAnchors(t *testing.T) {
	h := newSigningHarness(t)
	detail := h.createDocument(t, 1, 2, false)
	h.setAnchors(t, detail.Document.UUID, signatureAnchor(1, 1), signatureAnchor(2, 1))

	got, err := h.docs.GetByUUID(context.Background(), detail.Document.UUID)
	require.NoError(t, err)
	require.Len(t, got.Signers, 2)
	require.Len(t, got.Anchors, 2)
	require.Equal(t, detail.Signers[1].Link, got.Signers[1].Link)
	require.Equal(t, "mem://"+OriginalKey(detail.Document.UUID), got.OriginalURL)
	require.Empty(t, got.FinalURL)

	_, err = h.docs.GetByUUID(context.Background(), "1f5bd3b2-1a8f-4c7e-8d7e-6a6c0e9f0a01")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestListDocumentsWithCounts(t *testing.T) {
	h := newSigningHarness(t)
	first := h.createDocument(t, 1, 2, false)
	h.createDocument(t, 1, 1, false)
	h.setAnchors(t, first.Document.UUID, signatureAnchor(1, 1), signatureAnchor(2, 1))
	_, err := h.signing.Finalize(context.Background(), tokenFromLink(first.Signers[0].Link), finalizeRequest(t, false), RequestMeta{})
	require.NoError(t, err)

	items, pagination, err := h.docs.List(context.Background(), staff, dto.DocumentListQuery{Status: "ready"})
	require.NoError(t, err)
	require.Equal(t, 1, pagination.TotalCount)
	require.Equal(t, 20, pagination.PageSize)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].SignersTotal)
	require.Equal(t, 1, items[0].SignersCompleted)

	_, _, err = h.docs.List(context.Background(), staff, dto.DocumentListQuery{Status: "archived"})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCancelDocument(t *testing.T) {
	h := newSigningHarness(t)
	ctx := context.Background()
	detail := h.createDocument(t, 1, 1, false)
	h.setAnchors(t, detail.Document.UUID, signatureAnchor(1, 1))

	doc, err := h.docs.Cancel(ctx, staff, detail.Document.UUID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusCancelled, doc.Status)
	require.NotNil(t, doc.CancelledAt)

	_, err = h.docs.Cancel(ctx, staff, detail.Document.UUID, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	_, err = h.signing.Finalize(ctx, tokenFromLink(detail.Signers[0].Link), finalizeRequest(t, false), RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	_, err = h.docs.Recompose(ctx, staff, detail.Document.UUID, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestCancelCompletedDocumentIsRejected(t *testing.T) {
	h := newSigningHarness(t)
	detail := h.createDocument(t, 1, 1, false)
	h.setAnchors(t, detail.Document.UUID, signatureAnchor(1, 1))
	_, err := h.signing.Finalize(context.Background(), tokenFromLink(detail.Signers[0].Link), finalizeRequest(t, false), RequestMeta{})
	require.NoError(t, err)

	_, err = h.docs.Cancel(context.Background(), staff, detail.Document.UUID, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	_, err = h.docs.SetAnchors(context.Background(), staff, detail.Document.UUID, dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{signatureAnchor(1, 1)}}, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestRecomposeAndTrail(t *testing.T) {
	h := newSigningHarness(t)
	ctx := context.Background()
	detail := h.createDocument(t, 1, 2, false)
	h.setAnchors(t, detail.Document.UUID, signatureAnchor(1, 1), signatureAnchor(2, 1))
	res, err := h.signing.Finalize(ctx, tokenFromLink(detail.Signers[0].Link), finalizeRequest(t, false), RequestMeta{})
	require.NoError(t, err)

	doc, err := h.docs.Recompose(ctx, staff, detail.Document.UUID, RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.DocumentStatusReady, doc.Status)
	require.Equal(t, FinalKey(doc.UUID), *doc.FinalKey)
	require.Equal(t, 1, h.storedStamps(t, doc.UUID))
	require.NotEmpty(t, res.HashFinal)

	trail, err := h.docs.Trail(ctx, detail.Document.UUID)
	require.NoError(t, err)
	actions := make([]string, 0, len(trail))
	for _, log := range trail {
		actions = append(actions, log.Action)
	}
	require.Equal(t, []string{
		models.AuditActionDocumentCreate,
		models.AuditActionAnchorsReplace,
		models.AuditActionSignerComplete,
		models.AuditActionDocumentRecompose,
	}, actions)
}

func TestRecomposeLeavesCompletedFinalUntouched(t *testing.T) {
	h := newSigningHarness(t)
	ctx := context.Background()
	detail := h.createDocument(t, 1, 1, false)
	h.setAnchors(t, detail.Document.UUID, signatureAnchor(1, 1))
	res, err := h.signing.Finalize(ctx, tokenFromLink(detail.Signers[0].Link), finalizeRequest(t, false), RequestMeta{})
	require.NoError(t, err)

	sealed := h.document(t, detail.Document.UUID)
	require.Equal(t, models.DocumentStatusCompleted, sealed.Status)
	require.Equal(t, res.HashFinal, *sealed.HashFinal)
	before, err := h.objects.Get(ctx, *sealed.FinalKey)
	require.NoError(t, err)

	_, err = h.docs.Recompose(ctx, staff, detail.Document.UUID, RequestMeta{})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	after := h.document(t, detail.Document.UUID)
	require.Equal(t, *sealed.HashFinal, *after.HashFinal)
	stored, err := h.objects.Get(ctx, *after.FinalKey)
	require.NoError(t, err)
	require.Equal(t, before, stored)
	require.Equal(t, IntegrityHasher{}.Sum(stored), *after.HashFinal)
}
