package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esign-api/internal/dto"
	"github.com/noah-isme/esign-api/internal/middleware"
	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/service"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

type documentServiceMock struct {
	detail     *dto.DocumentDetail
	doc        *models.Document
	items      []models.DocumentSummary
	pagination *models.Pagination
	logs       []models.AuditLog
	err        error

	actor     *models.StaffClaims
	createReq dto.CreateDocumentRequest
	pdf       []byte
	anchors   dto.SetAnchorsRequest
	query     dto.DocumentListQuery
	uuid      string
}

func (m *documentServiceMock) Create(_ context.Context, actor *models.StaffClaims, req dto.CreateDocumentRequest, pdf []byte, _ service.RequestMeta) (*dto.DocumentDetail, error) {
	m.actor, m.createReq, m.pdf = actor, req, pdf
	return m.detail, m.err
}

func (m *documentServiceMock) SetAnchors(_ context.Context, actor *models.StaffClaims, documentUUID string, req dto.SetAnchorsRequest, _ service.RequestMeta) (*dto.DocumentDetail, error) {
	m.actor, m.uuid, m.anchors = actor, documentUUID, req
	return m.detail, m.err
}

func (m *documentServiceMock) GetByUUID(_ context.Context, documentUUID string) (*dto.DocumentDetail, error) {
	m.uuid = documentUUID
	return m.detail, m.err
}

func (m *documentServiceMock) List(_ context.Context, actor *models.StaffClaims, query dto.DocumentListQuery) ([]models.DocumentSummary, *models.Pagination, error) {
	m.actor, m.query = actor, query
	return m.items, m.pagination, m.err
}

func (m *documentServiceMock) Cancel(_ context.Context, actor *models.StaffClaims, documentUUID string, _ service.RequestMeta) (*models.Document, error) {
	m.actor, m.uuid = actor, documentUUID
	return m.doc, m.err
}

func (m *documentServiceMock) Recompose(_ context.Context, actor *models.StaffClaims, documentUUID string, _ service.RequestMeta) (*models.Document, error) {
	m.actor, m.uuid = actor, documentUUID
	return m.doc, m.err
}

func (m *documentServiceMock) Trail(_ context.Context, documentUUID string) ([]models.AuditLog, error) {
	m.uuid = documentUUID
	return m.logs, m.err
}

var staffClaims = &models.StaffClaims{UserID: "staff-1"}

func multipartUpload(t *testing.T, metadata string, pdf []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if metadata != "" {
		require.NoError(t, writer.WriteField(formFieldMetadata, metadata))
	}
	if pdf != nil {
		part, err := writer.CreateFormFile(formFieldFile, "contract.pdf")
		require.NoError(t, err)
		_, err = part.Write(pdf)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestDocumentHandlerCreate(t *testing.T) {
	mock := &documentServiceMock{detail: &dto.DocumentDetail{Document: &models.Document{UUID: "doc-1"}}}
	h := NewDocumentHandler(mock, 1024)

	body, contentType := multipartUpload(t, `{"title":"Contract","signers":[{"signer_kind":"client","name":"Ana"}]}`, []byte("%PDF-1.4 test"))
	c, w := newTestContext(http.MethodPost, "/documents", body.Bytes())
	c.Request.Header.Set("Content-Type", contentType)
	c.Set(middleware.ContextUserKey, staffClaims)
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, staffClaims, mock.actor)
	require.Equal(t, "Contract", *mock.createReq.Title)
	require.Len(t, mock.createReq.Signers, 1)
	require.Equal(t, models.SignerKindClient, mock.createReq.Signers[0].Kind)
	require.Equal(t, []byte("%PDF-1.4 test"), mock.pdf)
}

func TestDocumentHandlerCreateValidatesUpload(t *testing.T) {
	mock := &documentServiceMock{}
	h := NewDocumentHandler(mock, 8)

	cases := []struct {
		name     string
		metadata string
		pdf      []byte
	}{
		{"missing metadata", "", []byte("%PDF")},
		{"bad metadata", "{", []byte("%PDF")},
		{"missing file", `{"signers":[]}`, nil},
		{"file too large", `{"signers":[]}`, []byte("%PDF-1.4 too large")},
	}
	for _, tc := range cases {
		body, contentType := multipartUpload(t, tc.metadata, tc.pdf)
		c, w := newTestContext(http.MethodPost, "/documents", body.Bytes())
		c.Request.Header.Set("Content-Type", contentType)
		c.Set(middleware.ContextUserKey, staffClaims)
		h.Create(c)
		require.Equal(t, http.StatusBadRequest, w.Code, tc.name)
	}
	require.Nil(t, mock.actor)
}

func TestDocumentHandlerSetAnchors(t *testing.T) {
	mock := &documentServiceMock{detail: &dto.DocumentDetail{Document: &models.Document{UUID: "doc-1", Status: models.DocumentStatusReady}}}
	h := NewDocumentHandler(mock, 0)

	payload, _ := json.Marshal(dto.SetAnchorsRequest{Anchors: []dto.AnchorInput{{Signer: 1, Kind: models.AnchorKindSignature, Page: 1, X: 0.1, Y: 0.1, W: 0.2, H: 0.1}}})
	c, w := newTestContext(http.MethodPut, "/documents/doc-1/anchors", payload)
	c.Params = gin.Params{{Key: "uuid", Value: "doc-1"}}
	c.Set(middleware.ContextUserKey, staffClaims)
	h.SetAnchors(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "doc-1", mock.uuid)
	require.Len(t, mock.anchors.Anchors, 1)

	mock.err = appErrors.Clone(appErrors.ErrInvalidTransition, "document is completed")
	c, w = newTestContext(http.MethodPut, "/documents/doc-1/anchors", payload)
	c.Params = gin.Params{{Key: "uuid", Value: "doc-1"}}
	h.SetAnchors(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestDocumentHandlerListIncludesPagination(t *testing.T) {
	mock := &documentServiceMock{
		items:      []models.DocumentSummary{{Document: models.Document{UUID: "doc-1"}, SignersTotal: 2, SignersCompleted: 1}},
		pagination: &models.Pagination{Page: 2, PageSize: 10, TotalCount: 11},
	}
	h := NewDocumentHandler(mock, 0)

	c, w := newTestContext(http.MethodGet, "/documents?status=ready&page=2&page_size=10&mine=true", nil)
	c.Set(middleware.ContextUserKey, staffClaims)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ready", mock.query.Status)
	require.Equal(t, 2, mock.query.Page)
	require.True(t, mock.query.Mine)
	envelope := decodeEnvelope(t, w)
	require.Contains(t, string(envelope["pagination"]), `"total_count":11`)
}

func TestDocumentHandlerLifecycleEndpoints(t *testing.T) {
	mock := &documentServiceMock{doc: &models.Document{UUID: "doc-1", Status: models.DocumentStatusCancelled}}
	h := NewDocumentHandler(mock, 0)

	c, w := newTestContext(http.MethodPost, "/documents/doc-1/cancel", nil)
	c.Params = gin.Params{{Key: "uuid", Value: "doc-1"}}
	c.Set(middleware.ContextUserKey, staffClaims)
	h.Cancel(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, staffClaims, mock.actor)

	mock.err = appErrors.Clone(appErrors.ErrInvalidTransition, "cancelled")
	c, w = newTestContext(http.MethodPost, "/documents/doc-1/recompose", nil)
	c.Params = gin.Params{{Key: "uuid", Value: "doc-1"}}
	h.Recompose(c)
	require.Equal(t, http.StatusConflict, w.Code)

	mock.err = appErrors.Clone(appErrors.ErrNotFound, "document not found")
	c, w = newTestContext(http.MethodGet, "/documents/missing", nil)
	c.Params = gin.Params{{Key: "uuid", Value: "missing"}}
	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	mock.err = nil
	mock.logs = []models.AuditLog{{Action: models.AuditActionDocumentCreate}}
	c, w = newTestContext(http.MethodGet, "/documents/doc-1/trail", nil)
	c.Params = gin.Params{{Key: "uuid", Value: "doc-1"}}
	h.Trail(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), models.AuditActionDocumentCreate)
}
