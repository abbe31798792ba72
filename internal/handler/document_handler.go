package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/esign-api/internal/dto"
	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/service"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/response"
)

const (
	formFieldFile     = "file"
	formFieldMetadata = "metadata"
)

type documentService interface {
	Create(ctx context.Context, actor *models.StaffClaims, req dto.CreateDocumentRequest, pdf []byte, meta service.RequestMeta) (*dto.DocumentDetail, error)
	SetAnchors(ctx context.Context, actor *models.StaffClaims, documentUUID string, req dto.SetAnchorsRequest, meta service.RequestMeta) (*dto.DocumentDetail, error)
	GetByUUID(ctx context.Context, documentUUID string) (*dto.DocumentDetail, error)
	List(ctx context.Context, actor *models.StaffClaims, query dto.DocumentListQuery) ([]models.DocumentSummary, *models.Pagination, error)
	Cancel(ctx context.Context, actor *models.StaffClaims, documentUUID string, meta service.RequestMeta) (*models.Document, error)
	Recompose(ctx context.Context, actor *models.StaffClaims, documentUUID string, meta service.RequestMeta) (*models.Document, error)
	Trail(ctx context.Context, documentUUID string) ([]models.AuditLog, error)
}

// DocumentHandler exposes the staff document endpoints.
type DocumentHandler struct {
	documents   documentService
	maxPDFBytes int64
}

// NewDocumentHandler constructs the handler. maxPDFBytes bounds the upload read.
func NewDocumentHandler(documents documentService, maxPDFBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxPDFBytes: maxPDFBytes}
}

// Create godoc
// @Summary Upload a document and create its signers
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Original PDF"
// @Param metadata formData string true "CreateDocumentRequest as JSON"
// @Success 201 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	var req dto.CreateDocumentRequest
	raw := c.PostForm(formFieldMetadata)
	if raw == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "metadata field is required"))
		return
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid metadata"))
		return
	}

	pdf, err := h.readUpload(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	detail, err := h.documents.Create(c.Request.Context(), claimsFromContext(c), req, pdf, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// List godoc
// @Summary List documents
// @Tags Documents
// @Produce json
// @Param status query string false "draft|ready|completed|cancelled"
// @Param search query string false "Title search"
// @Param mine query bool false "Only documents created by the caller"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	var query dto.DocumentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	items, pagination, err := h.documents.List(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a document with signer links and anchors
// @Tags Documents
// @Produce json
// @Param uuid path string true "Document UUID"
// @Success 200 {object} response.Envelope
// @Router /documents/{uuid} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	detail, err := h.documents.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// SetAnchors godoc
// @Summary Replace the anchor set of a document
// @Tags Documents
// @Accept json
// @Produce json
// @Param uuid path string true "Document UUID"
// @Param payload body dto.SetAnchorsRequest true "Anchors"
// @Success 200 {object} response.Envelope
// @Router /documents/{uuid}/anchors [put]
func (h *DocumentHandler) SetAnchors(c *gin.Context) {
	var req dto.SetAnchorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid anchors payload"))
		return
	}
	detail, err := h.documents.SetAnchors(c.Request.Context(), claimsFromContext(c), c.Param("uuid"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Cancel godoc
// @Summary Cancel a document
// @Tags Documents
// @Produce json
// @Param uuid path string true "Document UUID"
// @Success 200 {object} response.Envelope
// @Router /documents/{uuid}/cancel [post]
func (h *DocumentHandler) Cancel(c *gin.Context) {
	doc, err := h.documents.Cancel(c.Request.Context(), claimsFromContext(c), c.Param("uuid"), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Recompose godoc
// @Summary Rebuild the final document from stored signatures
// @Tags Documents
// @Produce json
// @Param uuid path string true "Document UUID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /documents/{uuid}/recompose [post]
func (h *DocumentHandler) Recompose(c *gin.Context) {
	doc, err := h.documents.Recompose(c.Request.Context(), claimsFromContext(c), c.Param("uuid"), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Trail godoc
// @Summary Audit events of a document
// @Tags Documents
// @Produce json
// @Param uuid path string true "Document UUID"
// @Success 200 {object} response.Envelope
// @Router /documents/{uuid}/trail [get]
func (h *DocumentHandler) Trail(c *gin.Context) {
	logs, err := h.documents.Trail(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Register mounts the staff routes on an authenticated group.
func (h *DocumentHandler) Register(group *gin.RouterGroup) {
	docs := group.Group("/documents")
	docs.POST("", h.Create)
	docs.GET("", h.List)
	docs.GET("/:uuid", h.Get)
	docs.PUT("/:uuid/anchors", h.SetAnchors)
	docs.POST("/:uuid/cancel", h.Cancel)
	docs.POST("/:uuid/recompose", h.Recompose)
	docs.GET("/:uuid/trail", h.Trail)
}

func (h *DocumentHandler) readUpload(c *gin.Context) ([]byte, error) {
	header, err := c.FormFile(formFieldFile)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "pdf file is required")
	}
	if h.maxPDFBytes > 0 && header.Size > h.maxPDFBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pdf file is too large")
	}
	file, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	return data, nil
}
