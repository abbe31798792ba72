package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/esign-api/internal/dto"
	"github.com/noah-isme/esign-api/internal/service"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/response"
)

type signingService interface {
	Identify(ctx context.Context, token string) (*dto.SigningSession, error)
	ConfirmIdentification(ctx context.Context, token string, req dto.IdentificationRequest, meta service.RequestMeta) (*dto.SigningSession, error)
	Finalize(ctx context.Context, token string, req dto.FinalizeRequest, meta service.RequestMeta) (*dto.FinalizeResult, error)
	Document(ctx context.Context, token string) (*dto.FileDownload, error)
	Receipt(ctx context.Context, token string) (*dto.FileDownload, error)
}

const (
	defaultArtifactBytes = 5 * 1024 * 1024
	finalizeBodySlack    = 64 * 1024
)

// PublicSigningHandler serves the token-addressed signer endpoints. No staff
// authentication applies; the token in the path is the capability.
type PublicSigningHandler struct {
	signing         signingService
	maxFinalizeBody int64
}

// NewPublicSigningHandler constructs the handler. maxArtifactBytes is the
// decoded size cap of one artifact and sizes the finalize body limit.
func NewPublicSigningHandler(signing signingService, maxArtifactBytes int64) *PublicSigningHandler {
	return &PublicSigningHandler{signing: signing, maxFinalizeBody: finalizeBodyLimit(maxArtifactBytes)}
}

// finalizeBodyLimit allows three base64 artifacts at the cap plus the
// consent fields.
func finalizeBodyLimit(maxArtifactBytes int64) int64 {
	if maxArtifactBytes <= 0 {
		maxArtifactBytes = defaultArtifactBytes
	}
	return 3*(maxArtifactBytes*4/3+4) + finalizeBodySlack
}

// Identify godoc
// @Summary Open a signing link
// @Tags Public Signing
// @Produce json
// @Param token path string true "Signer token"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /public/sign/{token} [get]
func (h *PublicSigningHandler) Identify(c *gin.Context) {
	session, err := h.signing.Identify(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// ConfirmIdentification godoc
// @Summary Confirm or correct signer identity
// @Tags Public Signing
// @Accept json
// @Produce json
// @Param token path string true "Signer token"
// @Param payload body dto.IdentificationRequest true "Identity"
// @Success 200 {object} response.Envelope
// @Router /public/sign/{token}/identification [post]
func (h *PublicSigningHandler) ConfirmIdentification(c *gin.Context) {
	var req dto.IdentificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid identification payload"))
		return
	}
	session, err := h.signing.ConfirmIdentification(c.Request.Context(), c.Param("token"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Finalize godoc
// @Summary Submit signature artifacts and sign
// @Tags Public Signing
// @Accept json
// @Produce json
// @Param token path string true "Signer token"
// @Param payload body dto.FinalizeRequest true "Artifacts and consent"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /public/sign/{token}/finalize [post]
func (h *PublicSigningHandler) Finalize(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFinalizeBody)
	var req dto.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrTooLarge, fmt.Sprintf("finalize payload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid finalize payload"))
		return
	}
	result, err := h.signing.Finalize(c.Request.Context(), c.Param("token"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Document godoc
// @Summary Download the document for a signer
// @Tags Public Signing
// @Produce application/pdf
// @Param token path string true "Signer token"
// @Success 200 {file} binary
// @Router /public/sign/{token}/document [get]
func (h *PublicSigningHandler) Document(c *gin.Context) {
	file, err := h.signing.Document(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Receipt godoc
// @Summary Download the signing receipt
// @Tags Public Signing
// @Produce application/pdf
// @Param token path string true "Signer token"
// @Success 200 {file} binary
// @Router /public/sign/{token}/receipt [get]
func (h *PublicSigningHandler) Receipt(c *gin.Context) {
	file, err := h.signing.Receipt(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Register mounts the public routes on group.
func (h *PublicSigningHandler) Register(group *gin.RouterGroup) {
	sign := group.Group("/public/sign/:token")
	sign.GET("", h.Identify)
	sign.POST("/identification", h.ConfirmIdentification)
	sign.POST("/finalize", h.Finalize)
	sign.GET("/document", h.Document)
	sign.GET("/receipt", h.Receipt)
}
