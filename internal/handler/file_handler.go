package handler

import (
	"context"
	"errors"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/response"
	"github.com/noah-isme/esign-api/pkg/storage"
)

type signedObjectStore interface {
	Resolve(token string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileHandler serves objects of the local store through signed URLs.
type FileHandler struct {
	store signedObjectStore
}

// NewFileHandler constructs the handler.
func NewFileHandler(store signedObjectStore) *FileHandler {
	return &FileHandler{store: store}
}

// Download godoc
// @Summary Download a stored object through a signed URL
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /files/{token} [get]
func (h *FileHandler) Download(c *gin.Context) {
	key, err := h.store.Resolve(c.Param("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "download link is invalid or expired"))
		return
	}
	data, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
			return
		}
		response.Error(c, appErrors.WrapKind(err, appErrors.ErrStorageFailure, ""))
		return
	}
	response.Attachment(c, path.Base(key), mimetype.Detect(data).String(), data)
}

// Register mounts the download route.
func (h *FileHandler) Register(group *gin.RouterGroup) {
	group.GET("/files/:token", h.Download)
}
