package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

func TestErrorUsesKindStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, appErrors.Clone(appErrors.ErrExpiredToken, "link expired"))

	require.Equal(t, http.StatusGone, w.Code)
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "EXPIRED_TOKEN", body["error"]["code"])
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestAttachmentSetsDisposition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Attachment(c, "final.pdf", "application/pdf", []byte("%PDF-1.4"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `attachment; filename="final.pdf"`, w.Header().Get("Content-Disposition"))
	require.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
}
