package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/esign-api/internal/middleware"
	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/service"
)

// Forwarded by the signing front-end; both are optional.
const (
	headerGeolocation       = "X-Geolocation"
	headerDeviceFingerprint = "X-Device-Fingerprint"
)

func claimsFromContext(c *gin.Context) *models.StaffClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.StaffClaims)
	if !ok {
		return nil
	}
	return claims
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IP:                c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
		Geolocation:       c.GetHeader(headerGeolocation),
		DeviceFingerprint: c.GetHeader(headerDeviceFingerprint),
	}
}
