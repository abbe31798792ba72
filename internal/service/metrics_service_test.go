package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsServiceExposesSigningCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, 10*time.Millisecond)
	m.RecordFinalize(OutcomeFailure, "EXPIRED_TOKEN")
	m.ObserveComposition(time.Second, 2, 1)
	m.RecordAuditEvent("SIGNER_COMPLETE", "queued")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(body, `esign_finalize_total{code="EXPIRED_TOKEN",outcome="failure"} 1`))
	require.True(t, strings.Contains(body, `esign_composition_stamps_total{result="applied"} 2`))
	require.True(t, strings.Contains(body, `http_requests_total{method="GET",path="/health",status="200"} 1`))
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	m.RecordFinalize(OutcomeSuccess, "")
	m.ObserveLockWait(time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
