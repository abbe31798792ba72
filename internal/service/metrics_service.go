package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Finalize outcomes recorded by RecordFinalize.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and the signing flow.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	documentsCreated    prometheus.Counter
	finalizeTotal       *prometheus.CounterVec
	compositionDuration prometheus.Histogram
	stampsTotal         *prometheus.CounterVec
	lockWait            prometheus.Histogram
	storageDuration     *prometheus.HistogramVec
	auditEvents         *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	documentsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "esign_documents_created_total",
		Help: "Documents uploaded for signature",
	})

	finalizeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esign_finalize_total",
		Help: "Signer finalize attempts by outcome and error code",
	}, []string{"outcome", "code"})

	compositionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "esign_composition_duration_seconds",
		Help:    "Time spent composing the signed PDF",
		Buckets: prometheus.DefBuckets,
	})

	stampsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esign_composition_stamps_total",
		Help: "Stamps drawn or skipped during composition",
	}, []string{"result"})

	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "esign_document_lock_wait_seconds",
		Help:    "Time spent waiting for the per-document lock",
		Buckets: prometheus.DefBuckets,
	})

	storageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "esign_storage_duration_seconds",
		Help:    "Duration of object storage calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	auditEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "esign_audit_events_total",
		Help: "Audit events by action and delivery result",
	}, []string{"action", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, documentsCreated, finalizeTotal, compositionDuration,
		stampsTotal, lockWait, storageDuration, auditEvents, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		documentsCreated:    documentsCreated,
		finalizeTotal:       finalizeTotal,
		compositionDuration: compositionDuration,
		stampsTotal:         stampsTotal,
		lockWait:            lockWait,
		storageDuration:     storageDuration,
		auditEvents:         auditEvents,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordDocumentCreated counts an uploaded document.
func (m *MetricsService) RecordDocumentCreated() {
	if m == nil {
		return
	}
	m.documentsCreated.Inc()
}

// RecordFinalize counts a finalize attempt. code is empty on success.
func (m *MetricsService) RecordFinalize(outcome, code string) {
	if m == nil {
		return
	}
	m.finalizeTotal.WithLabelValues(outcome, code).Inc()
}

// ObserveComposition records one composition pass.
func (m *MetricsService) ObserveComposition(duration time.Duration, applied, skipped int) {
	if m == nil {
		return
	}
	m.compositionDuration.Observe(duration.Seconds())
	m.stampsTotal.WithLabelValues("applied").Add(float64(applied))
	m.stampsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveLockWait records time spent acquiring the document lock.
func (m *MetricsService) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}

// ObserveStorage records one object storage call.
func (m *MetricsService) ObserveStorage(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuditEvent counts an audit event delivery.
func (m *MetricsService) RecordAuditEvent(action, result string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(action, result).Inc()
}
