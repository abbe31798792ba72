package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/pkg/jobs"
)

const (
	auditJobType        = "audit_log"
	auditResourceDoc    = "document"
	auditResultQueued   = "queued"
	auditResultWritten  = "written"
	auditResultDropped  = "dropped"
	auditUserAgentLocal = "esign-api"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditTrail records signing events off the request path. When the queue is
// unavailable the event is written synchronously.
type AuditTrail struct {
	writer  auditWriter
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAuditTrail builds the recorder and its queue. Call Start before use.
func NewAuditTrail(writer auditWriter, metrics *MetricsService, logger *zap.Logger, cfg jobs.QueueConfig) *AuditTrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &AuditTrail{writer: writer, metrics: metrics, logger: logger}
	cfg.Logger = logger
	t.queue = jobs.NewQueue("audit", t.handle, cfg)
	return t
}

// Start launches the queue workers.
func (t *AuditTrail) Start(ctx context.Context) {
	if t == nil {
		return
	}
	t.queue.Start(ctx)
}

// Stop drains pending events.
func (t *AuditTrail) Stop() {
	if t == nil {
		return
	}
	t.queue.Stop()
}

// Record stores an event. Failures are logged, never returned.
func (t *AuditTrail) Record(ctx context.Context, log *models.AuditLog) {
	if t == nil || t.writer == nil || log == nil {
		return
	}
	if log.UserAgent == "" {
		log.UserAgent = auditUserAgentLocal
	}
	err := t.queue.TryEnqueue(jobs.Job{ID: log.Action, Type: auditJobType, Payload: log})
	if err == nil {
		t.metrics.RecordAuditEvent(log.Action, auditResultQueued)
		return
	}
	t.logger.Debug("audit queue unavailable, writing inline", zap.Error(err))
	if err := t.writer.CreateAuditLog(context.WithoutCancel(ctx), log); err != nil {
		t.metrics.RecordAuditEvent(log.Action, auditResultDropped)
		t.logger.Warn("failed to record audit log", zap.String("action", log.Action), zap.Error(err))
		return
	}
	t.metrics.RecordAuditEvent(log.Action, auditResultWritten)
}

func (t *AuditTrail) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	if err := t.writer.CreateAuditLog(ctx, log); err != nil {
		return err
	}
	t.metrics.RecordAuditEvent(log.Action, auditResultWritten)
	return nil
}

func auditPayload(fields map[string]interface{}) []byte {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return raw
}

func stringPtr(v string) *string {
	return &v
}
