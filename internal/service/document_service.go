package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/esign-api/internal/dto"
	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/repository"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/lock"
	"github.com/noah-isme/esign-api/pkg/pdfstamp"
	"github.com/noah-isme/esign-api/pkg/storage"
)

const defaultMaxPDFBytes = 25 * 1024 * 1024

type documentStore interface {
	compositionStore
	anchorStore
	CreateWithSigners(ctx context.Context, doc *models.Document, signers []*models.Signer) error
	FindByUUID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, filter models.DocumentFilter) ([]models.DocumentSummary, int, error)
	UpdateStatus(ctx context.Context, documentID int64, from []models.DocumentStatus, next models.DocumentStatus, at time.Time) error
}

type auditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

// DocumentServiceConfig tunes the staff document flow.
type DocumentServiceConfig struct {
	LinkBaseURL    string
	MaxPDFBytes    int64
	DownloadURLTTL time.Duration
	StorageTimeout time.Duration
}

// DocumentServiceDeps groups collaborators of the staff flow.
type DocumentServiceDeps struct {
	Store       documentStore
	AuditReader auditReader
	Objects     storage.ObjectStore
	Tokens      *SignerTokenManager
	Engine      *PdfCompositionEngine
	Locker      lock.Locker
	Audit       *AuditTrail
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// DocumentService implements the staff surface: create, anchors, review.
type DocumentService struct {
	store     documentStore
	trail     auditReader
	objects   objectGateway
	tokens    *SignerTokenManager
	registry  *AnchorRegistry
	engine    *PdfCompositionEngine
	lifecycle DocumentLifecycle
	hasher    IntegrityHasher
	locker    lock.Locker
	audit     *AuditTrail
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       DocumentServiceConfig
}

// NewDocumentService constructs the service.
func NewDocumentService(deps DocumentServiceDeps, cfg DocumentServiceConfig) *DocumentService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker(defaultLockWait)
	}
	if deps.Tokens == nil {
		deps.Tokens = NewSignerTokenManager(TokenManagerConfig{})
	}
	if cfg.MaxPDFBytes <= 0 {
		cfg.MaxPDFBytes = defaultMaxPDFBytes
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = 15 * time.Minute
	}
	cfg.LinkBaseURL = strings.TrimRight(cfg.LinkBaseURL, "/")
	return &DocumentService{
		store:     deps.Store,
		trail:     deps.AuditReader,
		objects:   newObjectGateway(deps.Objects, cfg.StorageTimeout, deps.Metrics, deps.Logger),
		tokens:    deps.Tokens,
		registry:  NewAnchorRegistry(deps.Store),
		engine:    deps.Engine,
		locker:    deps.Locker,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// Create stores the original PDF and creates the document with its signers,
// each holding a freshly issued token.
func (s *DocumentService) Create(ctx context.Context, actor *models.StaffClaims, req dto.CreateDocumentRequest, pdf []byte, meta RequestMeta) (*dto.DocumentDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}
	pageCount, err := s.inspectPDF(pdf)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		UUID:           uuid.NewString(),
		Title:          trimmedPtr(req.Title),
		SelfieRequired: req.SelfieRequired,
		HashOriginal:   s.hasher.Sum(pdf),
		Status:         models.DocumentStatusDraft,
		PageCount:      pageCount,
		CreatedBy:      actor.UserID,
	}
	doc.OriginalKey = OriginalKey(doc.UUID)

	signers := make([]*models.Signer, 0, len(req.Signers))
	for _, def := range req.Signers {
		token, expiresAt, err := s.tokens.Issue(time.Duration(def.TTLHours) * time.Hour)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue signer token")
		}
		doc.SelfieRequired = doc.SelfieRequired || def.SelfieRequired
		signers = append(signers, &models.Signer{
			Kind:     def.Kind,
			EntityID: trimmedPtr(def.EntityID),
			Identity: models.IdentitySnapshot{
				Name:           strings.TrimSpace(def.Name),
				DocumentNumber: strings.TrimSpace(def.DocumentNumber),
				Email:          strings.TrimSpace(def.Email),
				Phone:          strings.TrimSpace(def.Phone),
			},
			Token:     token,
			Status:    models.SignerStatusPending,
			ExpiresAt: expiresAt,
		})
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.objects.put(ctx, doc.OriginalKey, pdf, pdfContentType); err != nil {
		return nil, err
	}
	if err := s.store.CreateWithSigners(ctx, doc, signers); err != nil {
		s.objects.discard(ctx, doc.OriginalKey)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}

	s.metrics.RecordDocumentCreated()
	s.audit.Record(ctx, &models.AuditLog{
		Actor:      &actor.UserID,
		Action:     models.AuditActionDocumentCreate,
		Resource:   auditResourceDoc,
		ResourceID: &doc.UUID,
		Payload: auditPayload(map[string]interface{}{
			"hash_original": doc.HashOriginal,
			"page_count":    doc.PageCount,
			"signers":       len(signers),
		}),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})

	rows := make([]models.Signer, len(signers))
	for i, signer := range signers {
		rows[i] = *signer
	}
	return s.detail(ctx, doc, rows, nil), nil
}

// SetAnchors replaces the anchor set, moving the document to ready. When some
// signers already completed the final document is rebuilt with the new set.
func (s *DocumentService) SetAnchors(ctx context.Context, actor *models.StaffClaims, documentUUID string, req dto.SetAnchorsRequest, meta RequestMeta) (*dto.DocumentDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid anchors payload")
	}
	doc, err := s.find(ctx, documentUUID)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	release, err := lockDocument(ctx, s.locker, s.metrics, s.logger, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if doc, err = s.find(ctx, documentUUID); err != nil {
		return nil, err
	}
	signers, err := s.store.ListSigners(ctx, doc.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signers")
	}
	byPosition := make(map[int]models.Signer, len(signers))
	for _, signer := range signers {
		byPosition[signer.Position] = signer
	}

	anchors := make([]models.Anchor, 0, len(req.Anchors))
	for i, in := range req.Anchors {
		signer, ok := byPosition[in.Signer]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("anchor %d: unknown signer %d", i+1, in.Signer))
		}
		anchors = append(anchors, models.Anchor{
			DocumentID: doc.ID,
			SignerID:   signer.ID,
			Kind:       in.Kind,
			Page:       in.Page,
			X:          in.X,
			Y:          in.Y,
			W:          in.W,
			H:          in.H,
		})
	}

	status, err := s.registry.ReplaceAll(ctx, doc, signers, anchors)
	if err != nil {
		return nil, err
	}
	doc.Status = status

	if countCompleted(signers) > 0 {
		regenerated, _, err := s.engine.Regenerate(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		doc = regenerated
	}

	s.audit.Record(ctx, &models.AuditLog{
		Actor:      &actor.UserID,
		Action:     models.AuditActionAnchorsReplace,
		Resource:   auditResourceDoc,
		ResourceID: &doc.UUID,
		Payload:    auditPayload(map[string]interface{}{"anchors": len(anchors), "status": doc.Status}),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	stored, err := s.registry.List(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, doc, signers, stored), nil
}

// GetByUUID returns the document with signer links and anchors for review.
func (s *DocumentService) GetByUUID(ctx context.Context, documentUUID string) (*dto.DocumentDetail, error) {
	doc, err := s.find(ctx, documentUUID)
	if err != nil {
		return nil, err
	}
	signers, err := s.store.ListSigners(ctx, doc.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signers")
	}
	anchors, err := s.registry.List(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, doc, signers, anchors), nil
}

// List returns a page of documents with signer counts.
func (s *DocumentService) List(ctx context.Context, actor *models.StaffClaims, query dto.DocumentListQuery) ([]models.DocumentSummary, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid list query")
	}
	filter := models.DocumentFilter{
		Search:    strings.TrimSpace(query.Search),
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortOrder: query.SortOrder,
	}
	if query.Status != "" {
		status := models.DocumentStatus(query.Status)
		filter.Status = &status
	}
	if query.Mine && actor != nil {
		filter.CreatedBy = actor.UserID
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Cancel moves a draft or ready document to cancelled.
func (s *DocumentService) Cancel(ctx context.Context, actor *models.StaffClaims, documentUUID string, meta RequestMeta) (*models.Document, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	doc, err := s.find(ctx, documentUUID)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	release, err := lockDocument(ctx, s.locker, s.metrics, s.logger, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if doc, err = s.find(ctx, documentUUID); err != nil {
		return nil, err
	}
	next, err := s.lifecycle.OnCancel(doc.Status)
	if err != nil {
		return nil, err
	}
	now := s.tokens.Now().UTC()
	from := []models.DocumentStatus{models.DocumentStatusDraft, models.DocumentStatusReady}
	if err := s.store.UpdateStatus(ctx, doc.ID, from, next, now); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document changed status, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel document")
	}
	previous := doc.Status
	doc.Status = next
	doc.CancelledAt = &now

	s.audit.Record(ctx, &models.AuditLog{
		Actor:      &actor.UserID,
		Action:     models.AuditActionDocumentCancel,
		Resource:   auditResourceDoc,
		ResourceID: &doc.UUID,
		Payload:    auditPayload(map[string]interface{}{"from": previous}),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return doc, nil
}

// Recompose rebuilds the final document from persisted rows.
func (s *DocumentService) Recompose(ctx context.Context, actor *models.StaffClaims, documentUUID string, meta RequestMeta) (*models.Document, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	doc, err := s.find(ctx, documentUUID)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	release, err := lockDocument(ctx, s.locker, s.metrics, s.logger, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	regenerated, comp, err := s.engine.Regenerate(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, &models.AuditLog{
		Actor:      &actor.UserID,
		Action:     models.AuditActionDocumentRecompose,
		Resource:   auditResourceDoc,
		ResourceID: &regenerated.UUID,
		Payload:    auditPayload(map[string]interface{}{"hash_final": comp.Hash, "stamps": len(comp.Stamps)}),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return regenerated, nil
}

// Trail returns the audit events of a document, oldest first.
func (s *DocumentService) Trail(ctx context.Context, documentUUID string) ([]models.AuditLog, error) {
	doc, err := s.find(ctx, documentUUID)
	if err != nil {
		return nil, err
	}
	if s.trail == nil {
		return []models.AuditLog{}, nil
	}
	logs, err := s.trail.ListByResource(ctx, auditResourceDoc, doc.UUID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	return logs, nil
}

func (s *DocumentService) inspectPDF(pdf []byte) (int, error) {
	if len(pdf) == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "pdf file is required")
	}
	if int64(len(pdf)) > s.cfg.MaxPDFBytes {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("pdf exceeds %d bytes", s.cfg.MaxPDFBytes))
	}
	if mt := mimetype.Detect(pdf); !mt.Is(pdfContentType) {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file must be a pdf, got %s", mt.String()))
	}
	sizes, err := pdfstamp.Inspect(pdf)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "pdf could not be read")
	}
	return len(sizes), nil
}

func (s *DocumentService) find(ctx context.Context, documentUUID string) (*models.Document, error) {
	if _, err := uuid.Parse(documentUUID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	doc, err := s.store.FindByUUID(ctx, documentUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return doc, nil
}

func (s *DocumentService) detail(ctx context.Context, doc *models.Document, signers []models.Signer, anchors []models.Anchor) *dto.DocumentDetail {
	positions := make(map[int64]int, len(signers))
	links := make([]dto.SignerLink, 0, len(signers))
	for _, signer := range signers {
		positions[signer.ID] = signer.Position
		links = append(links, dto.SignerLink{
			Position:    signer.Position,
			Kind:        signer.Kind,
			EntityID:    signer.EntityID,
			Identity:    signer.Identity,
			Status:      signer.Status,
			Link:        s.SigningLink(signer.Token),
			ExpiresAt:   signer.ExpiresAt,
			CompletedAt: signer.CompletedAt,
		})
	}
	views := make([]dto.AnchorView, 0, len(anchors))
	for _, a := range anchors {
		views = append(views, anchorView(a, positions[a.SignerID]))
	}

	detail := &dto.DocumentDetail{
		Document:    doc,
		Signers:     links,
		Anchors:     views,
		OriginalURL: s.objects.url(ctx, doc.OriginalKey, s.cfg.DownloadURLTTL),
	}
	if doc.FinalKey != nil && *doc.FinalKey != "" {
		detail.FinalURL = s.objects.url(ctx, *doc.FinalKey, s.cfg.DownloadURLTTL)
	}
	return detail
}

// SigningLink renders the public link of a token.
func (s *DocumentService) SigningLink(token string) string {
	return s.cfg.LinkBaseURL + "/" + token
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
