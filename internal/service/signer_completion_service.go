package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/esign-api/internal/dto"
	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/repository"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/export"
	"github.com/noah-isme/esign-api/pkg/lock"
	"github.com/noah-isme/esign-api/pkg/storage"
)

type signerStore interface {
	compositionStore
	anchorStore
	FindSignerByToken(ctx context.Context, token string) (*models.Signer, error)
	UpdateSignerIdentity(ctx context.Context, signerID int64, identity models.IdentitySnapshot) error
	CompleteSigner(ctx context.Context, documentID int64, completion models.SignerCompletion, final models.FinalArtifact) error
}

// SignerCompletionConfig tunes the public signing flow.
type SignerCompletionConfig struct {
	TermsVersion     string
	MaxArtifactBytes int64
	DownloadURLTTL   time.Duration
	StorageTimeout   time.Duration
}

// SignerCompletionService serves the token-addressed signer flow.
type SignerCompletionService struct {
	store     signerStore
	objects   objectGateway
	tokens    *SignerTokenManager
	registry  *AnchorRegistry
	engine    *PdfCompositionEngine
	lifecycle DocumentLifecycle
	locker    lock.Locker
	receipts  *export.ReceiptRenderer
	audit     *AuditTrail
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SignerCompletionConfig
}

// SignerCompletionDeps groups collaborators of the signer flow.
type SignerCompletionDeps struct {
	Store     signerStore
	Objects   storage.ObjectStore
	Tokens    *SignerTokenManager
	Engine    *PdfCompositionEngine
	Locker    lock.Locker
	Receipts  *export.ReceiptRenderer
	Audit     *AuditTrail
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewSignerCompletionService constructs the service.
func NewSignerCompletionService(deps SignerCompletionDeps, cfg SignerCompletionConfig) *SignerCompletionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker(defaultLockWait)
	}
	if deps.Receipts == nil {
		deps.Receipts = export.NewReceiptRenderer()
	}
	if deps.Tokens == nil {
		deps.Tokens = NewSignerTokenManager(TokenManagerConfig{})
	}
	if cfg.MaxArtifactBytes <= 0 {
		cfg.MaxArtifactBytes = defaultMaxArtifactBytes
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = 15 * time.Minute
	}
	return &SignerCompletionService{
		store:     deps.Store,
		objects:   newObjectGateway(deps.Objects, cfg.StorageTimeout, deps.Metrics, deps.Logger),
		tokens:    deps.Tokens,
		registry:  NewAnchorRegistry(deps.Store),
		engine:    deps.Engine,
		locker:    deps.Locker,
		receipts:  deps.Receipts,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		cfg:       cfg,
	}
}

// Identify resolves a token to the signer's session for pre-filling the form.
func (s *SignerCompletionService) Identify(ctx context.Context, token string) (*dto.SigningSession, error) {
	signer, doc, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Validate(signer); err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document was cancelled")
	}
	return s.session(ctx, signer, doc)
}

// ConfirmIdentification merges the signer's corrections into the identity snapshot.
func (s *SignerCompletionService) ConfirmIdentification(ctx context.Context, token string, req dto.IdentificationRequest, meta RequestMeta) (*dto.SigningSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid identification payload")
	}
	signer, doc, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Validate(signer); err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document was cancelled")
	}

	signer.Identity = signer.Identity.Merge(identityFromRequest(req))
	if err := s.store.UpdateSignerIdentity(ctx, signer.ID, signer.Identity); err != nil {
		if errors.Is(err, repository.ErrSignerNotPending) {
			return nil, appErrors.ErrAlreadyUsed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update identification")
	}

	s.audit.Record(ctx, &models.AuditLog{
		Actor:      signerActor(signer),
		Action:     models.AuditActionSignerIdentify,
		Resource:   auditResourceDoc,
		ResourceID: &doc.UUID,
		Payload:    auditPayload(map[string]interface{}{"position": signer.Position}),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return s.session(ctx, signer, doc)
}

// Finalize completes a signer: artifacts are stored, the final PDF is rebuilt
// with this signer counted as completed, and the signer row plus the document
// final reference are committed together. The work ignores caller
// cancellation once validation has passed.
func (s *SignerCompletionService) Finalize(ctx context.Context, token string, req dto.FinalizeRequest, meta RequestMeta) (result *dto.FinalizeResult, err error) {
	defer func() {
		if err != nil {
			s.metrics.RecordFinalize(OutcomeFailure, appErrors.FromError(err).Code)
			return
		}
		s.metrics.RecordFinalize(OutcomeSuccess, "")
	}()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid finalize payload")
	}
	if s.cfg.TermsVersion != "" && req.TermsVersion != s.cfg.TermsVersion {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("terms version %q is not current", req.TermsVersion))
	}

	signer, doc, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkSignable(signer, doc); err != nil {
		return nil, err
	}

	anchors, err := s.registry.ListBySigner(ctx, doc.ID, signer.ID)
	if err != nil {
		return nil, err
	}
	files, err := s.collectArtifacts(req, doc, anchors)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	keys, err := s.uploadArtifacts(ctx, doc, signer, files)
	if err != nil {
		return nil, err
	}

	release, err := lockDocument(ctx, s.locker, s.metrics, s.logger, doc.ID)
	if err != nil {
		s.objects.discard(ctx, keys.all()...)
		return nil, err
	}
	defer release()

	outcome, err := s.completeLocked(ctx, token, req, meta, files, keys)
	if err != nil {
		s.objects.discard(ctx, keys.all()...)
		return nil, err
	}

	s.recordCompletion(ctx, outcome, meta)
	return &dto.FinalizeResult{
		DocumentUUID:     outcome.doc.UUID,
		FinalURL:         s.objects.url(ctx, outcome.final.Key, s.cfg.DownloadURLTTL),
		HashFinal:        outcome.final.Hash,
		DocumentStatus:   outcome.final.Status,
		SignersCompleted: countCompleted(outcome.signers),
		SignersTotal:     len(outcome.signers),
		DownloadUntil:    outcome.completion.ExpiresAt,
	}, nil
}

// Document returns the PDF a signer may see: the original while signing, the
// final once completed and inside the download window.
func (s *SignerCompletionService) Document(ctx context.Context, token string) (*dto.FileDownload, error) {
	signer, doc, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if signer.Completed() {
		if err := s.tokens.ValidateForDownload(signer); err != nil {
			return nil, err
		}
		if doc.FinalKey == nil || *doc.FinalKey == "" {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "final document not available")
		}
		data, err := s.objects.get(ctx, *doc.FinalKey)
		if err != nil {
			return nil, err
		}
		return &dto.FileDownload{Filename: doc.UUID + "-signed.pdf", ContentType: pdfContentType, Data: data}, nil
	}

	if err := s.tokens.Validate(signer); err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document was cancelled")
	}
	data, err := s.objects.get(ctx, doc.OriginalKey)
	if err != nil {
		return nil, err
	}
	return &dto.FileDownload{Filename: doc.UUID + ".pdf", ContentType: pdfContentType, Data: data}, nil
}

// Receipt renders a signing receipt for a completed signer.
func (s *SignerCompletionService) Receipt(ctx context.Context, token string) (*dto.FileDownload, error) {
	signer, doc, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.ValidateForDownload(signer); err != nil {
		return nil, err
	}

	var signature []byte
	if signer.SignatureKey != nil {
		data, err := s.objects.get(ctx, *signer.SignatureKey)
		if err != nil {
			s.logger.Warn("receipt rendered without signature image", zap.String("document", doc.UUID), zap.Error(err))
		} else {
			signature = data
		}
	}

	receipt := export.Receipt{
		Title:       "Signing receipt",
		Fields:      receiptFields(doc, signer),
		Signature:   signature,
		GeneratedAt: s.tokens.Now().UTC(),
	}
	data, err := s.receipts.Render(receipt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	filename := fmt.Sprintf("%s-receipt-%d.pdf", doc.UUID, signer.Position)
	return &dto.FileDownload{Filename: filename, ContentType: pdfContentType, Data: data}, nil
}

type artifactSet struct {
	signature *artifact
	initials  *artifact
	selfie    *artifact
}

type artifactKeys struct {
	signature string
	initials  *string
	selfie    *string
}

func (k artifactKeys) all() []string {
	keys := []string{k.signature}
	if k.initials != nil {
		keys = append(keys, *k.initials)
	}
	if k.selfie != nil {
		keys = append(keys, *k.selfie)
	}
	return keys
}

type completionOutcome struct {
	doc        *models.Document
	signer     *models.Signer
	signers    []models.Signer
	completion models.SignerCompletion
	final      models.FinalArtifact
	comp       *Composition
	previous   models.DocumentStatus
}

func (s *SignerCompletionService) collectArtifacts(req dto.FinalizeRequest, doc *models.Document, anchors []models.Anchor) (*artifactSet, error) {
	initialsRequired := false
	for _, a := range anchors {
		if a.Kind == models.AnchorKindInitials {
			initialsRequired = true
			break
		}
	}
	if req.Signature == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingRequiredArtifact, "signature image is required")
	}
	if initialsRequired && req.Initials == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingRequiredArtifact, "initials image is required")
	}
	if doc.SelfieRequired && req.Selfie == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingRequiredArtifact, "selfie image is required")
	}

	var (
		set artifactSet
		err error
	)
	if set.signature, err = decodeArtifact("signature", req.Signature, s.cfg.MaxArtifactBytes); err != nil {
		return nil, err
	}
	if set.initials, err = decodeArtifact("initials", req.Initials, s.cfg.MaxArtifactBytes); err != nil {
		return nil, err
	}
	if set.selfie, err = decodeArtifact("selfie", req.Selfie, s.cfg.MaxArtifactBytes); err != nil {
		return nil, err
	}
	return &set, nil
}

// uploadArtifacts stores each artifact under an attempt-scoped key so a
// losing concurrent attempt never overwrites what a winner committed.
func (s *SignerCompletionService) uploadArtifacts(ctx context.Context, doc *models.Document, signer *models.Signer, files *artifactSet) (artifactKeys, error) {
	prefix := fmt.Sprintf("documents/%s/signers/%d/%s", doc.UUID, signer.Position, uuid.NewString())
	keyFor := func(a *artifact) string { return prefix + "/" + a.Name + a.Extension }

	keys := artifactKeys{signature: keyFor(files.signature)}
	uploads := []*artifact{files.signature}
	if files.initials != nil {
		keys.initials = stringPtr(keyFor(files.initials))
		uploads = append(uploads, files.initials)
	}
	if files.selfie != nil {
		keys.selfie = stringPtr(keyFor(files.selfie))
		uploads = append(uploads, files.selfie)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range uploads {
		a := a
		g.Go(func() error {
			return s.objects.put(gctx, keyFor(a), a.Data, a.ContentType)
		})
	}
	if err := g.Wait(); err != nil {
		s.objects.discard(ctx, keys.all()...)
		return artifactKeys{}, err
	}
	return keys, nil
}

// completeLocked runs the critical section. Rows are re-read so a concurrent
// completion committed while waiting for the lock is included.
func (s *SignerCompletionService) completeLocked(ctx context.Context, token string, req dto.FinalizeRequest, meta RequestMeta, files *artifactSet, keys artifactKeys) (*completionOutcome, error) {
	signer, doc, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkSignable(signer, doc); err != nil {
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

	now := s.tokens.Now().UTC()
	identity := signer.Identity
	if req.Identity != nil {
		identity = identity.Merge(identityFromRequest(*req.Identity))
	}
	completion := models.SignerCompletion{
		SignerID:     signer.ID,
		SignatureKey: keys.signature,
		InitialsKey:  keys.initials,
		SelfieKey:    keys.selfie,
		Identity:     identity,
		Consent: models.Consent{
			IP:                meta.IP,
			UserAgent:         meta.UserAgent,
			Geolocation:       firstNonEmpty(req.Geolocation, meta.Geolocation),
			TermsVersion:      req.TermsVersion,
			DeviceFingerprint: firstNonEmpty(req.DeviceFingerprint, meta.DeviceFingerprint),
		},
		CompletedAt: now,
		ExpiresAt:   s.tokens.ExtendForDownload(),
	}

	for i := range signers {
		if signers[i].ID == signer.ID {
			signers[i].Status = models.SignerStatusCompleted
			signers[i].SignatureKey = &completion.SignatureKey
			signers[i].InitialsKey = completion.InitialsKey
			signers[i].SelfieKey = completion.SelfieKey
			signers[i].CompletedAt = &now
			signers[i].ExpiresAt = completion.ExpiresAt
		}
	}

	// the pass reuses the decoded images instead of downloading them again
	artifacts := map[string][]byte{keys.signature: files.signature.Data}
	if keys.initials != nil {
		artifacts[*keys.initials] = files.initials.Data
	}
	comp, err := s.engine.Build(ctx, CompositionInput{
		Document:  doc,
		Signers:   signers,
		Anchors:   anchors,
		Artifacts: artifacts,
	})
	if err != nil {
		return nil, err
	}
	final, err := s.engine.Publish(ctx, doc, comp)
	if err != nil {
		return nil, err
	}

	if err := s.store.CompleteSigner(ctx, doc.ID, completion, final); err != nil {
		s.restoreFinal(ctx, doc)
		switch {
		case errors.Is(err, repository.ErrSignerNotPending):
			return nil, appErrors.ErrAlreadyUsed
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document is no longer open for signing")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record signer completion")
	}

	signer.Status = models.SignerStatusCompleted
	signer.ExpiresAt = completion.ExpiresAt
	signer.CompletedAt = &now
	return &completionOutcome{
		doc:        doc,
		signer:     signer,
		signers:    signers,
		completion: completion,
		final:      final,
		comp:       comp,
		previous:   doc.Status,
	}, nil
}

// restoreFinal rebuilds the stored final from committed rows after a failed
// commit so it never shows an unrecorded stamp.
func (s *SignerCompletionService) restoreFinal(ctx context.Context, doc *models.Document) {
	if _, _, err := s.engine.Regenerate(ctx, doc.ID); err != nil {
		s.logger.Error("failed to restore final document after aborted completion",
			zap.String("document", doc.UUID), zap.Error(err))
	}
}

func (s *SignerCompletionService) recordCompletion(ctx context.Context, outcome *completionOutcome, meta RequestMeta) {
	s.logger.Info("signer completed",
		zap.String("document", outcome.doc.UUID),
		zap.Int("position", outcome.signer.Position),
		zap.Int("stamps", len(outcome.comp.Stamps)),
		zap.String("status", string(outcome.final.Status)),
	)
	s.audit.Record(ctx, &models.AuditLog{
		Actor:      signerActor(outcome.signer),
		Action:     models.AuditActionSignerComplete,
		Resource:   auditResourceDoc,
		ResourceID: &outcome.doc.UUID,
		Payload: auditPayload(map[string]interface{}{
			"position":      outcome.signer.Position,
			"terms_version": outcome.completion.Consent.TermsVersion,
			"hash_final":    outcome.final.Hash,
			"stamps":        len(outcome.comp.Stamps),
		}),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})
	if outcome.final.Status == models.DocumentStatusCompleted && outcome.previous != models.DocumentStatusCompleted {
		s.audit.Record(ctx, &models.AuditLog{
			Action:     models.AuditActionDocumentComplete,
			Resource:   auditResourceDoc,
			ResourceID: &outcome.doc.UUID,
			Payload:    auditPayload(map[string]interface{}{"hash_final": outcome.final.Hash}),
		})
	}
}

func (s *SignerCompletionService) checkSignable(signer *models.Signer, doc *models.Document) error {
	if err := s.tokens.Validate(signer); err != nil {
		return err
	}
	if !s.lifecycle.CanSign(doc.Status) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document is %s and cannot be signed", doc.Status))
	}
	return nil
}

func (s *SignerCompletionService) resolve(ctx context.Context, token string) (*models.Signer, *models.Document, error) {
	if !validTokenShape(token) {
		return nil, nil, appErrors.ErrInvalidToken
	}
	signer, err := s.store.FindSignerByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrInvalidToken
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve signing link")
	}
	doc, err := s.store.FindByID(ctx, signer.DocumentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrInvalidToken
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return signer, doc, nil
}

func (s *SignerCompletionService) session(ctx context.Context, signer *models.Signer, doc *models.Document) (*dto.SigningSession, error) {
	anchors, err := s.registry.ListBySigner(ctx, doc.ID, signer.ID)
	if err != nil {
		return nil, err
	}
	views := make([]dto.AnchorView, 0, len(anchors))
	initials := false
	for _, a := range anchors {
		if a.Kind == models.AnchorKindInitials {
			initials = true
		}
		views = append(views, anchorView(a, signer.Position))
	}
	return &dto.SigningSession{
		DocumentUUID:     doc.UUID,
		DocumentTitle:    doc.Title,
		DocumentStatus:   doc.Status,
		PageCount:        doc.PageCount,
		Kind:             signer.Kind,
		Identity:         signer.Identity,
		Status:           signer.Status,
		ExpiresAt:        signer.ExpiresAt,
		InitialsRequired: initials,
		SelfieRequired:   doc.SelfieRequired,
		TermsVersion:     s.cfg.TermsVersion,
		Anchors:          views,
	}, nil
}

func receiptFields(doc *models.Document, signer *models.Signer) []export.ReceiptField {
	fields := []export.ReceiptField{
		{Label: "Document", Value: doc.UUID},
	}
	if doc.Title != nil {
		fields = append(fields, export.ReceiptField{Label: "Title", Value: *doc.Title})
	}
	fields = append(fields,
		export.ReceiptField{Label: "Signer", Value: signer.Identity.Name},
		export.ReceiptField{Label: "Document number", Value: signer.Identity.DocumentNumber},
		export.ReceiptField{Label: "Email", Value: signer.Identity.Email},
		export.ReceiptField{Label: "Role", Value: string(signer.Kind)},
		export.ReceiptField{Label: "Signed at", Value: formatTime(signer.CompletedAt)},
		export.ReceiptField{Label: "IP address", Value: deref(signer.ConsentIP)},
		export.ReceiptField{Label: "User agent", Value: deref(signer.ConsentUserAgent)},
		export.ReceiptField{Label: "Geolocation", Value: deref(signer.ConsentGeolocation)},
		export.ReceiptField{Label: "Device", Value: deref(signer.DeviceFingerprint)},
		export.ReceiptField{Label: "Terms version", Value: deref(signer.TermsVersion)},
		export.ReceiptField{Label: "Original SHA-256", Value: doc.HashOriginal},
		export.ReceiptField{Label: "Final SHA-256", Value: deref(doc.HashFinal)},
		export.ReceiptField{Label: "Document status", Value: string(doc.Status)},
	)
	return fields
}

func identityFromRequest(req dto.IdentificationRequest) models.IdentitySnapshot {
	return models.IdentitySnapshot{
		Name:           req.Name,
		DocumentNumber: req.DocumentNumber,
		Email:          req.Email,
		Phone:          req.Phone,
	}
}

func anchorView(a models.Anchor, position int) dto.AnchorView {
	return dto.AnchorView{Signer: position, Kind: a.Kind, Page: a.Page, X: a.X, Y: a.Y, W: a.W, H: a.H}
}

func signerActor(signer *models.Signer) *string {
	return stringPtr(fmt.Sprintf("signer:%d", signer.Position))
}

func validTokenShape(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	for _, r := range token {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
