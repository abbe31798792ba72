package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/repository"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/pdfstamp"
	"github.com/noah-isme/esign-api/pkg/storage"
)

const pdfContentType = "application/pdf"

type compositionStore interface {
	FindByID(ctx context.Context, id int64) (*models.Document, error)
	ListSigners(ctx context.Context, documentID int64) ([]models.Signer, error)
	ListAnchors(ctx context.Context, documentID int64) ([]models.Anchor, error)
	SaveFinal(ctx context.Context, documentID int64, final models.FinalArtifact) error
}

// CompositionInput is everything a composition pass reads. Artifacts may carry
// bytes already in memory, keyed by storage key; missing ones are downloaded.
type CompositionInput struct {
	Document  *models.Document
	Signers   []models.Signer
	Anchors   []models.Anchor
	Original  []byte
	Artifacts map[string][]byte
}

// Stamp is one artifact drawn on the final document.
type Stamp struct {
	SignerID int64
	Position int
	Kind     models.AnchorKind
	Page     int
	Rect     pdfstamp.Rect
}

// Composition is the in-memory result of a pass.
type Composition struct {
	Bytes   []byte
	Hash    string
	Pages   int
	Stamps  []Stamp
	Skipped int
	Status  models.DocumentStatus
}

// PdfCompositionEngine rebuilds the final PDF from the untouched original and
// the artifacts of every completed signer. It never reads a previous final.
type PdfCompositionEngine struct {
	store     compositionStore
	objects   objectGateway
	stamper   *pdfstamp.Stamper
	hasher    IntegrityHasher
	lifecycle DocumentLifecycle
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewPdfCompositionEngine wires the engine.
func NewPdfCompositionEngine(store compositionStore, objects storage.ObjectStore, stamper *pdfstamp.Stamper, metrics *MetricsService, logger *zap.Logger, storageTimeout time.Duration) *PdfCompositionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stamper == nil {
		stamper = pdfstamp.NewStamper()
	}
	return &PdfCompositionEngine{
		store:   store,
		objects: newObjectGateway(objects, storageTimeout, metrics, logger),
		stamper: stamper,
		metrics: metrics,
		logger:  logger,
	}
}

// OriginalKey is where a document's uploaded PDF lives.
func OriginalKey(documentUUID string) string {
	return fmt.Sprintf("documents/%s/original.pdf", documentUUID)
}

// FinalKey is where the composed PDF lives. Every pass overwrites it.
func FinalKey(documentUUID string) string {
	return fmt.Sprintf("documents/%s/final.pdf", documentUUID)
}

// Build composes the final document in memory. Signers are stamped in
// ascending id order. Anchors on missing pages and anchors whose artifact is
// absent are skipped rather than failing the pass.
func (e *PdfCompositionEngine) Build(ctx context.Context, in CompositionInput) (*Composition, error) {
	if in.Document == nil {
		return nil, appErrors.Clone(appErrors.ErrCompositionFailure, "document is required")
	}
	start := time.Now()

	signers := make([]models.Signer, len(in.Signers))
	copy(signers, in.Signers)
	sort.SliceStable(signers, func(i, j int) bool { return signers[i].ID < signers[j].ID })

	original, artifacts, err := e.fetchInputs(ctx, in, signers)
	if err != nil {
		return nil, err
	}

	anchorsBySigner := make(map[int64][]models.Anchor, len(signers))
	for _, a := range in.Anchors {
		anchorsBySigner[a.SignerID] = append(anchorsBySigner[a.SignerID], a)
	}

	var (
		placements []pdfstamp.Placement
		planned    []Stamp
		skipped    int
	)
	for i := range signers {
		signer := &signers[i]
		if !signer.Completed() {
			continue
		}
		signature := artifactBytes(artifacts, signer.SignatureKey)
		if signature == nil {
			e.logger.Warn("skipping completed signer without signature",
				zap.String("document", in.Document.UUID), zap.Int("position", signer.Position))
			skipped += len(anchorsBySigner[signer.ID])
			continue
		}
		initials := artifactBytes(artifacts, signer.InitialsKey)
		for _, anchor := range anchorsBySigner[signer.ID] {
			var image []byte
			switch anchor.Kind {
			case models.AnchorKindSignature:
				image = signature
			case models.AnchorKindInitials:
				image = initials
			}
			if image == nil {
				e.logger.Warn("skipping anchor without artifact",
					zap.String("document", in.Document.UUID), zap.Int("position", signer.Position), zap.String("tipo", string(anchor.Kind)))
				skipped++
				continue
			}
			placements = append(placements, pdfstamp.Placement{
				Page:  anchor.Page,
				X:     anchor.X,
				Y:     anchor.Y,
				W:     anchor.W,
				H:     anchor.H,
				Image: image,
				Label: strconv.Itoa(len(planned)),
			})
			planned = append(planned, Stamp{
				SignerID: signer.ID,
				Position: signer.Position,
				Kind:     anchor.Kind,
				Page:     anchor.Page,
			})
		}
	}

	result, err := e.stamper.Stamp(original, placements)
	if err != nil {
		return nil, appErrors.WrapKind(err, appErrors.ErrCompositionFailure, "")
	}

	stamps := make([]Stamp, 0, len(result.Applied))
	for _, applied := range result.Applied {
		idx, err := strconv.Atoi(applied.Label)
		if err != nil || idx < 0 || idx >= len(planned) {
			continue
		}
		stamp := planned[idx]
		stamp.Rect = applied.Rect
		stamps = append(stamps, stamp)
	}
	for _, s := range result.Skipped {
		e.logger.Warn("anchor not stamped", zap.String("document", in.Document.UUID), zap.Int("page", s.Page), zap.String("reason", s.Reason))
	}
	skipped += len(result.Skipped)

	status, err := e.lifecycle.OnAllSignersCompleted(in.Document.Status, signers)
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveComposition(time.Since(start), len(stamps), skipped)
	return &Composition{
		Bytes:   result.Data,
		Hash:    e.hasher.Sum(result.Data),
		Pages:   result.Pages,
		Stamps:  stamps,
		Skipped: skipped,
		Status:  status,
	}, nil
}

// Publish uploads the composed bytes to the document's final key.
func (e *PdfCompositionEngine) Publish(ctx context.Context, doc *models.Document, comp *Composition) (models.FinalArtifact, error) {
	key := FinalKey(doc.UUID)
	if err := e.objects.put(ctx, key, comp.Bytes, pdfContentType); err != nil {
		return models.FinalArtifact{}, err
	}
	return models.FinalArtifact{Key: key, Hash: comp.Hash, Status: comp.Status}, nil
}

// Regenerate runs a full pass from persisted rows and records the result.
// Completed documents keep the final they were sealed with. Callers must hold
// the document lock.
func (e *PdfCompositionEngine) Regenerate(ctx context.Context, documentID int64) (*models.Document, *Composition, error) {
	doc, err := e.store.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	switch doc.Status {
	case models.DocumentStatusCancelled:
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document is cancelled")
	case models.DocumentStatusCompleted:
		// receipts quote hash_final, a new pass would not reproduce it byte for byte
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document is completed, its final is sealed")
	}
	signers, err := e.store.ListSigners(ctx, documentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signers")
	}
	anchors, err := e.store.ListAnchors(ctx, documentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load anchors")
	}

	comp, err := e.Build(ctx, CompositionInput{Document: doc, Signers: signers, Anchors: anchors})
	if err != nil {
		return nil, nil, err
	}
	final, err := e.Publish(ctx, doc, comp)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.SaveFinal(ctx, documentID, final); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, nil, appErrors.Clone(appErrors.ErrInvalidTransition, "document is cancelled")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record final document")
	}

	doc.FinalKey = &final.Key
	doc.HashFinal = &final.Hash
	doc.Status = final.Status
	return doc, comp, nil
}

// fetchInputs downloads the original and every artifact not already in memory
// concurrently. A missing artifact is tolerated; a missing original is not.
func (e *PdfCompositionEngine) fetchInputs(ctx context.Context, in CompositionInput, signers []models.Signer) ([]byte, map[string][]byte, error) {
	artifacts := make(map[string][]byte, len(in.Artifacts))
	for k, v := range in.Artifacts {
		artifacts[k] = v
	}

	var keys []string
	seen := make(map[string]struct{})
	for i := range signers {
		if !signers[i].Completed() {
			continue
		}
		for _, key := range []*string{signers[i].SignatureKey, signers[i].InitialsKey} {
			if key == nil || *key == "" {
				continue
			}
			if _, ok := artifacts[*key]; ok {
				continue
			}
			if _, ok := seen[*key]; ok {
				continue
			}
			seen[*key] = struct{}{}
			keys = append(keys, *key)
		}
	}

	original := in.Original
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if original == nil {
		g.Go(func() error {
			data, err := e.objects.get(gctx, in.Document.OriginalKey)
			if err != nil {
				return err
			}
			original = data
			return nil
		})
	}
	for _, key := range keys {
		key := key
		g.Go(func() error {
			data, err := e.objects.get(gctx, key)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotFound) {
					e.logger.Warn("artifact missing from storage", zap.String("key", key))
					return nil
				}
				return err
			}
			mu.Lock()
			artifacts[key] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return original, artifacts, nil
}

func artifactBytes(artifacts map[string][]byte, key *string) []byte {
	if key == nil || *key == "" {
		return nil
	}
	data := artifacts[*key]
	if len(data) == 0 {
		return nil
	}
	return data
}
