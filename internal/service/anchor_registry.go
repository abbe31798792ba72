package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/repository"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

// coordinate slack for values produced by float division in editors
const anchorEpsilon = 1e-9

type anchorStore interface {
	ReplaceAnchors(ctx context.Context, documentID int64, anchors []models.Anchor, from []models.DocumentStatus, next models.DocumentStatus) error
	ListAnchors(ctx context.Context, documentID int64) ([]models.Anchor, error)
	ListAnchorsBySigner(ctx context.Context, documentID, signerID int64) ([]models.Anchor, error)
}

// AnchorRegistry validates and stores the stamp positions of a document.
type AnchorRegistry struct {
	store     anchorStore
	lifecycle DocumentLifecycle
}

// NewAnchorRegistry constructs the registry.
func NewAnchorRegistry(store anchorStore) *AnchorRegistry {
	return &AnchorRegistry{store: store}
}

// ReplaceAll swaps the whole anchor set of doc and moves it to ready. The set
// and the status change commit together.
func (r *AnchorRegistry) ReplaceAll(ctx context.Context, doc *models.Document, signers []models.Signer, anchors []models.Anchor) (models.DocumentStatus, error) {
	next, err := r.lifecycle.OnAnchorsCommitted(doc.Status)
	if err != nil {
		return doc.Status, err
	}
	if err := ValidateAnchors(doc, signers, anchors); err != nil {
		return doc.Status, err
	}
	if err := r.store.ReplaceAnchors(ctx, doc.ID, clampToPage(anchors), r.lifecycle.AnchorSourceStatuses(), next); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return doc.Status, appErrors.Clone(appErrors.ErrInvalidTransition, "document no longer accepts anchors")
		}
		return doc.Status, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace anchors")
	}
	return next, nil
}

// ListBySigner returns the anchors of one signer.
func (r *AnchorRegistry) ListBySigner(ctx context.Context, documentID, signerID int64) ([]models.Anchor, error) {
	anchors, err := r.store.ListAnchorsBySigner(ctx, documentID, signerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signer anchors")
	}
	return anchors, nil
}

// List returns every anchor of a document.
func (r *AnchorRegistry) List(ctx context.Context, documentID int64) ([]models.Anchor, error) {
	anchors, err := r.store.ListAnchors(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load anchors")
	}
	return anchors, nil
}

// ValidateAnchors rejects anchors that would stamp off-page, reference an
// unknown page or belong to another document's signer.
func ValidateAnchors(doc *models.Document, signers []models.Signer, anchors []models.Anchor) error {
	if len(anchors) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "at least one anchor is required")
	}
	owned := make(map[int64]struct{}, len(signers))
	for i := range signers {
		if signers[i].DocumentID == doc.ID {
			owned[signers[i].ID] = struct{}{}
		}
	}
	for i, a := range anchors {
		if err := validateAnchor(doc, owned, a); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("anchor %d: %s", i+1, err.Error()))
		}
	}
	return nil
}

func validateAnchor(doc *models.Document, owned map[int64]struct{}, a models.Anchor) error {
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown tipo %q", a.Kind)
	}
	if _, ok := owned[a.SignerID]; !ok {
		return fmt.Errorf("signer does not belong to document")
	}
	if a.Page < 1 {
		return fmt.Errorf("page must be 1 or greater")
	}
	if doc.PageCount > 0 && a.Page > doc.PageCount {
		return fmt.Errorf("page %d exceeds page count %d", a.Page, doc.PageCount)
	}
	if a.X < 0 || a.Y < 0 || a.X >= 1 || a.Y >= 1 {
		return fmt.Errorf("origin must lie within the page")
	}
	if a.W <= 0 || a.H <= 0 {
		return fmt.Errorf("width and height must be positive")
	}
	if a.X+a.W > 1+anchorEpsilon || a.Y+a.H > 1+anchorEpsilon {
		return fmt.Errorf("rectangle extends beyond the page")
	}
	return nil
}

// clampToPage trims rectangles that overshoot the page edge by no more than
// anchorEpsilon so they satisfy the x+w <= 1 and y+h <= 1 table checks.
func clampToPage(anchors []models.Anchor) []models.Anchor {
	out := make([]models.Anchor, len(anchors))
	for i, a := range anchors {
		if a.X+a.W > 1 {
			a.W = 1 - a.X
		}
		if a.Y+a.H > 1 {
			a.H = 1 - a.Y
		}
		out[i] = a
	}
	return out
}
