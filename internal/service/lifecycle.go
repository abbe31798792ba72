package service

import (
	"fmt"

	"github.com/noah-isme/esign-api/internal/models"
	appErrors "github.com/noah-isme/esign-api/pkg/errors"
)

var documentTransitions = map[models.DocumentStatus][]models.DocumentStatus{
	models.DocumentStatusDraft: {models.DocumentStatusReady, models.DocumentStatusCancelled},
	models.DocumentStatusReady: {models.DocumentStatusReady, models.DocumentStatusCompleted, models.DocumentStatusCancelled},
}

// DocumentLifecycle owns the document status machine:
// draft -> ready -> completed, with cancelled reachable from draft and ready.
type DocumentLifecycle struct{}

// CanTransition reports whether from -> to is allowed.
func (DocumentLifecycle) CanTransition(from, to models.DocumentStatus) bool {
	for _, next := range documentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanAcceptAnchors reports whether the anchor set may be replaced.
func (DocumentLifecycle) CanAcceptAnchors(status models.DocumentStatus) bool {
	return status == models.DocumentStatusDraft || status == models.DocumentStatusReady
}

// AnchorSourceStatuses lists the statuses from which anchors may be committed.
func (DocumentLifecycle) AnchorSourceStatuses() []models.DocumentStatus {
	return []models.DocumentStatus{models.DocumentStatusDraft, models.DocumentStatusReady}
}

// CanSign reports whether signers may finalize.
func (DocumentLifecycle) CanSign(status models.DocumentStatus) bool {
	return status == models.DocumentStatusReady
}

// OnAnchorsCommitted returns the status after an anchor set is committed.
func (l DocumentLifecycle) OnAnchorsCommitted(current models.DocumentStatus) (models.DocumentStatus, error) {
	if !l.CanAcceptAnchors(current) {
		return current, invalidTransition(current, models.DocumentStatusReady)
	}
	return models.DocumentStatusReady, nil
}

// OnAllSignersCompleted derives the status from the signer rows: completed
// once every signer has completed, otherwise unchanged. A completed document
// stays completed so regeneration is idempotent.
func (l DocumentLifecycle) OnAllSignersCompleted(current models.DocumentStatus, signers []models.Signer) (models.DocumentStatus, error) {
	if !allCompleted(signers) {
		return current, nil
	}
	if current == models.DocumentStatusCompleted {
		return current, nil
	}
	if !l.CanTransition(current, models.DocumentStatusCompleted) {
		return current, invalidTransition(current, models.DocumentStatusCompleted)
	}
	return models.DocumentStatusCompleted, nil
}

// OnCancel returns cancelled or InvalidTransition for terminal documents.
func (l DocumentLifecycle) OnCancel(current models.DocumentStatus) (models.DocumentStatus, error) {
	if !l.CanTransition(current, models.DocumentStatusCancelled) {
		return current, invalidTransition(current, models.DocumentStatusCancelled)
	}
	return models.DocumentStatusCancelled, nil
}

func allCompleted(signers []models.Signer) bool {
	if len(signers) == 0 {
		return false
	}
	for i := range signers {
		if !signers[i].Completed() {
			return false
		}
	}
	return true
}

func countCompleted(signers []models.Signer) int {
	n := 0
	for i := range signers {
		if signers[i].Completed() {
			n++
		}
	}
	return n
}

func invalidTransition(from, to models.DocumentStatus) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document cannot move from %s to %s", from, to))
}
