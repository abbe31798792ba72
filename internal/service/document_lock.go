package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/lock"
)

const defaultLockWait = 30 * time.Second

// RequestMeta is what the transport knows about the caller.
type RequestMeta struct {
	IP                string
	UserAgent         string
	Geolocation       string
	DeviceFingerprint string
}

func documentLockKey(documentID int64) string {
	return fmt.Sprintf("document:%d", documentID)
}

// lockDocument serialises composition and status writes for one document.
func lockDocument(ctx context.Context, locker lock.Locker, metrics *MetricsService, logger *zap.Logger, documentID int64) (func(), error) {
	start := time.Now()
	unlock, err := locker.Lock(ctx, documentLockKey(documentID))
	metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "document is busy, retry shortly")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock document")
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release document lock", zap.Int64("document_id", documentID), zap.Error(err))
		}
	}, nil
}
