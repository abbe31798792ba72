package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/esign-api/pkg/errors"
	"github.com/noah-isme/esign-api/pkg/storage"
)

const defaultStorageTimeout = 20 * time.Second

// objectGateway bounds every storage call with a timeout and maps failures
// to the storage error kind. storage.ErrObjectNotFound stays reachable via errors.Is.
type objectGateway struct {
	store   storage.ObjectStore
	timeout time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

func newObjectGateway(store storage.ObjectStore, timeout time.Duration, metrics *MetricsService, logger *zap.Logger) objectGateway {
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return objectGateway{store: store, timeout: timeout, metrics: metrics, logger: logger}
}

func (g objectGateway) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	data, err := g.store.Get(ctx, key)
	g.metrics.ObserveStorage("get", time.Since(start))
	if err != nil {
		return nil, appErrors.WrapKind(err, appErrors.ErrStorageFailure, "failed to download "+key)
	}
	return data, nil
}

func (g objectGateway) put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	err := g.store.Put(ctx, key, data, contentType)
	g.metrics.ObserveStorage("put", time.Since(start))
	if err != nil {
		return appErrors.WrapKind(err, appErrors.ErrStorageFailure, "failed to upload "+key)
	}
	return nil
}

// discard removes objects best effort.
func (g objectGateway) discard(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, g.timeout)
		if err := g.store.Delete(dctx, key); err != nil {
			g.logger.Warn("failed to delete orphaned object", zap.String("key", key), zap.Error(err))
		}
		cancel()
	}
}

func (g objectGateway) url(ctx context.Context, key string, ttl time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	link, err := g.store.URL(ctx, key, ttl)
	if err != nil {
		g.logger.Warn("failed to build object url", zap.String("key", key), zap.Error(err))
		return ""
	}
	return link
}
