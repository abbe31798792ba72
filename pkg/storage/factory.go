package storage

import (
	"context"
	"fmt"

	"github.com/noah-isme/esign-api/pkg/config"
)

// New selects the object store configured by STORAGE_DRIVER. The returned
// LocalStorage is nil unless the local driver is active; the files endpoint
// needs it to resolve download tokens.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, *LocalStorage, error) {
	switch cfg.Driver {
	case "", config.StorageDriverLocal:
		local, err := NewLocalStorage(cfg.LocalDir, cfg.PublicBaseURL, NewSignedURLSigner(cfg.SignedURLSecret, cfg.URLTTL))
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	case config.StorageDriverS3:
		remote, err := NewS3Storage(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return remote, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
