package lock

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a lock could not be obtained within the
// configured wait.
var ErrLockTimeout = errors.New("lock wait timeout")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker serialises work on a key across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}
