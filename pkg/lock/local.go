package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process keyed mutex. It only serialises callers inside
// a single replica.
type LocalLocker struct {
	wait time.Duration

	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	slot chan struct{}
	refs int
}

// NewLocalLocker returns a locker that gives up after wait. A non-positive
// wait blocks until ctx is done.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{wait: wait, entries: make(map[string]*localEntry)}
}

// Lock blocks until key is free.
func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	entry := l.acquireEntry(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(key)
		return nil, ctx.Err()
	case <-timeout:
		l.releaseEntry(key)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-entry.slot
			l.releaseEntry(key)
		})
		return nil
	}, nil
}

func (l *LocalLocker) acquireEntry(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{slot: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) releaseEntry(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, key)
	}
}
