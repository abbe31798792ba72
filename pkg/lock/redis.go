package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds locks as expiring redis keys so the critical section
// spans every replica sharing the same redis. The key is refreshed every
// third of its ttl while held.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedisLocker builds a redis backed locker. ttl bounds how long a crashed
// holder can keep the key.
func NewRedisLocker(client redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "esign:lock:", ttl: ttl, wait: wait, poll: 50 * time.Millisecond}
}

// Lock polls SET NX until the key is obtained, ctx ends or the wait elapses.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	owner, err := ownerToken()
	if err != nil {
		return nil, err
	}
	redisKey := l.prefix + key

	var deadline time.Time
	if l.wait > 0 {
		deadline = time.Now().Add(l.wait)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, owner, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, owner).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// keepAlive pushes the expiry forward until stop closes or the key is no
// longer owned by owner.
func (l *RedisLocker) keepAlive(redisKey, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			extended, err := extendScript.Run(ctx, l.client, []string{redisKey}, owner, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && extended == 0 {
				return
			}
		}
	}
}

func ownerToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock owner: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
