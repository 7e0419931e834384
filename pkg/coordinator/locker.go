package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker provides per-user mutual exclusion so two sync cycles never run
// concurrently for the same user.
type Locker interface {
	// Acquire returns a release function when the lock was taken. A false
	// second return means another cycle holds the lock.
	Acquire(ctx context.Context, userID string, ttl time.Duration) (func(), bool, error)
}

// RedisLocker coordinates across service instances with SET NX. The TTL
// bounds how long a crashed instance can hold a user hostage.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, userID string, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf("welltrack:sync-lock:%s", userID)
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		l.client.Del(context.Background(), key)
	}
	return release, true, nil
}

// MemoryLocker is a single-process Locker for tests and local runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, userID string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[userID]; taken {
		return nil, false, nil
	}
	l.held[userID] = struct{}{}
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, userID)
	}
	return release, true, nil
}
