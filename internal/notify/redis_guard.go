package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	platformredis "rally/internal/platform/redis"
)

// RedisGuard implements the send-once guard with SET NX, so deduplication
// holds across process restarts and replicas.
type RedisGuard struct {
	client *platformredis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard with the given key TTL. A zero TTL uses
// DefaultGuardTTL.
func NewRedisGuard(client *platformredis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) FirstSend(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// MemoryGuard is an in-process send-once guard for tests and single-node
// setups without Redis.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryGuard creates an empty in-process guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]struct{})}
}

func (g *MemoryGuard) FirstSend(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = struct{}{}
	return true, nil
}
