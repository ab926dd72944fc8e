package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists throttle counters per domain.
type StateStore interface {
	// Get returns the current state. A domain without an open window returns a
	// zero-count state, not an error.
	Get(ctx context.Context, domain Domain) (*ThrottleState, error)

	// Increment counts one throttling response, opening a window of the given
	// length if none is open.
	Increment(ctx context.Context, domain Domain, window time.Duration) (*ThrottleState, error)
}

// MemoryStore keeps throttle state in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Domain]*ThrottleState
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Domain]*ThrottleState),
		now:     time.Now,
	}
}

// Get implements StateStore.
func (m *MemoryStore) Get(_ context.Context, domain Domain) (*ThrottleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[domain]
	if !ok || !m.now().Before(ent.ResetAt) {
		return &ThrottleState{Domain: domain}, nil
	}
	cp := *ent
	return &cp, nil
}

// Increment implements StateStore.
func (m *MemoryStore) Increment(_ context.Context, domain Domain, window time.Duration) (*ThrottleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ent, ok := m.entries[domain]
	if !ok || !now.Before(ent.ResetAt) {
		ent = &ThrottleState{Domain: domain, ResetAt: now.Add(window)}
		m.entries[domain] = ent
	}
	ent.Throttles++

	cp := *ent
	return &cp, nil
}

// RedisStore shares throttle state between export processes working against
// the same account.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

func throttleKey(domain Domain) string {
	return fmt.Sprintf("%s:%s:throttles", RedisKeyPrefix, domain)
}

// Get implements StateStore.
func (r *RedisStore) Get(ctx context.Context, domain Domain) (*ThrottleState, error) {
	key := throttleKey(domain)

	pipe := r.redis.Pipeline()
	countCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttle state: %w", err)
	}

	count, err := countCmd.Int()
	if err == redis.Nil {
		return &ThrottleState{Domain: domain}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse throttle count: %w", err)
	}

	state := &ThrottleState{Domain: domain, Throttles: count}
	if ttl := ttlCmd.Val(); ttl > 0 {
		state.ResetAt = time.Now().Add(ttl)
	}
	return state, nil
}

// Increment implements StateStore.
func (r *RedisStore) Increment(ctx context.Context, domain Domain, window time.Duration) (*ThrottleState, error) {
	key := throttleKey(domain)

	pipe := r.redis.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("increment throttle count: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		// First throttle of a window: the key has no expiry yet.
		if err := r.redis.PExpire(ctx, key, window).Err(); err != nil {
			return nil, fmt.Errorf("set throttle window: %w", err)
		}
		ttl = window
	}

	return &ThrottleState{
		Domain:    domain,
		Throttles: int(incrCmd.Val()),
		ResetAt:   time.Now().Add(ttl),
	}, nil
}
