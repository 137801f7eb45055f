package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"github.com/redis/go-redis/v9"
)

// ============================================================
// Idempotency stores (port.IdempotencyStore)
// ============================================================

// reserveAttempts bounds the claim loop when a record expires between the
// failed claim and the read that follows it.
const reserveAttempts = 3

// MemoryIdempotency keeps submission results in process memory. Replays only
// work against the same instance.
type MemoryIdempotency struct {
	items *InMemory[domain.IdempotencyRecord]
}

// NewMemoryIdempotency creates an in-memory store with the given TTL.
func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{items: New[domain.IdempotencyRecord](ttl)}
}

func (m *MemoryIdempotency) Reserve(_ context.Context, key, proposalID string) (*domain.IdempotencyRecord, error) {
	for i := 0; i < reserveAttempts; i++ {
		if m.items.SetIfAbsent(key, domain.IdempotencyRecord{ProposalID: proposalID}) {
			return nil, nil
		}
		if rec, ok := m.items.Get(key); ok {
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("reserve idempotency key: contention on %s", key)
}

func (m *MemoryIdempotency) Remember(_ context.Context, key string, result *domain.SubmissionResult) error {
	res := *result
	m.items.Set(key, domain.IdempotencyRecord{ProposalID: result.ProposalID, Result: &res})
	return nil
}

func (m *MemoryIdempotency) Release(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Close stops background cleanup.
func (m *MemoryIdempotency) Close() {
	m.items.Close()
}

// RedisIdempotency shares submission results across instances. Reservations
// live for pendingTTL so a crashed instance cannot hold a key for a full day.
type RedisIdempotency struct {
	rdb        *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewRedisIdempotency creates a Redis-backed store. Results are kept for ttl
// and in-flight reservations for pendingTTL.
func NewRedisIdempotency(rdb *redis.Client, ttl, pendingTTL time.Duration) *RedisIdempotency {
	return &RedisIdempotency{rdb: rdb, ttl: ttl, pendingTTL: pendingTTL}
}

func (r *RedisIdempotency) Reserve(ctx context.Context, key, proposalID string) (*domain.IdempotencyRecord, error) {
	claim, err := json.Marshal(domain.IdempotencyRecord{ProposalID: proposalID})
	if err != nil {
		return nil, err
	}

	for i := 0; i < reserveAttempts; i++ {
		ok, err := r.rdb.SetNX(ctx, key, claim, r.pendingTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			return nil, nil
		}

		raw, err := r.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", key, err)
		}
		var rec domain.IdempotencyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode idempotency record: %w", err)
		}
		return &rec, nil
	}
	return nil, fmt.Errorf("reserve idempotency key: contention on %s", key)
}

func (r *RedisIdempotency) Remember(ctx context.Context, key string, result *domain.SubmissionResult) error {
	raw, err := json.Marshal(domain.IdempotencyRecord{ProposalID: result.ProposalID, Result: result})
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
