// Package dedup absorbs at-least-once redelivery by remembering recently seen keys.
// This is part of the platform layer and contains no business logic.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadlock_backend/platform/apperr"

	"github.com/redis/go-redis/v9"
)

// Suppressor records signal keys for a bounded window.
type Suppressor interface {
	// Claim marks key as seen. first is false when key was already claimed
	// inside the window.
	Claim(ctx context.Context, key string) (first bool, err error)
	// Release forgets key so a later redelivery is processed again.
	Release(ctx context.Context, key string) error
}

const redisKeyPrefix = "dedup:"

// RedisSuppressor shares claims across processes.
type RedisSuppressor struct {
	client redis.Cmdable
	window time.Duration
}

// NewRedisSuppressor creates a redis-backed suppressor.
func NewRedisSuppressor(client redis.Cmdable, window time.Duration) *RedisSuppressor {
	return &RedisSuppressor{client: client, window: window}
}

func (s *RedisSuppressor) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), s.window).Result()
	if err != nil {
		return false, apperr.Unavailable("claim dedup key", err)
	}
	return ok, nil
}

func (s *RedisSuppressor) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return apperr.Unavailable("release dedup key", err)
	}
	return nil
}

// MemorySuppressor keeps claims in process memory. Expired claims are
// pruned lazily on Claim.
type MemorySuppressor struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewMemorySuppressor creates an in-process suppressor.
func NewMemorySuppressor(window time.Duration) *MemorySuppressor {
	return &MemorySuppressor{seen: make(map[string]time.Time), window: window, now: time.Now}
}

func (s *MemorySuppressor) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, expires := range s.seen {
		if !now.Before(expires) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = now.Add(s.window)
	return true, nil
}

func (s *MemorySuppressor) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
	return nil
}
