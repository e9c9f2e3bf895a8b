// Package alertstore suppresses repeated ThreatDetected events for the same
// source/destination pair within a configured cooldown window.
package alertstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore records the last alert time for a pair key and reports
// whether a new alert for that pair is currently suppressed.
type CooldownStore interface {
	// Allow reports whether an alert for pairKey may fire now, and if so
	// records the time as the start of a new cooldown window.
	Allow(ctx context.Context, pairKey string, cooldown time.Duration) (bool, error)
	Close() error
}

// memoryStore is the default CooldownStore: an in-process map guarded by a
// mutex, adequate for a single sensor instance with no shared state.
type memoryStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryStore() CooldownStore {
	return &memoryStore{last: make(map[string]time.Time)}
}

func (m *memoryStore) Allow(_ context.Context, pairKey string, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if last, ok := m.last[pairKey]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	m.last[pairKey] = now
	return true, nil
}

func (m *memoryStore) Close() error { return nil }

// RedisConfig configures the optional Redis-backed cooldown store, used
// when multiple sensor instances must share suppression state.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// redisStore persists each pair's cooldown as a key with the cooldown
// duration as its TTL: the key's mere existence means the pair is
// currently suppressed (SETNX with expiry).
type redisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg RedisConfig) (CooldownStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("alertstore: redis ping: %w", err)
	}
	return &redisStore{client: client}, nil
}

func (r *redisStore) Allow(ctx context.Context, pairKey string, cooldown time.Duration) (bool, error) {
	key := "sakin:cooldown:" + pairKey
	ok, err := r.client.SetNX(ctx, key, 1, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("alertstore: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
