package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
)

// New creates a cache from configuration: an in-process LRU for "memory",
// Redis for "redis", fronted by an LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

const defaultLocalTTL = 5 * time.Minute

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2). Writes go to
// both; L1 entries never outlive localTTL. Counters live only in Redis so
// every node sees the same count.
type TwoPhaseCache struct {
	l1       *LRUCache
	l2       *RedisCache
	localTTL time.Duration
}

// NewTwoPhaseCache connects to Redis and creates the local tier.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	l2, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	localTTL := cfg.LocalTTL
	if localTTL <= 0 {
		localTTL = defaultLocalTTL
	}
	return &TwoPhaseCache{
		l1:       NewLRUCache(cfg.LocalMaxSize),
		l2:       l2,
		localTTL: localTTL,
	}, nil
}

// Get serves from L1 and falls back to L2, warming L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if v, err := c.l1.Get(ctx, tenantID, key); err != nil || v != nil {
		return v, err
	}

	v, err := c.l2.Get(ctx, tenantID, key)
	if err != nil || v == nil {
		return nil, err
	}
	_ = c.l1.Set(ctx, tenantID, key, v, c.localTTL)
	return v, nil
}

// Set writes L1 first, then L2 with the full ttl.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, tenantID, key, value, min(ttl, c.localTTL)); err != nil {
		return err
	}
	return c.l2.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes key from both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	return errors.Join(
		c.l1.Delete(ctx, tenantID, key),
		c.l2.Delete(ctx, tenantID, key),
	)
}

// GetSession retrieves a session from L1, then L2.
func (c *TwoPhaseCache) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	return getSession(ctx, c, token)
}

// SetSession caches a session in both tiers.
func (c *TwoPhaseCache) SetSession(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	return setSession(ctx, c, session, ttl)
}

// IncrementCounter counts in Redis.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, span time.Duration) (int64, error) {
	return c.l2.IncrementCounter(ctx, tenantID, key, span)
}

// ResetCounter clears a Redis counter.
func (c *TwoPhaseCache) ResetCounter(ctx context.Context, tenantID string, key string) error {
	return c.l2.ResetCounter(ctx, tenantID, key)
}

// Ping checks Redis; the local tier is always up.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.l2.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close empties L1 and closes the Redis client.
func (c *TwoPhaseCache) Close() error {
	_ = c.l1.Close()
	return c.l2.Close()
}

// Stats reports L1 occupancy.
func (c *TwoPhaseCache) Stats() Stats {
	return c.l1.Stats()
}
