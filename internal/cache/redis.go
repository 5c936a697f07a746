package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/avia/internal/domain"
)

const redisNamespace = "avia"

// incrementScript increments a counter and starts its window on the first hit.
var incrementScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache stores entries in Redis under avia:<tenant>:<key>. Counters
// use avia:<tenant>:counter:<key>.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client}, nil
}

// Get returns the value for key, or nil when absent.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return nil, err
	}
	val, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores value with a ttl.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, value, ttl).Err()
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, k).Err()
}

// GetSession retrieves a cached login session.
func (c *RedisCache) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	return getSession(ctx, c, token)
}

// SetSession caches a login session.
func (c *RedisCache) SetSession(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	return setSession(ctx, c, session, ttl)
}

// IncrementCounter runs INCR and sets the window expiry on the first hit.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, span time.Duration) (int64, error) {
	k, err := redisKey(tenantID, "counter:"+key)
	if err != nil {
		return 0, err
	}
	return incrementScript.Run(ctx, c.client, []string{k}, span.Milliseconds()).Int64()
}

// ResetCounter deletes a counter.
func (c *RedisCache) ResetCounter(ctx context.Context, tenantID string, key string) error {
	k, err := redisKey(tenantID, "counter:"+key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, k).Err()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", ErrNoTenant
	}
	return strings.Join([]string{redisNamespace, tenantID, key}, ":"), nil
}
