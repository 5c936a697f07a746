// Package cache provides caching implementations for Avia.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opensource-finance/avia/internal/domain"
)

// ErrNoTenant is returned when a call omits the tenant namespace.
var ErrNoTenant = errors.New("cache: tenant ID is required")

const defaultLocalSize = 10000

// lruKey scopes a key to its tenant namespace.
type lruKey struct {
	tenant string
	key    string
}

type lruItem struct {
	id      lruKey
	value   []byte
	expires time.Time
}

type window struct {
	hits    int64
	expires time.Time
}

// Stats is a point-in-time view of an LRU cache.
type Stats struct {
	Entries  int `json:"entries"`
	Capacity int `json:"capacity"`
	Counters int `json:"counters"`
}

// LRUCache is an in-process, size-bounded cache with per-entry expiry.
// It backs the community tier and is L1 for the two-phase cache.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	index    map[lruKey]*list.Element
	recency  *list.List // front is most recently used
	windows  map[lruKey]*window
	now      func() time.Time
}

// NewLRUCache creates an LRU cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = defaultLocalSize
	}
	return &LRUCache{
		capacity: capacity,
		index:    make(map[lruKey]*list.Element),
		recency:  list.New(),
		windows:  make(map[lruKey]*window),
		now:      time.Now,
	}
}

// Get returns the live value for key, or nil when absent or expired.
func (c *LRUCache) Get(_ context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[lruKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	item := el.Value.(*lruItem)
	if !c.now().Before(item.expires) {
		c.drop(el)
		return nil, nil
	}
	c.recency.MoveToFront(el)
	return item.value, nil
}

// Set stores value under key until ttl elapses, evicting the least recently
// used entries beyond capacity.
func (c *LRUCache) Set(_ context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrNoTenant
	}

	id := lruKey{tenantID, key}
	expires := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		item := el.Value.(*lruItem)
		item.value, item.expires = value, expires
		c.recency.MoveToFront(el)
		return nil
	}

	c.index[id] = c.recency.PushFront(&lruItem{id: id, value: value, expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
	}
	return nil
}

// Delete removes key.
func (c *LRUCache) Delete(_ context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return ErrNoTenant
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[lruKey{tenantID, key}]; ok {
		c.drop(el)
	}
	return nil
}

// GetSession retrieves a cached login session.
func (c *LRUCache) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	return getSession(ctx, c, token)
}

// SetSession caches a login session.
func (c *LRUCache) SetSession(ctx context.Context, session *domain.Session, ttl time.Duration) error {
	return setSession(ctx, c, session, ttl)
}

// IncrementCounter counts a hit in a fixed window that opens on the first
// hit and returns the running total.
func (c *LRUCache) IncrementCounter(_ context.Context, tenantID string, key string, span time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, ErrNoTenant
	}

	id := lruKey{tenantID, key}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[id]
	if ok && now.Before(w.expires) {
		w.hits++
		return w.hits, nil
	}

	if len(c.windows) >= c.capacity {
		for k, old := range c.windows {
			if !now.Before(old.expires) {
				delete(c.windows, k)
			}
		}
	}
	c.windows[id] = &window{hits: 1, expires: now.Add(span)}
	return 1, nil
}

// ResetCounter closes a counter's window early.
func (c *LRUCache) ResetCounter(_ context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return ErrNoTenant
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, lruKey{tenantID, key})
	return nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.index)
	clear(c.windows)
	c.recency.Init()
	return nil
}

// Stats reports occupancy.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:  c.recency.Len(),
		Capacity: c.capacity,
		Counters: len(c.windows),
	}
}

func (c *LRUCache) drop(el *list.Element) {
	item := c.recency.Remove(el).(*lruItem)
	delete(c.index, item.id)
}
