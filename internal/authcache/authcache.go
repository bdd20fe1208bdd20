// Package authcache implements the per-process device-authorization cache
// from spec.md §4.2.3: LRU-bounded, TTL-expiring, with single-flight
// coalescing of concurrent misses for the same key.
package authcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/nexusiot/fleetcore/internal/metrics"
)

// Entry is the cached authorization state for a (tenant, device) pair.
type Entry struct {
	TokenHash          string
	DeviceStatus       string
	SiteID             string
	SubscriptionStatus string
	CachedAt           time.Time
}

// Loader performs the cache-miss DB lookup. Implemented by internal/repo.
type Loader func(ctx context.Context, tenant, deviceID string) (Entry, error)

type cacheKey struct {
	tenant, deviceID string
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s/%s", k.tenant, k.deviceID)
}

// Cache is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	ttl   time.Duration
	load  Loader
	group singleflight.Group
	now   func() time.Time
}

func New(maxSize int, ttl time.Duration, load Loader) *Cache {
	return &Cache{
		lru:  lru.New(maxSize),
		ttl:  ttl,
		load: load,
		now:  time.Now,
	}
}

// Get returns the cached entry, refreshing it via the Loader on a miss or
// expiry. Concurrent Get calls for the same key coalesce onto one
// in-flight load.
func (c *Cache) Get(ctx context.Context, tenant, deviceID string) (Entry, error) {
	key := cacheKey{tenant, deviceID}

	c.mu.Lock()
	if v, ok := c.lru.Get(key); ok {
		entry := v.(Entry)
		if c.now().Sub(entry.CachedAt) < c.ttl {
			c.mu.Unlock()
			metrics.CacheHitsTotal.WithLabelValues("auth").Inc()
			return entry, nil
		}
		c.lru.Remove(key)
	}
	c.mu.Unlock()

	metrics.CacheMissesTotal.WithLabelValues("auth").Inc()

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		entry, err := c.load(ctx, tenant, deviceID)
		if err != nil {
			return Entry{}, err
		}
		entry.CachedAt = c.now()

		c.mu.Lock()
		c.lru.Add(key, entry)
		c.mu.Unlock()

		return entry, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Invalidate drops a cached entry, e.g. after a token rotation.
func (c *Cache) Invalidate(tenant, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(cacheKey{tenant, deviceID})
}

// Len reports the current number of cached entries (test/ops visibility).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
