// Package metrickeycache caches each device's merged raw-key -> canonical
// metric key map (spec.md §4.2.6), TTL-bounded and LRU-evicted.
package metrickeycache

import (
	"context"
	"sync"
	"time"

	lru "github.com/golang/groupcache/lru"

	"github.com/nexusiot/fleetcore/internal/metrics"
)

type KeyMap map[string]string

// Loader fetches the merged key-map for a device (e.g. from internal/repo).
type Loader func(ctx context.Context, tenant, deviceID string) (KeyMap, error)

type entry struct {
	keyMap   KeyMap
	cachedAt time.Time
}

type Cache struct {
	mu   sync.Mutex
	lru  *lru.Cache
	ttl  time.Duration
	load Loader
	now  func() time.Time
}

func New(maxSize int, ttl time.Duration, load Loader) *Cache {
	return &Cache{lru: lru.New(maxSize), ttl: ttl, load: load, now: time.Now}
}

func (c *Cache) keyMap(ctx context.Context, tenant, deviceID string) (KeyMap, error) {
	key := tenant + "/" + deviceID

	c.mu.Lock()
	if v, ok := c.lru.Get(key); ok {
		e := v.(entry)
		if c.now().Sub(e.cachedAt) < c.ttl {
			c.mu.Unlock()
			metrics.CacheHitsTotal.WithLabelValues("metric_key").Inc()
			return e.keyMap, nil
		}
		c.lru.Remove(key)
	}
	c.mu.Unlock()

	metrics.CacheMissesTotal.WithLabelValues("metric_key").Inc()
	km, err := c.load(ctx, tenant, deviceID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lru.Add(key, entry{keyMap: km, cachedAt: c.now()})
	c.mu.Unlock()

	return km, nil
}

// Normalize rewrites a raw firmware metric key to its canonical form using
// the device's key-map. An unmapped key passes through unchanged.
// Normalize(Normalize(k)) == Normalize(k) holds because a canonical key is
// never itself a key in any device's raw->canonical map (provisioning is
// responsible for that invariant; this cache only does lookups).
func (c *Cache) Normalize(ctx context.Context, tenant, deviceID, rawKey string) (string, error) {
	km, err := c.keyMap(ctx, tenant, deviceID)
	if err != nil {
		return "", err
	}
	if canonical, ok := km[rawKey]; ok {
		return canonical, nil
	}
	return rawKey, nil
}
