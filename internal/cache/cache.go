// Package cache provides a two-tier TTL read cache for ledger queries.
//
// A nil *Cache is valid and caches nothing, so callers never need to check
// whether caching is enabled.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tier selects the time-to-live applied to an entry.
type Tier int

// Cache tiers.
const (
	// TierVolatile holds data that changes with every mutation: wallets,
	// transaction pages, budgets and summaries.
	TierVolatile Tier = iota
	// TierReference holds slow-moving data such as categories.
	TierReference
)

// Default TTLs.
const (
	DefaultVolatileTTL  = 30 * time.Second
	DefaultReferenceTTL = 10 * time.Minute
)

// Config configures a Cache.
type Config struct {
	Clock           func() time.Time
	VolatileTTL     time.Duration
	ReferenceTTL    time.Duration
	CleanupInterval time.Duration
	Disabled        bool
}

type entry struct {
	expiry time.Time
	value  any
}

// Cache is a thread-safe in-memory cache with per-tier expiry.
type Cache struct {
	entries    map[string]entry
	clock      func() time.Time
	stopCh     chan struct{}
	group      singleflight.Group
	ttl        [2]time.Duration
	generation uint64
	mu         sync.RWMutex
	closeOnce  sync.Once
}

// New creates a cache and starts its cleanup goroutine. It returns nil when
// cfg.Disabled is set.
func New(cfg Config) *Cache {
	if cfg.Disabled {
		return nil
	}
	if cfg.VolatileTTL <= 0 {
		cfg.VolatileTTL = DefaultVolatileTTL
	}
	if cfg.ReferenceTTL <= 0 {
		cfg.ReferenceTTL = DefaultReferenceTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	c := &Cache{
		entries: make(map[string]entry),
		clock:   cfg.Clock,
		stopCh:  make(chan struct{}),
		ttl:     [2]time.Duration{cfg.VolatileTTL, cfg.ReferenceTTL},
	}

	go c.cleanup(cfg.CleanupInterval)

	return c
}

// Get returns the live entry for key.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.clock().After(e.expiry) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the tier's TTL.
func (c *Cache) Set(tier Tier, key string, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(tier, key, value)
}

func (c *Cache) setLocked(tier Tier, key string, value any) {
	c.entries[key] = entry{
		value:  value,
		expiry: c.clock().Add(c.ttlFor(tier)),
	}
}

// setIfCurrent stores value only if nothing was invalidated since gen was
// read, so a load that raced with a mutation never caches stale data.
func (c *Cache) setIfCurrent(gen uint64, tier Tier, key string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.setLocked(tier, key, value)
	return true
}

func (c *Cache) ttlFor(tier Tier) time.Duration {
	if tier == TierReference {
		return c.ttl[TierReference]
	}
	return c.ttl[TierVolatile]
}

// Generation returns a counter bumped by every invalidation.
func (c *Cache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Invalidate drops the given keys.
func (c *Cache) Invalidate(keys ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// InvalidatePrefix drops every key starting with any of the prefixes.
func (c *Cache) InvalidatePrefix(prefixes ...string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for key := range c.entries {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				delete(c.entries, key)
				break
			}
		}
	}
}

// Clear removes every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[string]entry)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.stopCh) })
}

// cleanup periodically removes expired entries.
func (c *Cache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *Cache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	for key, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, key)
		}
	}
}

// Load returns the cached value for key, or calls load and caches its
// result. Concurrent misses for the same key share one load. A cached value
// of the wrong type is treated as a miss. clone, when non-nil, is applied to
// every value handed back so callers can never mutate the cached copy.
func Load[T any](c *Cache, tier Tier, key string, clone func(T) T, load func() (T, error)) (T, error) {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	if c == nil {
		return load()
	}

	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return clone(typed), nil
		}
		c.Invalidate(key)
	}

	gen := c.Generation()
	v, err, _ := c.group.Do(fmt.Sprintf("%d|%s", gen, key), func() (any, error) {
		loaded, err := load()
		if err != nil {
			return nil, err
		}
		c.setIfCurrent(gen, tier, key, loaded)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return clone(typed), nil
}
