// Package keycache memoizes key mapper lookups. Resolving a resource id
// often crosses a process or network boundary; decrypting many objects of
// one session would otherwise repeat the same lookup per object.
package keycache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/kenneth/e2ee-encryption-engine/internal/resourceid"
)

// DefaultTTL bounds how long a resolved key is served without consulting
// the underlying mapper again.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries bounds the number of keys held in memory.
const DefaultMaxEntries = 1024

type entry struct {
	key       []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats counts cache activity.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache wraps a key mapper with an in-memory TTL cache. Negative lookups
// are not cached: an id unknown now may be registered a moment later.
type Cache struct {
	mu         sync.RWMutex
	mapper     resourceid.KeyMapper
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	stats      Stats
}

// New builds a cache over mapper. Non-positive ttl or maxEntries select
// the defaults.
func New(mapper resourceid.KeyMapper, ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		mapper:     mapper,
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Mapper returns the caching lookup as a plain KeyMapper.
func (c *Cache) Mapper() resourceid.KeyMapper {
	return c.lookup
}

func (c *Cache) lookup(ctx context.Context, id []byte) ([]byte, error) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[string(id)]
	c.mu.RUnlock()
	if ok && !e.expired(now) {
		c.mu.Lock()
		c.stats.Hits++
		c.mu.Unlock()
		return bytes.Clone(e.key), nil
	}

	key, err := c.mapper(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Misses++
	if key == nil {
		delete(c.entries, string(id))
		return nil, nil
	}
	c.evictExpiredLocked(now)
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[string(id)] = &entry{
		key:       bytes.Clone(key),
		expiresAt: now.Add(c.ttl),
	}
	return key, nil
}

// Clear drops every cached key. Call it when key material is rotated or
// revoked out of band.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.Entries = len(c.entries)
	return stats
}

func (c *Cache) evictExpiredLocked(now time.Time) {
	for id, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, id)
			c.stats.Evictions++
		}
	}
}

// evictOneLocked makes room by dropping the entry closest to expiry.
func (c *Cache) evictOneLocked() {
	var (
		victim string
		oldest time.Time
	)
	for id, e := range c.entries {
		if victim == "" || e.expiresAt.Before(oldest) {
			victim = id
			oldest = e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}
