// Package cache is a process-local TTL cache for derived analysis
// results. Values are msgpack-encoded at Set time so readers always get
// an independent copy; concurrent writers race benignly, last writer
// wins.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache stores encoded values with a shared TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	hits    int64
	misses  int64
	log     zerolog.Logger
}

// New creates a cache. A non-positive TTL disables expiry.
func New(ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		log:     log.With().Str("module", "cache").Logger(),
	}
}

// Key joins parts into a namespaced cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Set encodes and stores a value, replacing any previous entry.
func (c *Cache) Set(key string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %q: %w", key, err)
	}

	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry{data: data, expiresAt: expires}
	c.mu.Unlock()
	return nil
}

// Get decodes a stored value into dst. Expired entries count as misses
// and are dropped lazily.
func (c *Cache) Get(key string, dst any) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Recheck under the write lock; a writer may have refreshed it.
		if cur, still := c.entries[key]; still && cur.expiresAt == e.expiresAt {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		ok = false
	}
	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return false
	}

	if err := msgpack.Unmarshal(e.data, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		c.Delete(key)
		return false
	}
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return true
}

// Delete removes one entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix removes every entry whose key starts with prefix.
// Used when fresh bars land for a symbol.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Purge drops all expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
