package authority

import (
	"sync"
	"time"
)

type cacheEntry struct {
	changes   ChangeSet
	expiresAt time.Time
}

// pullCache is a read-through cache for ListChanges keyed by watermark. Any applied batch
// bumps the generation, which drops all entries and refuses results computed before it.
type pullCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	clock      func() time.Time
	entries    map[string]cacheEntry
	generation uint64
}

func newPullCache(ttl time.Duration, clock func() time.Time) *pullCache {
	return &pullCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

func (c *pullCache) enabled() bool {
	return c != nil && c.ttl > 0
}

func (c *pullCache) get(key string) (ChangeSet, bool) {
	if !c.enabled() {
		return ChangeSet{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return ChangeSet{}, false
	}
	if !c.clock().Before(entry.expiresAt) {
		delete(c.entries, key)
		return ChangeSet{}, false
	}
	return entry.changes.clone(), true
}

func (c *pullCache) currentGeneration() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *pullCache) put(key string, changes ChangeSet, generation uint64) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.entries[key] = cacheEntry{
		changes:   changes.clone(),
		expiresAt: c.clock().Add(c.ttl),
	}
}

func (c *pullCache) invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	clear(c.entries)
}
