// Package tokens keeps the API token table in memory and refreshes it in the
// background.
package tokens

import "sync"

// Entry is what a token grants.
type Entry struct {
	// UserID scopes stored renders; empty for service tokens.
	UserID    string
	RateLimit int
}

// Cache is a concurrency-safe in-memory token table. It is replaced
// wholesale on every reload.
type Cache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

// NewCache returns an empty cache that is not Ready until the first Replace.
func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps in a copy of m.
func (c *Cache) Replace(m map[string]Entry) {
	cp := make(map[string]Entry, len(m))
	for k, v := range m {
		cp[k] = v
	}
	c.mu.Lock()
	c.m = cp
	c.mu.Unlock()
}

// Ready reports whether the cache was loaded at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m != nil
}

// Lookup returns the entry for token.
func (c *Cache) Lookup(token string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[token]
	return e, ok
}

// RateLimit returns the token's limit per interval; 0 disables limiting.
func (c *Cache) RateLimit(token string) int {
	e, _ := c.Lookup(token)
	return e.RateLimit
}

// Len is the number of known tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
