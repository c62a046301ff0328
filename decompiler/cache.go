package decompiler

import (
	"sync"

	"github.com/deepnoodle-ai/cildec/bytecode"
)

type cacheKey struct {
	body     *bytecode.MethodBody
	settings Settings
	maxDepth int
}

// Cache holds the results of successful decompilations keyed by method body
// and settings. Cached results are shared between callers and must be
// treated as read-only. A Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*Result
	hits    int
	misses  int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]*Result{}}
}

func (c *Cache) key(body *bytecode.MethodBody, o *options) cacheKey {
	return cacheKey{body: body, settings: *o.settings, maxDepth: o.maxDepth}
}

func (c *Cache) get(body *bytecode.MethodBody, o *options) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[c.key(body, o)]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return r, ok
}

func (c *Cache) put(body *bytecode.MethodBody, o *options, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(body, o)] = r
}

// Len returns the number of cached results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the number of lookups that hit and missed.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops all cached results.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[cacheKey]*Result{}
}
