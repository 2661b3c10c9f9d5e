package rebin

import "sync"

// Cache memoizes Maps by (source, target) grid pair. Grids are matched by
// identity first and then by equality within the cache's fuzz, so two
// independently computed copies of the same grid share one Map.
//
// A Cache is safe for concurrent use. Maps returned by Get are shared and
// must be treated as read-only.
type Cache struct {
	fuzz float64

	mu      sync.Mutex
	entries []cacheEntry
	hits    int
	misses  int
}

type cacheEntry struct {
	src, dst Edges
	m        *Map
}

// NewCache creates an empty cache comparing grids within fuzz. A zero fuzz
// selects Fuzzy.
func NewCache(fuzz float64) *Cache {
	if fuzz == 0 {
		fuzz = Fuzzy
	}
	return &Cache{fuzz: fuzz}
}

// Get returns the Map from src to dst, building and storing it on first use.
func (c *Cache) Get(src, dst Edges) (*Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if equalWithin(e.src, src, c.fuzz) && equalWithin(e.dst, dst, c.fuzz) {
			c.hits++
			return e.m, nil
		}
	}
	m, err := NewMap(src, dst, c.fuzz)
	if err != nil {
		return nil, err
	}
	c.misses++
	c.entries = append(c.entries, cacheEntry{src: src, dst: dst, m: m})
	return m, nil
}

// Len returns the number of cached maps.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the number of cache hits and misses so far.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops every cached map, e.g. after an energy grid is redefined.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}
