package cache

import "sync"

// OccupancyCache counts how many markers have been placed on each quantized
// coordinate key during the session. Counts only grow.
type OccupancyCache struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewOccupancyCache() *OccupancyCache {
	return &OccupancyCache{
		counts: make(map[string]int),
	}
}

// Claim increments the count for key and returns the new value, which is
// the 1-based occupant number of the caller.
func (c *OccupancyCache) Claim(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key]
}

// Count returns the current count for key.
func (c *OccupancyCache) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

// Len returns the number of distinct keys seen.
func (c *OccupancyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

func (c *OccupancyCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int)
}
