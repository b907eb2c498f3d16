package cache

import (
	"sort"
	"sync"

	"github.com/sonder-map/sonder/pkg/core"
)

// MarkerCache maps entry IDs to the marker currently rendered for them
type MarkerCache struct {
	mu      sync.RWMutex
	markers map[string]core.MarkerRecord
}

// NewMarkerCache creates a new MarkerCache
func NewMarkerCache() *MarkerCache {
	return &MarkerCache{
		markers: make(map[string]core.MarkerRecord),
	}
}

// Get retrieves the marker for an entry
func (c *MarkerCache) Get(entryID string) (core.MarkerRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.markers[entryID]
	return rec, ok
}

// Has reports whether a marker exists for the entry
func (c *MarkerCache) Has(entryID string) bool {
	_, ok := c.Get(entryID)
	return ok
}

// Add stores rec unless a marker for the same entry already exists.
// It reports whether rec was stored.
func (c *MarkerCache) Add(rec core.MarkerRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.markers[rec.EntryID]; ok {
		return false
	}
	c.markers[rec.EntryID] = rec
	return true
}

// Delete removes and returns the marker for an entry
func (c *MarkerCache) Delete(entryID string) (core.MarkerRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.markers[entryID]
	if ok {
		delete(c.markers, entryID)
	}
	return rec, ok
}

// Len returns the number of live markers
func (c *MarkerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markers)
}

// All returns a copy of every marker, ordered by entry ID
func (c *MarkerCache) All() []core.MarkerRecord {
	c.mu.RLock()
	out := make([]core.MarkerRecord, 0, len(c.markers))
	for _, rec := range c.markers {
		out = append(out, rec)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// Reset clears all markers from the cache
func (c *MarkerCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]core.MarkerRecord)
}
