package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/metrics"
)

// Cache provides thread-safe in-memory caching with TTL
type Cache struct {
	entries map[string]*CacheEntry
	mutex   sync.RWMutex
	now     func() time.Time
}

// CacheEntry represents a cached item with metadata
type CacheEntry struct {
	Key       string        `json:"key"`
	Data      []byte        `json:"data"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
	Source    string        `json:"source"`
}

// NewCache creates a new in-memory cache
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*CacheEntry),
		now:     time.Now,
	}
}

// Set stores data in cache for ttl
func (c *Cache) Set(key string, data interface{}, ttl time.Duration, source string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for cache: %w", err)
	}

	now := c.now()
	entry := &CacheEntry{
		Key:       key,
		Data:      jsonData,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		TTL:       ttl,
		Source:    source,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry
	return nil
}

// Get retrieves data from cache if not stale. Every lookup is counted as a
// hit or a miss.
func (c *Cache) Get(key string, result interface{}) (bool, error) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists || c.now().After(entry.ExpiresAt) {
		metrics.RecordCacheLookup(false)
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, result); err != nil {
		metrics.RecordCacheLookup(false)
		return false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	metrics.RecordCacheLookup(true)
	return true, nil
}

// Delete removes an entry from cache
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	stats := CacheStats{
		TotalEntries: len(c.entries),
	}

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			stats.StaleEntries++
		} else {
			stats.FreshEntries++
		}

		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt
		}
	}

	return stats
}

// CleanupStale removes all stale entries from cache
func (c *Cache) CleanupStale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	var removed int

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

// CacheStats provides cache usage statistics
type CacheStats struct {
	TotalEntries int       `json:"total_entries"`
	FreshEntries int       `json:"fresh_entries"`
	StaleEntries int       `json:"stale_entries"`
	OldestEntry  time.Time `json:"oldest_entry"`
	NewestEntry  time.Time `json:"newest_entry"`
}

// NearbyKey builds the cache key for a nearby lookup. Positions are rounded
// to 1e-3 degrees (about 110m) so small movements share an entry.
func NearbyKey(center geo.Point, radiusMeters float64) string {
	return fmt.Sprintf("nearby:%.3f,%.3f:%d",
		roundTo(center.Latitude, 3), roundTo(center.Longitude, 3), int(math.Round(radiusMeters)))
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	r := math.Round(v*scale) / scale
	if r == 0 {
		// avoid "-0.000" keys
		return 0
	}
	return r
}
