package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

// Cache stores aggregated temperature results per date-range key.
//
// Entries belong to a generation. Invalidate (called after any record
// mutation) moves the cache to a new generation. A caller reads Generation
// before loading records from the store and passes it to Get and Set, so a
// result computed from records read before a mutation is never visible
// after that mutation's Invalidate.
type Cache interface {
	Generation(ctx context.Context) (uint64, error)
	Get(ctx context.Context, gen uint64, key string) ([]models.WeatherStatsResult, bool, error)
	Set(ctx context.Context, gen uint64, key string, value []models.WeatherStatsResult, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	gen  uint64
	data map[string]cacheEntry
	now  func() time.Time
}

// cacheEntry stores cached results with expiration timestamp.
type cacheEntry struct {
	value     []models.WeatherStatsResult
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Generation returns the current generation.
func (c *InMemoryCache) Generation(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

// Get retrieves cached results for the key if present and not expired.
// Returns (data, true, nil) on cache hit, (nil, false, nil) on miss, expiration
// or a stale generation.
func (c *InMemoryCache) Get(ctx context.Context, gen uint64, key string) ([]models.WeatherStatsResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return nil, false, nil
	}
	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return clone(entry.value), true, nil
}

// Set stores results with the specified TTL. The slice is copied. Nothing is
// stored when gen is no longer current.
func (c *InMemoryCache) Set(ctx context.Context, gen uint64, key string, value []models.WeatherStatsResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.data[key] = cacheEntry{
		value:     clone(value),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Invalidate drops all entries and starts a new generation.
func (c *InMemoryCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.data = make(map[string]cacheEntry)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func clone(in []models.WeatherStatsResult) []models.WeatherStatsResult {
	out := make([]models.WeatherStatsResult, len(in))
	copy(out, in)
	return out
}

// NoopCache never stores anything. Used when caching is disabled.
type NoopCache struct{}

func (NoopCache) Generation(context.Context) (uint64, error) { return 0, nil }

func (NoopCache) Get(context.Context, uint64, string) ([]models.WeatherStatsResult, bool, error) {
	return nil, false, nil
}

func (NoopCache) Set(context.Context, uint64, string, []models.WeatherStatsResult, time.Duration) error {
	return nil
}

func (NoopCache) Invalidate(context.Context) error { return nil }
