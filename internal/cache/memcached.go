package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

const (
	keyPrefix     = "stats:"
	generationKey = keyPrefix + "gen"
)

// MemcachedCache implements Cache using memcached. Entries live under a
// generation number; Invalidate bumps the generation so every replica
// sharing the memcached pool stops seeing old entries at once.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Generation returns the current generation, 0 when none was ever set.
func (c *MemcachedCache) Generation(ctx context.Context) (uint64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	item, err := c.client.Get(generationKey)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return 0, nil
		}
		return 0, err
	}
	gen, err := strconv.ParseUint(strings.TrimSpace(string(item.Value)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cache generation %q: %w", item.Value, err)
	}
	return gen, nil
}

func entryKey(gen uint64, k string) string {
	return keyPrefix + strconv.FormatUint(gen, 10) + ":" + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, gen uint64, key string) ([]models.WeatherStatsResult, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := c.client.Get(entryKey(gen, key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var data []models.WeatherStatsResult
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set implements Cache.Set. The entry is written under gen; once another
// replica has invalidated, that key is never read again and expires by TTL.
func (c *MemcachedCache) Set(ctx context.Context, gen uint64, key string, value []models.WeatherStatsResult, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        entryKey(gen, key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// Invalidate bumps the generation counter, creating it on first use.
func (c *MemcachedCache) Invalidate(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := c.client.Increment(generationKey, 1)
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	err = c.client.Add(&memcache.Item{Key: generationKey, Value: []byte("1")})
	if errors.Is(err, memcache.ErrNotStored) {
		// Another replica created it between our Increment and Add.
		_, err = c.client.Increment(generationKey, 1)
	}
	return err
}

// expirationSeconds converts ttl to memcached's relative expiration,
// falling back to one hour when ttl is out of range.
func expirationSeconds(ttl time.Duration) int32 {
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return expSec
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
