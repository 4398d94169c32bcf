// Package cache stores provider responses with category-specific TTLs.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/hazard-risk/internal/metrics"
)

// Store is a key-value backend with per-entry expiry. Implementations must
// never return an expired entry and must make each operation atomic.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Category groups cached data by how quickly it goes stale.
type Category string

const (
	CategoryGeocode  Category = "geocode"
	CategoryHazard   Category = "hazard"
	CategoryBoundary Category = "boundary"
)

// TTLs holds the expiry per category.
type TTLs struct {
	Geocode  time.Duration `mapstructure:"geocode"`
	Hazard   time.Duration `mapstructure:"hazard"`
	Boundary time.Duration `mapstructure:"boundary"`
}

// DefaultTTLs returns the default expiry per category: geocodes rarely
// change, boundaries change yearly, hazard scores are refreshed often.
func DefaultTTLs() TTLs {
	return TTLs{
		Geocode:  30 * 24 * time.Hour,
		Hazard:   6 * time.Hour,
		Boundary: 7 * 24 * time.Hour,
	}
}

// Stats reports cache effectiveness since construction.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache wraps a Store with category TTLs and hit/miss accounting.
type Cache struct {
	store   Store
	ttls    TTLs
	metrics *metrics.Metrics

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a Cache over store. Zero TTLs fall back to the defaults.
func New(store Store, ttls TTLs, m *metrics.Metrics) *Cache {
	def := DefaultTTLs()
	if ttls.Geocode <= 0 {
		ttls.Geocode = def.Geocode
	}
	if ttls.Hazard <= 0 {
		ttls.Hazard = def.Hazard
	}
	if ttls.Boundary <= 0 {
		ttls.Boundary = def.Boundary
	}
	return &Cache{store: store, ttls: ttls, metrics: metrics.OrDiscard(m)}
}

// TTL returns the expiry used for category.
func (c *Cache) TTL(category Category) time.Duration {
	switch category {
	case CategoryGeocode:
		return c.ttls.Geocode
	case CategoryBoundary:
		return c.ttls.Boundary
	default:
		return c.ttls.Hazard
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(ctx context.Context, category Category, key string) ([]byte, bool, error) {
	val, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.CacheLookups.WithLabelValues(string(category), "error").Inc()
		return nil, false, eris.Wrapf(err, "cache: get %s", key)
	case ok:
		c.hits.Add(1)
		c.metrics.CacheLookups.WithLabelValues(string(category), "hit").Inc()
	default:
		c.misses.Add(1)
		c.metrics.CacheLookups.WithLabelValues(string(category), "miss").Inc()
	}
	return val, ok, nil
}

// Set stores value under key with category's TTL.
func (c *Cache) Set(ctx context.Context, category Category, key string, value []byte) error {
	return eris.Wrapf(c.store.Set(ctx, key, value, c.TTL(category)), "cache: set %s", key)
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return eris.Wrapf(c.store.Delete(ctx, key), "cache: delete %s", key)
}

// Exists reports whether an unexpired entry exists for key. It does not
// count as a hit or miss.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := c.store.Exists(ctx, key)
	return ok, eris.Wrapf(err, "cache: exists %s", key)
}

// GetJSON decodes the cached value for key into v.
func (c *Cache) GetJSON(ctx context.Context, category Category, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, category, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eris.Wrapf(err, "cache: decode %s", key)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, category Category, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return c.Set(ctx, category, key, data)
}

// Stats returns hit/miss counters.
func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.store.Close()
}
