package weatherapi

import (
	"context"
	"fmt"

	"github.com/couchcryptid/fencewatch/internal/cache"
	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/couchcryptid/fencewatch/internal/observability"
)

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *cache.LRU[string, domain.RegionInfo]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache.New[string, domain.RegionInfo](maxEntries),
		metrics: metrics,
	}
}

// Locate serves repeated lookups for the same ~10m cell from cache. Errors are never cached.
func (c *CachedGeocoder) Locate(ctx context.Context, lat, lon float64) (domain.RegionInfo, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if info, ok := c.cache.Get(key); ok {
		c.metrics.SourceCache.WithLabelValues(sourceGeocode, "hit").Inc()
		return info, nil
	}
	c.metrics.SourceCache.WithLabelValues(sourceGeocode, "miss").Inc()

	info, err := c.inner.Locate(ctx, lat, lon)
	if err != nil {
		return info, err
	}
	c.cache.Put(key, info)
	return info, nil
}
