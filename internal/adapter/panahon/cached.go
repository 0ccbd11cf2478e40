package panahon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/couchcryptid/fencewatch/internal/cache"
	"github.com/couchcryptid/fencewatch/internal/domain"
	"github.com/couchcryptid/fencewatch/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	regionCacheSize = 256
)

// CachedOptions tunes the availability policy around an advisory source.
type CachedOptions struct {
	Timeout  time.Duration // per attempt
	Retries  int           // extra attempts after the first failure
	CacheTTL time.Duration
	Clock    clockwork.Clock
}

// Budget is the longest one uncached lookup can take when every attempt
// times out. Zero means attempts are unbounded.
func (o CachedOptions) Budget() time.Duration {
	if o.Timeout <= 0 {
		return 0
	}
	total := time.Duration(o.Retries+1) * o.Timeout
	backoff := initialBackoff
	for range o.Retries {
		total += backoff
		backoff = sharedretry.NextBackoff(backoff, maxBackoff)
	}
	return total
}

// CachedSource wraps an AdvisorySource with a timeout, retries, a per-region
// TTL cache and single-flight de-duplication of concurrent lookups.
type CachedSource struct {
	inner   domain.AdvisorySource
	opts    CachedOptions
	cache   *cache.LRU[string, domain.AdvisoryBundle]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedSource creates the advisory availability decorator.
func NewCachedSource(inner domain.AdvisorySource, opts CachedOptions, logger *slog.Logger, metrics *observability.Metrics) *CachedSource {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &CachedSource{
		inner:   inner,
		opts:    opts,
		cache:   cache.New[string, domain.AdvisoryBundle](regionCacheSize, cache.WithTTL(opts.CacheTTL), cache.WithClock(opts.Clock)),
		logger:  logger,
		metrics: metrics,
	}
}

// AdvisoriesFor returns the cached bundle for region or fetches it. Callers
// asking for the same region concurrently share one fetch; a caller whose
// context ends stops waiting without cancelling the shared fetch.
func (c *CachedSource) AdvisoriesFor(ctx context.Context, region string) (domain.AdvisoryBundle, error) {
	key := regionKey(region)
	if key == "" {
		return nil, domain.NewSourceError(sourceAdvisory, fmt.Errorf("empty region query %q", region))
	}

	if bundle, ok := c.cache.Get(key); ok {
		c.metrics.SourceCache.WithLabelValues(sourceAdvisory, "hit").Inc()
		return bundle, nil
	}
	c.metrics.SourceCache.WithLabelValues(sourceAdvisory, "miss").Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), region, key)
	})

	select {
	case <-ctx.Done():
		return nil, domain.NewSourceError(sourceAdvisory, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(domain.AdvisoryBundle), nil
	}
}

func (c *CachedSource) fetch(ctx context.Context, region, key string) (domain.AdvisoryBundle, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			if !sharedretry.SleepWithContext(ctx, backoff) {
				break
			}
			backoff = sharedretry.NextBackoff(backoff, maxBackoff)
		}

		bundle, err := c.attempt(ctx, region)
		if err == nil {
			c.cache.Put(key, bundle)
			return bundle, nil
		}
		lastErr = err
		c.logger.Warn("advisory lookup failed",
			"region", region,
			"attempt", attempt+1,
			"error", err,
		)
	}

	if domain.IsSourceError(lastErr) {
		return nil, lastErr
	}
	return nil, domain.NewSourceError(sourceAdvisory, lastErr)
}

func (c *CachedSource) attempt(ctx context.Context, region string) (domain.AdvisoryBundle, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	return c.inner.AdvisoriesFor(ctx, region)
}

// regionKey folds case, accents and inner whitespace so "Bicol  Region" and
// "bicol region" share a cache entry. Transformers are stateful, so one is
// built per call.
func regionKey(region string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, region)
	if err != nil {
		folded = region
	}
	return strings.Join(strings.Fields(cases.Fold().String(folded)), " ")
}
