package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"naturelens/collection"
)

// CachedSummarizer memoizes summaries per species key. Fallback summaries
// are cached too, so a species whose lookup failed is not retried until
// the entry expires.
type CachedSummarizer struct {
	next  Summarizer
	cache *cache.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedSummarizer wraps next. A ttl of zero or less never expires.
func NewCachedSummarizer(next Summarizer, ttl time.Duration) *CachedSummarizer {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := ttl * 2
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &CachedSummarizer{
		next:  next,
		cache: cache.New(ttl, cleanup),
	}
}

func (c *CachedSummarizer) Summarize(ctx context.Context, species string) Summary {
	key := collection.SpeciesKey(species)
	if cached, found := c.cache.Get(key); found {
		c.hits.Add(1)
		return cached.(Summary)
	}
	c.misses.Add(1)

	summary := c.next.Summarize(ctx, species)
	c.cache.Set(key, summary, cache.DefaultExpiration)
	return summary
}

// Stats returns cache hit and miss counts.
func (c *CachedSummarizer) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
