package cache

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/grabd/grabd/internal/app"
	"github.com/grabd/grabd/internal/domain"
)

// ResolveCache implements app.Resolver and memoizes Resolve results so
// re-submitting the same URL does not hit the source again while the entry
// is fresh. Open always goes to the source; streams cannot be cached.
type ResolveCache struct {
	next app.Resolver
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	title    string
	variants []domain.VariantDescriptor
	storedAt time.Time
}

func NewResolveCache(next app.Resolver, ttl time.Duration) *ResolveCache {
	return &ResolveCache{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *ResolveCache) Resolve(ctx context.Context, url string) (string, []domain.VariantDescriptor, error) {
	c.mu.Lock()
	if e, ok := c.entries[url]; ok && time.Since(e.storedAt) < c.ttl {
		title := e.title
		variants := append([]domain.VariantDescriptor(nil), e.variants...)
		c.mu.Unlock()
		return title, variants, nil
	}
	c.mu.Unlock()

	title, variants, err := c.next.Resolve(ctx, url)
	if err != nil {
		// Failures are not cached; the next submit retries the source.
		return "", nil, err
	}

	c.mu.Lock()
	c.entries[url] = cacheEntry{
		title:    title,
		variants: append([]domain.VariantDescriptor(nil), variants...),
		storedAt: time.Now(),
	}
	c.mu.Unlock()

	return title, variants, nil
}

func (c *ResolveCache) Open(ctx context.Context, url string, variant domain.VariantDescriptor) (io.ReadCloser, int64, error) {
	return c.next.Open(ctx, url, variant)
}

// Invalidate drops the cached entry for a URL, if any.
func (c *ResolveCache) Invalidate(url string) {
	c.mu.Lock()
	delete(c.entries, url)
	c.mu.Unlock()
}
