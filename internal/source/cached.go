package source

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/update"
)

// Cached decorates a DataSource with a manifest cache. Content requests pass
// straight through.
type Cached struct {
	inner update.DataSource
	cache *ManifestCache
}

// NewCached wraps inner with cache
func NewCached(inner update.DataSource, cache *ManifestCache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

// Cache returns the underlying manifest cache
func (c *Cached) Cache() *ManifestCache {
	return c.cache
}

// GetContent delegates to the wrapped source
func (c *Cached) GetContent(ctx context.Context, key string) (io.ReadCloser, error) {
	return c.inner.GetContent(ctx, key)
}

// GetManifest returns a fresh cached manifest, otherwise fetches from the
// wrapped source. A failed fetch falls back to an expired cache entry.
func (c *Cached) GetManifest(ctx context.Context) (*update.Update, error) {
	if u, err := c.cache.Get(ctx); err == nil && u != nil {
		log.Debug().Msg("Using cached manifest")
		return u, nil
	}

	u, err := c.inner.GetManifest(ctx)
	if err != nil {
		// Cancellation is never masked by stale data
		if domain.IsCancelled(err) {
			return nil, err
		}
		if cached, cacheErr := c.cache.GetExpired(ctx); cacheErr == nil && cached != nil {
			log.Warn().Err(err).Msg("Manifest fetch failed, using expired cache")
			return cached, nil
		}
		return nil, err
	}

	if err := c.cache.Set(ctx, u); err != nil {
		log.Warn().Err(err).Msg("Failed to cache manifest")
	}

	return u, nil
}
