package source

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/manifest"
	"github.com/freewebtopdf/upnet/internal/update"
)

type stubSource struct {
	manifest *update.Update
	err      error
	calls    int
}

func (s *stubSource) GetContent(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, domain.NewAppError(domain.ErrNotFound, "no content", 404, nil)
}

func (s *stubSource) GetManifest(ctx context.Context) (*update.Update, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	// a fresh, unbound copy per call
	data, err := manifest.Encode(s.manifest, manifest.FormatJSON)
	if err != nil {
		return nil, err
	}
	return manifest.Decode(data, manifest.FormatJSON)
}

func sampleManifest(t *testing.T) *update.Update {
	t.Helper()
	u, err := manifest.Decode([]byte(manifestJSON()), manifest.FormatJSON)
	require.NoError(t, err)
	return u
}

func TestManifestCache(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		cache := NewManifestCache(afero.NewMemMapFs(), "/cache", time.Hour)
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, sampleManifest(t)))
		assert.True(t, cache.IsValid(ctx))

		u, err := cache.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, u.Count())

		meta, err := cache.GetMeta(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0.0", meta.Latest)
	})

	t.Run("cache miss when empty", func(t *testing.T) {
		cache := NewManifestCache(afero.NewMemMapFs(), "/cache", time.Hour)
		_, err := cache.Get(context.Background())
		assert.Error(t, err)
		assert.False(t, cache.IsValid(context.Background()))
	})

	t.Run("cache expired", func(t *testing.T) {
		cache := NewManifestCache(afero.NewMemMapFs(), "/cache", time.Minute)
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		cache.now = func() time.Time { return now }
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, sampleManifest(t)))
		now = now.Add(2 * time.Minute)

		_, err := cache.Get(ctx)
		assert.Error(t, err)

		u, err := cache.GetExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, u.Count())
	})

	t.Run("invalidate", func(t *testing.T) {
		cache := NewManifestCache(afero.NewMemMapFs(), "/cache", time.Hour)
		ctx := context.Background()
		require.NoError(t, cache.Set(ctx, sampleManifest(t)))
		require.NoError(t, cache.Invalidate(ctx))

		_, err := cache.GetExpired(ctx)
		assert.Error(t, err)
	})
}

func TestCached_GetManifest(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh cache avoids the remote", func(t *testing.T) {
		inner := &stubSource{manifest: sampleManifest(t)}
		cached := NewCached(inner, NewManifestCache(afero.NewMemMapFs(), "/cache", time.Hour))

		_, err := cached.GetManifest(ctx)
		require.NoError(t, err)
		_, err = cached.GetManifest(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("falls back to expired cache", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		cache := NewManifestCache(fsys, "/cache", time.Minute)
		now := time.Now()
		cache.now = func() time.Time { return now }

		inner := &stubSource{manifest: sampleManifest(t)}
		cached := NewCached(inner, cache)
		_, err := cached.GetManifest(ctx)
		require.NoError(t, err)

		now = now.Add(time.Hour)
		inner.err = domain.NewIOFailure("Request failed", errors.New("connection refused"), nil)

		u, err := cached.GetManifest(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, u.Count())
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("cancellation is not masked", func(t *testing.T) {
		cache := NewManifestCache(afero.NewMemMapFs(), "/cache", time.Minute)
		now := time.Now()
		cache.now = func() time.Time { return now }
		inner := &stubSource{manifest: sampleManifest(t)}
		cached := NewCached(inner, cache)
		_, err := cached.GetManifest(ctx)
		require.NoError(t, err)

		now = now.Add(time.Hour)
		inner.err = domain.NewAppError(domain.ErrCancelled, "Operation cancelled", 499, nil)
		_, err = cached.GetManifest(ctx)
		assert.True(t, domain.IsCancelled(err))
	})

	t.Run("no cache and remote failure", func(t *testing.T) {
		inner := &stubSource{err: domain.NewAppError(domain.ErrNotFound, "gone", 404, nil)}
		cached := NewCached(inner, NewManifestCache(afero.NewMemMapFs(), "/cache", time.Hour))
		_, err := cached.GetManifest(ctx)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("load binds to the decorator", func(t *testing.T) {
		inner := &stubSource{manifest: sampleManifest(t)}
		cached := NewCached(inner, NewManifestCache(afero.NewMemMapFs(), "/cache", time.Hour))
		u, err := update.LoadFrom(ctx, cached)
		require.NoError(t, err)
		bound, ok := u.Source()
		require.True(t, ok)
		assert.Same(t, cached, bound)
	})
}
