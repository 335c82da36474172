package source

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/fsutil"
	"github.com/freewebtopdf/upnet/internal/manifest"
	"github.com/freewebtopdf/upnet/internal/update"
)

// CacheFileName is the name of the cached manifest file
const CacheFileName = "manifest.cache.json"

// CacheMetaFileName is the name of the cache metadata file
const CacheMetaFileName = "manifest.cache.meta.json"

// ManifestCache keeps the last fetched manifest on disk to support offline
// operation and reduce requests
type ManifestCache struct {
	fs       afero.Fs
	cacheDir string
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

// CacheMeta holds metadata about the cached manifest
type CacheMeta struct {
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Latest    string    `json:"latest,omitempty"`
}

// NewManifestCache creates a cache in cacheDir. A nil fsys uses the host filesystem.
func NewManifestCache(fsys afero.Fs, cacheDir string, ttl time.Duration) *ManifestCache {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &ManifestCache{
		fs:       fsys,
		cacheDir: cacheDir,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get retrieves the cached manifest if it exists and is not expired
func (c *ManifestCache) Get(ctx context.Context) (*update.Update, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta, err := c.loadMeta()
	if err != nil {
		return nil, fmt.Errorf("cache miss: %w", err)
	}

	if c.now().After(meta.ExpiresAt) {
		return nil, fmt.Errorf("cache expired")
	}

	return c.loadManifest()
}

// GetExpired retrieves the cached manifest even if expired.
// Used as a fallback when the remote is unavailable.
func (c *ManifestCache) GetExpired(ctx context.Context) (*update.Update, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.loadManifest()
}

// Set stores the manifest in the cache
func (c *ManifestCache) Set(ctx context.Context, u *update.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := manifest.Encode(u, manifest.FormatJSON)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(c.fs, filepath.Join(c.cacheDir, CacheFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := c.now()
	meta := CacheMeta{
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	if latest, err := u.LatestVersion(); err == nil {
		meta.Latest = latest.String()
	}

	return c.saveMeta(&meta)
}

// Invalidate removes the cached manifest
func (c *ManifestCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Remove both files, ignoring errors if they don't exist
	_ = c.fs.Remove(filepath.Join(c.cacheDir, CacheFileName))
	_ = c.fs.Remove(filepath.Join(c.cacheDir, CacheMetaFileName))

	return nil
}

// IsValid checks if the cache exists and is not expired
func (c *ManifestCache) IsValid(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta, err := c.loadMeta()
	if err != nil {
		return false
	}

	return c.now().Before(meta.ExpiresAt)
}

// GetMeta returns the cache metadata
func (c *ManifestCache) GetMeta(ctx context.Context) (*CacheMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.loadMeta()
}

// TTL returns the cache TTL
func (c *ManifestCache) TTL() time.Duration {
	return c.ttl
}

func (c *ManifestCache) loadManifest() (*update.Update, error) {
	return manifest.DecodeFile(c.fs, filepath.Join(c.cacheDir, CacheFileName))
}

func (c *ManifestCache) loadMeta() (*CacheMeta, error) {
	data, err := afero.ReadFile(c.fs, filepath.Join(c.cacheDir, CacheMetaFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read meta file: %w", err)
	}

	var meta CacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse meta file: %w", err)
	}

	return &meta, nil
}

func (c *ManifestCache) saveMeta(meta *CacheMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	if err := fsutil.WriteFileAtomic(c.fs, filepath.Join(c.cacheDir, CacheMetaFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write meta file: %w", err)
	}
	return nil
}
