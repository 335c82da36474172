package source

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/update"
)

// Options tunes the DataSource built by Open
type Options struct {
	Fs       afero.Fs
	HTTP     HTTPConfig
	CacheDir string
	CacheTTL time.Duration
}

// IsRemote reports whether location is an http(s) URL
func IsRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Open builds a DataSource for a manifest location. URLs select the HTTP
// transport with content resolved next to the manifest; anything else is a
// file path whose directory is the content root.
func Open(location string, opts Options) (update.DataSource, error) {
	if location == "" {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Manifest location is required", 400, nil)
	}

	var ds update.DataSource
	if IsRemote(location) {
		u, err := url.Parse(location)
		if err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Invalid manifest URL", 400, err, map[string]any{"location": location})
		}
		config := opts.HTTP
		config.ManifestName = location
		if config.BaseURL == "" {
			base := *u
			base.Path = path.Dir(u.Path)
			base.RawPath = ""
			base.RawQuery = ""
			base.Fragment = ""
			config.BaseURL = base.String()
		}
		ds = NewHTTP(config)
	} else {
		abs, err := filepath.Abs(location)
		if err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Invalid manifest path", 400, err, map[string]any{"location": location})
		}
		ds = NewFileSystem(opts.Fs, filepath.Dir(abs), filepath.Base(abs))
	}

	if opts.CacheDir != "" {
		ttl := opts.CacheTTL
		if ttl == 0 {
			ttl = time.Hour
		}
		ds = NewCached(ds, NewManifestCache(opts.Fs, opts.CacheDir, ttl))
	}
	return ds, nil
}
