package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/manifest"
	"github.com/freewebtopdf/upnet/internal/update"
)

// DefaultTimeout is the default HTTP timeout for requests
const DefaultTimeout = 30 * time.Second

// DefaultMaxManifestSize limits manifest bodies to prevent OOM
const DefaultMaxManifestSize = 10 * 1024 * 1024

// DefaultUserAgent is sent with every request
const DefaultUserAgent = "upnet"

// HTTPConfig holds configuration for the HTTP transport
type HTTPConfig struct {
	// BaseURL is the prefix content keys are resolved against
	BaseURL string
	// ManifestName is resolved against BaseURL unless it is an absolute URL
	ManifestName string
	// Timeout bounds the wait for response headers and the whole manifest
	// fetch. Content streams are bounded by the caller's context only.
	Timeout time.Duration
	// MaxManifestSize caps the manifest body in bytes
	MaxManifestSize int64
	UserAgent       string
}

// HTTP fetches content and the manifest from a web server
type HTTP struct {
	config     HTTPConfig
	httpClient *http.Client
}

// NewHTTP creates an HTTP transport with the given configuration
func NewHTTP(config HTTPConfig) *HTTP {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxManifestSize == 0 {
		config.MaxManifestSize = DefaultMaxManifestSize
	}
	if config.ManifestName == "" {
		config.ManifestName = manifest.DefaultFileName
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = config.Timeout

	return &HTTP{
		config:     config,
		httpClient: &http.Client{Transport: transport},
	}
}

// ManifestURL returns the resolved manifest URL
func (s *HTTP) ManifestURL() (string, error) {
	if u, err := url.Parse(s.config.ManifestName); err == nil && u.IsAbs() {
		return s.config.ManifestName, nil
	}
	return s.contentURL(s.config.ManifestName)
}

func (s *HTTP) contentURL(key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", domain.NewAppError(domain.ErrInvalidInput, "Content key escapes the source root", 400, map[string]any{"key": key})
	}
	joined, err := url.JoinPath(s.config.BaseURL, key)
	if err != nil {
		return "", domain.NewAppErrorWithCause(domain.ErrNotConfigured, "Invalid base URL", 500, err, map[string]any{"base_url": s.config.BaseURL})
	}
	return joined, nil
}

// GetContent streams the content for key. The caller closes the body.
func (s *HTTP) GetContent(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := domain.CheckContext(ctx, "get content"); err != nil {
		return nil, err
	}

	contentURL, err := s.contentURL(key)
	if err != nil {
		return nil, err
	}

	resp, err := s.get(ctx, ctx, contentURL)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, domain.NewAppError(domain.ErrNotFound, "Content not found", 404, map[string]any{"key": key, "url": contentURL})
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, domain.NewIOFailure(fmt.Sprintf("Failed to fetch content: HTTP %d", resp.StatusCode), nil, map[string]any{
			"key":    key,
			"url":    contentURL,
			"status": resp.StatusCode,
		})
	}

	return resp.Body, nil
}

// GetManifest downloads and decodes the manifest. The result is unbound.
func (s *HTTP) GetManifest(ctx context.Context) (*update.Update, error) {
	if err := domain.CheckContext(ctx, "get manifest"); err != nil {
		return nil, err
	}

	manifestURL, err := s.ManifestURL()
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.get(ctx, fetchCtx, manifestURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewAppError(domain.ErrNotFound, "Manifest not found", 404, map[string]any{"url": manifestURL})
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewIOFailure(fmt.Sprintf("Failed to fetch manifest: HTTP %d", resp.StatusCode), nil, map[string]any{
			"url":    manifestURL,
			"status": resp.StatusCode,
		})
	}

	// Read one byte past the limit to detect oversized bodies
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxManifestSize+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewCancelled(ctx, "get manifest")
		}
		return nil, domain.NewIOFailure("Failed to read manifest response", err, map[string]any{"url": manifestURL})
	}
	if int64(len(body)) > s.config.MaxManifestSize {
		return nil, domain.NewAppError(domain.ErrManifestInvalid, "Manifest exceeds the maximum size", 422, map[string]any{
			"url":   manifestURL,
			"limit": s.config.MaxManifestSize,
		})
	}

	return manifest.Decode(body, responseFormat(resp, manifestURL))
}

// get sends a request bound to reqCtx. A failure counts as cancellation only
// when the caller's ctx is done.
func (s *HTTP) get(ctx, reqCtx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Failed to create request", 400, err, map[string]any{"url": target})
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewCancelled(ctx, "http get")
		}
		return nil, domain.NewIOFailure("Request failed", err, map[string]any{"url": target})
	}
	return resp, nil
}

// responseFormat prefers the Content-Type header and falls back to the URL extension
func responseFormat(resp *http.Response, target string) manifest.Format {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "yaml"):
		return manifest.FormatYAML
	case strings.Contains(contentType, "json"):
		return manifest.FormatJSON
	}
	if u, err := url.Parse(target); err == nil {
		return manifest.FormatFromPath(path.Base(u.Path))
	}
	return manifest.FormatJSON
}
