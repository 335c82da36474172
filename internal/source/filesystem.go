// Package source provides DataSource transports: a local or mounted directory,
// an HTTP server, and a caching decorator that keeps the last good manifest on
// disk for offline operation.
package source

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/manifest"
	"github.com/freewebtopdf/upnet/internal/update"
)

// FileSystem serves content keys as files under a root directory
type FileSystem struct {
	fs       afero.Fs
	root     string
	manifest string
}

// NewFileSystem creates a filesystem DataSource. A relative manifestPath is
// resolved under root. A nil fsys uses the host filesystem.
func NewFileSystem(fsys afero.Fs, root, manifestPath string) *FileSystem {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if manifestPath == "" {
		manifestPath = manifest.DefaultFileName
	}
	return &FileSystem{fs: fsys, root: root, manifest: manifestPath}
}

// Root returns the content root directory
func (s *FileSystem) Root() string {
	return s.root
}

// ManifestPath returns the resolved manifest path
func (s *FileSystem) ManifestPath() string {
	if filepath.IsAbs(s.manifest) {
		return s.manifest
	}
	return filepath.Join(s.root, s.manifest)
}

// GetContent opens the file named by key under the root
func (s *FileSystem) GetContent(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := domain.CheckContext(ctx, "get content"); err != nil {
		return nil, err
	}

	local := filepath.FromSlash(key)
	if !filepath.IsLocal(local) {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Content key escapes the source root", 400, map[string]any{"key": key})
	}

	path := filepath.Join(s.root, local)
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewAppErrorWithCause(domain.ErrNotFound, "Content not found", 404, err, map[string]any{"key": key})
		}
		return nil, domain.NewIOFailure("Failed to stat content", err, map[string]any{"key": key})
	}
	if info.IsDir() {
		return nil, domain.NewAppError(domain.ErrNotFound, "Content key names a directory", 404, map[string]any{"key": key})
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return nil, domain.NewIOFailure("Failed to open content", err, map[string]any{"key": key})
	}
	return f, nil
}

// GetManifest decodes the manifest file. The result is unbound.
func (s *FileSystem) GetManifest(ctx context.Context) (*update.Update, error) {
	if err := domain.CheckContext(ctx, "get manifest"); err != nil {
		return nil, err
	}
	return manifest.DecodeFile(s.fs, s.ManifestPath())
}
