package update

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"math"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// Kind identifies a Change variant. The values double as the manifest "kind" tag.
type Kind string

const (
	KindAddOrReplace Kind = "add"
	KindDelete       Kind = "delete"
	KindMove         Kind = "move"
)

// Default commit priorities. Higher priorities commit first.
const (
	PriorityAddOrReplace = 0
	PriorityMove         = math.MaxInt / 2
	PriorityDelete       = math.MaxInt
)

// StagingSuffix is appended to a target path to form its staging sibling
const StagingSuffix = ".update"

// copyBufferSize bounds the memory used while streaming and hashing content
const copyBufferSize = 32 * 1024

// Change is one file-level mutation. The set of implementations is closed:
// AddOrReplace, Delete and Move.
type Change interface {
	// Kind returns the variant tag
	Kind() Kind
	// Path returns the relative path the change operates on (the source for a move)
	Path() string
	// Priority orders commits within a patch, highest first
	Priority() int
	// Validate checks the construction invariants
	Validate() error
	// Stage prepares the change without touching its final target path
	Stage(ctx context.Context, src DataSource, fsys afero.Fs) error
	// Commit finalizes the change when succeeded is true, or rolls it back otherwise
	Commit(ctx context.Context, src DataSource, fsys afero.Fs, succeeded bool) error

	sealed()
}

// Equal reports structural equality of two changes (variant and all fields)
func Equal(a, b Change) bool {
	return a == b
}

// localPath converts a slash-separated manifest path to the host form
func localPath(relativePath string) string {
	return filepath.FromSlash(relativePath)
}

// validateRelativePath rejects empty, absolute and root-escaping paths
func validateRelativePath(field, p string) error {
	if strings.TrimSpace(p) == "" {
		return domain.NewAppError(domain.ErrInvalidInput, "Relative path is required", 400, map[string]any{"field": field})
	}
	if path.IsAbs(p) || filepath.IsAbs(p) || !filepath.IsLocal(localPath(p)) {
		return domain.NewAppError(domain.ErrInvalidInput, "Path must be relative to the install root", 400, map[string]any{
			"field": field,
			"path":  p,
		})
	}
	return nil
}

// DecodeDigest decodes a base64 SHA-256 digest and checks its length
func DecodeDigest(digest string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(digest)
	if err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Digest is not valid base64", 400, err, map[string]any{"sha256": digest})
	}
	if len(raw) != sha256.Size {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Digest is not a SHA-256 value", 400, map[string]any{
			"sha256": digest,
			"length": len(raw),
		})
	}
	return raw, nil
}

// EncodeDigest renders a raw SHA-256 digest in manifest form
func EncodeDigest(sum []byte) string {
	return base64.StdEncoding.EncodeToString(sum)
}

// DigestOf computes the manifest-form digest of r
func DigestOf(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.CopyBuffer(h, contextReader{ctx: ctx, r: r}, make([]byte, copyBufferSize)); err != nil {
		if ctx.Err() != nil {
			return "", domain.NewCancelled(ctx, "digest")
		}
		return "", domain.NewIOFailure("Failed to read content for digest", err, nil)
	}
	return EncodeDigest(h.Sum(nil)), nil
}

// contextReader fails reads once ctx is done so long copies stop promptly
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// writerOnly hides io.ReaderFrom so io.CopyBuffer uses the supplied buffer
type writerOnly struct {
	io.Writer
}
