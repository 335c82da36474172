// Package update implements the patch/change data model of the updater and the
// two-phase stage-then-commit protocol that applies a chain of patches to an
// install directory.
package update

import (
	"context"
	"io"
)

// DataSource supplies update content and the update manifest itself.
// Implementations live in the source package.
type DataSource interface {
	// GetContent opens the byte stream for a content key. It fails with a
	// NOT_FOUND AppError if the key does not resolve.
	GetContent(ctx context.Context, key string) (io.ReadCloser, error)

	// GetManifest fetches and decodes the manifest. The returned Update is not
	// bound to any DataSource; see LoadFrom.
	GetManifest(ctx context.Context) (*Update, error)
}
