package update

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// AddOrReplace writes a file's full content from the DataSource to a relative path
type AddOrReplace struct {
	contentKey   string
	relativePath string
	sha256       string
	priority     int
	// staging overrides the default <path>.update sibling
	staging string
}

// NewAddOrReplace creates an AddOrReplace change with the default priority
func NewAddOrReplace(contentKey, relativePath, sha256 string) AddOrReplace {
	return AddOrReplace{
		contentKey:   contentKey,
		relativePath: relativePath,
		sha256:       sha256,
		priority:     PriorityAddOrReplace,
	}
}

// WithPriority returns a copy with an explicit commit priority
func (c AddOrReplace) WithPriority(priority int) AddOrReplace {
	c.priority = priority
	return c
}

func (c AddOrReplace) Kind() Kind          { return KindAddOrReplace }
func (c AddOrReplace) Path() string        { return c.relativePath }
func (c AddOrReplace) Priority() int       { return c.priority }
func (c AddOrReplace) ContentKey() string  { return c.contentKey }
func (c AddOrReplace) SHA256() string      { return c.sha256 }
func (AddOrReplace) sealed()               {}

// StagingPath returns the relative path content is staged to before commit
func (c AddOrReplace) StagingPath() string {
	if c.staging != "" {
		return c.staging
	}
	return c.relativePath + StagingSuffix
}

// withStagingPath returns a copy staged to stagingPath instead of the default sibling
func (c AddOrReplace) withStagingPath(stagingPath string) AddOrReplace {
	c.staging = stagingPath
	return c
}

func (c AddOrReplace) Validate() error {
	if c.contentKey == "" {
		return domain.NewAppError(domain.ErrInvalidInput, "Content key is required", 400, map[string]any{"path": c.relativePath})
	}
	if err := validateRelativePath("relative_path", c.relativePath); err != nil {
		return err
	}
	_, err := DecodeDigest(c.sha256)
	return err
}

// Stage streams the content into the staging sibling and verifies its digest.
// The target path itself is left untouched.
func (c AddOrReplace) Stage(ctx context.Context, src DataSource, fsys afero.Fs) error {
	if err := domain.CheckContext(ctx, "stage"); err != nil {
		return err
	}

	expected, err := DecodeDigest(c.sha256)
	if err != nil {
		return err
	}

	target := localPath(c.relativePath)
	staged := localPath(c.StagingPath())
	details := map[string]any{"path": c.relativePath, "content_key": c.contentKey}

	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return domain.NewIOFailure("Failed to create parent directory", err, details)
	}

	content, err := src.GetContent(ctx, c.contentKey)
	if err != nil {
		return err
	}
	defer content.Close()

	f, err := fsys.OpenFile(staged, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return domain.NewIOFailure("Failed to open staging file", err, details)
	}
	defer f.Close()

	buf := make([]byte, copyBufferSize)
	written, err := io.CopyBuffer(writerOnly{f}, contextReader{ctx: ctx, r: content}, buf)
	if err != nil {
		if ctx.Err() != nil {
			return domain.NewCancelled(ctx, "stage")
		}
		return domain.NewIOFailure("Failed to write staging file", err, details)
	}
	if err := f.Sync(); err != nil {
		return domain.NewIOFailure("Failed to flush staging file", err, details)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return domain.NewIOFailure("Failed to rewind staging file", err, details)
	}
	if err := domain.CheckContext(ctx, "stage"); err != nil {
		return err
	}

	h := sha256.New()
	if _, err := io.CopyBuffer(h, contextReader{ctx: ctx, r: f}, buf); err != nil {
		if ctx.Err() != nil {
			return domain.NewCancelled(ctx, "stage")
		}
		return domain.NewIOFailure("Failed to hash staging file", err, details)
	}
	actual := h.Sum(nil)
	if !bytes.Equal(actual, expected) {
		return domain.NewAppError(domain.ErrIntegrityMismatch, "Staged content does not match the manifest digest", 422, map[string]any{
			"path":     c.relativePath,
			"expected": c.sha256,
			"actual":   EncodeDigest(actual),
		})
	}

	log.Debug().
		Str("path", c.relativePath).
		Str("size", humanize.Bytes(uint64(written))).
		Msg("Staged file")
	return nil
}

// Commit renames the staged file over the target, or removes it on rollback
func (c AddOrReplace) Commit(ctx context.Context, _ DataSource, fsys afero.Fs, succeeded bool) error {
	target := localPath(c.relativePath)
	staged := localPath(c.StagingPath())

	if !succeeded {
		if err := fsys.Remove(staged); err != nil && !os.IsNotExist(err) {
			return domain.NewIOFailure("Failed to remove staging file", err, map[string]any{"path": c.relativePath})
		}
		return nil
	}

	if err := domain.CheckContext(ctx, "commit"); err != nil {
		return err
	}
	if err := fsys.Rename(staged, target); err != nil {
		return domain.NewIOFailure("Failed to replace target with staged file", err, map[string]any{"path": c.relativePath})
	}
	return nil
}

// Delete removes a file at a relative path
type Delete struct {
	relativePath string
}

// NewDelete creates a Delete change. Deletes always commit first.
func NewDelete(relativePath string) Delete {
	return Delete{relativePath: relativePath}
}

func (c Delete) Kind() Kind    { return KindDelete }
func (c Delete) Path() string  { return c.relativePath }
func (c Delete) Priority() int { return PriorityDelete }
func (Delete) sealed()         {}

func (c Delete) Validate() error {
	return validateRelativePath("relative_path", c.relativePath)
}

// Stage is a no-op
func (c Delete) Stage(ctx context.Context, _ DataSource, _ afero.Fs) error {
	return domain.CheckContext(ctx, "stage")
}

// Commit removes the file. A missing file counts as already deleted.
func (c Delete) Commit(ctx context.Context, _ DataSource, fsys afero.Fs, succeeded bool) error {
	if !succeeded {
		return nil
	}
	if err := domain.CheckContext(ctx, "commit"); err != nil {
		return err
	}
	if err := fsys.Remove(localPath(c.relativePath)); err != nil && !os.IsNotExist(err) {
		return domain.NewIOFailure("Failed to delete file", err, map[string]any{"path": c.relativePath})
	}
	return nil
}

// Move renames a file from one relative path to another
type Move struct {
	sourcePath      string
	destinationPath string
	priority        int
}

// NewMove creates a Move change with the default priority
func NewMove(sourcePath, destinationPath string) Move {
	return Move{sourcePath: sourcePath, destinationPath: destinationPath, priority: PriorityMove}
}

// WithPriority returns a copy with an explicit commit priority
func (c Move) WithPriority(priority int) Move {
	c.priority = priority
	return c
}

func (c Move) Kind() Kind              { return KindMove }
func (c Move) Path() string            { return c.sourcePath }
func (c Move) Priority() int           { return c.priority }
func (c Move) DestinationPath() string { return c.destinationPath }
func (Move) sealed()                   {}

func (c Move) Validate() error {
	if err := validateRelativePath("source_path", c.sourcePath); err != nil {
		return err
	}
	return validateRelativePath("destination_path", c.destinationPath)
}

// Stage is a no-op
func (c Move) Stage(ctx context.Context, _ DataSource, _ afero.Fs) error {
	return domain.CheckContext(ctx, "stage")
}

// Commit renames source to destination, creating the destination directory
func (c Move) Commit(ctx context.Context, _ DataSource, fsys afero.Fs, succeeded bool) error {
	if !succeeded {
		return nil
	}
	if err := domain.CheckContext(ctx, "commit"); err != nil {
		return err
	}

	source := localPath(c.sourcePath)
	destination := localPath(c.destinationPath)
	details := map[string]any{"source": c.sourcePath, "destination": c.destinationPath}

	if _, err := fsys.Stat(source); err != nil {
		if os.IsNotExist(err) {
			return domain.NewIOFailure("Move source does not exist", err, details)
		}
		return domain.NewIOFailure("Failed to stat move source", err, details)
	}
	if err := fsys.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return domain.NewIOFailure("Failed to create destination directory", err, details)
	}
	if err := fsys.Rename(source, destination); err != nil {
		return domain.NewIOFailure("Failed to move file", err, details)
	}
	return nil
}
