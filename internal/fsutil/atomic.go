// Package fsutil holds small filesystem helpers shared by the manifest builder,
// the manifest cache and the install state file.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteFileAtomic writes data to path via a temp file in the same directory and a rename
func WriteFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	_, err := WriteReaderAtomic(fsys, path, bytes.NewReader(data), perm)
	return err
}

// WriteReaderAtomic streams r into path via a temp file in the same directory and a
// rename. Readers of path see either the old or the new content, never a partial file.
func WriteReaderAtomic(fsys afero.Fs, path string, r io.Reader, perm os.FileMode) (int64, error) {
	// Create temp file in the same directory to ensure same filesystem
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = fsys.Remove(tempPath)
		}
	}()

	n, err := io.Copy(tempFile, r)
	if err != nil {
		_ = tempFile.Close()
		return n, fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return n, fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fsys.Chmod(tempPath, perm); err != nil {
		return n, fmt.Errorf("failed to set permissions on temp file: %w", err)
	}

	if err := fsys.Rename(tempPath, path); err != nil {
		return n, fmt.Errorf("failed to rename temp file to target: %w", err)
	}

	success = true
	return n, nil
}
