package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"mirrorsync/internal/mirror"
)

// OSLinker is the real filesystem implementation of mirror.Linker. It
// creates hardlinks on the shared upload volume, so source and target paths
// must live on the same filesystem.
type OSLinker struct{}

// NewOSLinker creates a linker that operates on the real filesystem.
func NewOSLinker() *OSLinker {
	return &OSLinker{}
}

// Link hardlinks sourcePath to targetPath, creating parent directories as
// needed. An existing target is accepted as already linked, which makes
// retries after a partial failure safe. A missing source returns an error
// wrapping fs.ErrNotExist; a cross-filesystem pair wraps mirror.ErrCrossDevice.
func (l *OSLinker) Link(sourcePath, targetPath string) error {
	if _, err := os.Stat(sourcePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("link source %s: %w", sourcePath, fs.ErrNotExist)
		}
		return fmt.Errorf("stat link source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("creating target directory: %w", err)
	}

	err := os.Link(sourcePath, targetPath)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return nil
	case isCrossDevice(err):
		return fmt.Errorf("linking %s to %s: %w", sourcePath, targetPath, mirror.ErrCrossDevice)
	default:
		return fmt.Errorf("linking %s to %s: %w", sourcePath, targetPath, err)
	}
}

// Unlink removes targetPath. A path that is already gone is not an error.
func (l *OSLinker) Unlink(targetPath string) error {
	if err := os.Remove(targetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", targetPath, err)
	}
	return nil
}

var _ mirror.Linker = (*OSLinker)(nil)
