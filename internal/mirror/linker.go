package mirror

import "errors"

// ErrCrossDevice is returned by Linker.Link when source and target are not
// on the same filesystem. Hardlinks cannot cross volumes, so this is not
// retriable without reconfiguration.
var ErrCrossDevice = errors.New("source and target are on different filesystems")

// Linker creates and removes hardlinks for mirrored binary artifacts.
// Implementations operate on paths only and hold no state.
type Linker interface {
	// Link creates a hardlink at targetPath pointing at sourcePath's data,
	// creating parent directories as needed. An already-existing target is
	// success (idempotent re-run). A missing source surfaces as an error
	// satisfying errors.Is(err, fs.ErrNotExist); a cross-filesystem attempt
	// as one satisfying errors.Is(err, ErrCrossDevice).
	Link(sourcePath, targetPath string) error

	// Unlink removes the link at targetPath. An already-absent target is
	// success, so cleanup can be re-run safely.
	Unlink(targetPath string) error
}
