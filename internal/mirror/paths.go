package mirror

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// RemapAssetPath rewrites an asset's original path from the job's source
// prefix to its target prefix. This is an exact prefix substitution, not
// pattern matching. The result is normalized to collapse any ".."
// components; a normalized path that escapes the target prefix is an error.
func RemapAssetPath(sourcePath string, job SyncJob) (string, error) {
	if job.SourcePathPrefix == "" || job.TargetPathPrefix == "" {
		return path.Clean(sourcePath), nil
	}
	if !strings.HasPrefix(sourcePath, job.SourcePathPrefix) {
		return path.Clean(sourcePath), nil
	}

	remapped := job.TargetPathPrefix + sourcePath[len(job.SourcePathPrefix):]
	normalized := path.Clean(remapped)
	if !strings.HasPrefix(normalized, job.TargetPathPrefix) {
		return "", fmt.Errorf("remapped path %s normalizes to %s, which escapes target prefix %s",
			remapped, normalized, job.TargetPathPrefix)
	}
	return normalized, nil
}

// RemapArtifactPath rewrites a generated-artifact path from the source
// user/asset to the target user/asset. Artifacts live under
// {root}/thumbs/{userID}/... with the asset id as the filename prefix
// ({assetID}-thumbnail.webp). Only whole path components equal to the source
// user id, or filename components prefixed by the source asset id, are
// replaced; substring replacement could match at the wrong position.
func RemapArtifactPath(sourcePath string, sourceUserID, targetUserID, sourceAssetID, targetAssetID uuid.UUID) string {
	parts := strings.Split(sourcePath, "/")
	srcUID := sourceUserID.String()
	srcAID := sourceAssetID.String()

	for i, part := range parts {
		switch {
		case part == srcUID:
			parts[i] = targetUserID.String()
		case strings.HasPrefix(part, srcAID):
			parts[i] = targetAssetID.String() + part[len(srcAID):]
		}
	}
	return strings.Join(parts, "/")
}

// PersonThumbnailPath builds the canonical location of a person's cropped
// face thumbnail: {root}/thumbs/{userID}/{pid[0:2]}/{pid[2:4]}/{pid}{ext}.
func PersonThumbnailPath(uploadRoot string, userID, personID uuid.UUID, ext string) string {
	pid := personID.String()
	return path.Join(uploadRoot, "thumbs", userID.String(), pid[:2], pid[2:4], pid+ext)
}

// EnsureWithinRoot rejects paths that resolve outside the upload root.
// Guards artifact paths read from the store before they reach the linker.
func EnsureWithinRoot(root, p string) error {
	cleanRoot := path.Clean(root)
	clean := path.Clean(p)
	if clean != cleanRoot && !strings.HasPrefix(clean, cleanRoot+"/") {
		return fmt.Errorf("path %s escapes upload root %s", p, root)
	}
	return nil
}

// FilenameStem returns the filename without its final extension. Used as
// half of the duplicate-detection key.
func FilenameStem(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}
