package mirror

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// cleanup is phase 4: propagate source-side deletions and remove orphaned
// mirrored persons. Naturally idempotent: a second run finds nothing.
func (e *Engine) cleanup(ctx context.Context, job SyncJob, stats *CycleStats) error {
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		defunct, err := tx.DefunctMappings(ctx, job)
		if err != nil {
			return fmt.Errorf("finding deleted sources: %w", err)
		}
		for _, m := range defunct {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := tx.InSavepoint(ctx, func() error {
				return e.removeMirroredAsset(ctx, tx, m.SourceAssetID, m.TargetAssetID)
			})
			if err != nil {
				e.logger.Error("failed to clean up mirrored asset", "target", m.TargetAssetID, "error", err)
				continue
			}
			stats.AssetsCleaned++
			e.logger.Info("mirrored asset removed", "source", m.SourceAssetID, "target", m.TargetAssetID)
		}

		// A mirrored person with no remaining mirrored face is an orphan,
		// typically left behind after a merge or mass deletion.
		orphans, err := tx.OrphanPersons(ctx, job.TargetUserID)
		if err != nil {
			return fmt.Errorf("finding orphaned persons: %w", err)
		}
		for _, o := range orphans {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err := tx.InSavepoint(ctx, func() error {
				return e.removeMirroredPerson(ctx, tx, o.SourcePersonID, o.TargetPersonID, o.TargetUserID, o.ThumbnailPath)
			})
			if err != nil {
				e.logger.Error("failed to clean up orphaned person", "person", o.TargetPersonID, "error", err)
				continue
			}
			stats.PersonsCleaned++
			e.logger.Info("orphaned mirrored person removed", "person", o.TargetPersonID)
		}
		return nil
	})
	return phaseErr("cleanup", err)
}

// removeMirroredAsset deletes one mirrored asset: hardlinks first, then
// album memberships, the asset row (cascading to all derived rows), and the
// mapping row last. The ordering means a crash mid-removal leaves at worst
// an orphan file, never a database row pointing at a missing file.
// Callers provide the savepoint scope.
func (e *Engine) removeMirroredAsset(ctx context.Context, tx Tx, sourceAssetID, targetAssetID uuid.UUID) error {
	paths, err := tx.AssetFilePaths(ctx, targetAssetID)
	if err != nil {
		return fmt.Errorf("listing artifact paths: %w", err)
	}
	for _, p := range paths {
		if err := e.linker.Unlink(p); err != nil {
			return fmt.Errorf("unlinking %s: %w", p, err)
		}
	}
	if err := tx.DeleteAlbumMemberships(ctx, targetAssetID); err != nil {
		return fmt.Errorf("deleting album memberships: %w", err)
	}
	if err := tx.DeleteAsset(ctx, targetAssetID); err != nil {
		return fmt.Errorf("deleting mirror asset: %w", err)
	}
	if err := tx.DeleteAssetMapping(ctx, sourceAssetID); err != nil {
		return fmt.Errorf("deleting asset mapping: %w", err)
	}
	return nil
}

// removeMirroredPerson deletes one mirrored person and its thumbnail
// hardlink. Callers provide the savepoint scope.
func (e *Engine) removeMirroredPerson(ctx context.Context, tx Tx, sourcePersonID, targetPersonID, targetUserID uuid.UUID, thumbnailPath string) error {
	if thumbnailPath != "" {
		if err := EnsureWithinRoot(e.uploadRoot, thumbnailPath); err != nil {
			e.logger.Error("person thumbnail outside upload root, not unlinking", "path", thumbnailPath)
		} else if err := e.linker.Unlink(thumbnailPath); err != nil {
			return fmt.Errorf("unlinking thumbnail %s: %w", thumbnailPath, err)
		}
	}
	if err := tx.DeletePerson(ctx, targetPersonID); err != nil {
		return fmt.Errorf("deleting mirrored person: %w", err)
	}
	if err := tx.DeletePersonMapping(ctx, sourcePersonID, targetUserID); err != nil {
		return fmt.Errorf("deleting person mapping: %w", err)
	}
	return nil
}
