package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
)

// replicateAssets is phase 1: discover fully-processed source assets not yet
// mirrored and create a complete mirror record for each, one savepoint per
// asset so a single failure never aborts the batch.
func (e *Engine) replicateAssets(ctx context.Context, job SyncJob, stats *CycleStats) error {
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		sources, err := tx.UnsyncedSourceAssets(ctx, job, e.batchSize)
		if err != nil {
			return fmt.Errorf("discovering unsynced assets: %w", err)
		}
		for _, source := range sources {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.replicateOne(ctx, tx, source, job, stats)
		}
		return nil
	})
	return phaseErr("replicate", err)
}

// replicateOne mirrors a single source asset. All database work happens
// inside a savepoint; hardlinks created before a rollback are removed so a
// link only ever outlives its record between link creation and the mapping
// commit, which the idempotency check recovers on retry.
func (e *Engine) replicateOne(ctx context.Context, tx Tx, source Asset, job SyncJob, stats *CycleStats) {
	targetPath, err := RemapAssetPath(source.OriginalPath, job)
	if err != nil {
		stats.AssetsFailed++
		e.logger.Error("invalid asset path", "job", job.Name, "source", source.ID, "error", err)
		return
	}

	now := e.clock.Now()
	var linked []string
	var recovered bool
	var faces int

	err = tx.InSavepoint(ctx, func() error {
		// Idempotency: a mirror asset at this (owner, library, path) means a
		// prior run crashed after creating the record but before committing
		// the mapping row. Re-point the mapping at it instead of duplicating.
		existing, found, err := tx.FindTargetAsset(ctx, job.TargetUserID, job.TargetLibraryID, targetPath)
		if err != nil {
			return fmt.Errorf("idempotency check: %w", err)
		}
		if found {
			recovered = true
			return tx.InsertAssetMapping(ctx, AssetMapping{
				SourceAssetID: source.ID,
				TargetAssetID: existing,
				SourceUserID:  job.SourceUserID,
				TargetUserID:  job.TargetUserID,
				SyncedAt:      now,
			})
		}

		targetID := e.idgen.New()
		if err := tx.InsertAsset(ctx, mirrorAsset(source, targetID, targetPath, job)); err != nil {
			return fmt.Errorf("inserting mirror asset: %w", err)
		}
		if err := tx.CopyExif(ctx, source.ID, targetID); err != nil {
			return fmt.Errorf("copying exif: %w", err)
		}

		files, err := tx.AssetFiles(ctx, source.ID)
		if err != nil {
			return fmt.Errorf("listing artifacts: %w", err)
		}
		for _, f := range files {
			artifactPath := RemapArtifactPath(f.Path, source.OwnerID, job.TargetUserID, source.ID, targetID)
			if err := EnsureWithinRoot(e.uploadRoot, artifactPath); err != nil {
				return err
			}
			if err := e.linker.Link(f.Path, artifactPath); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					e.logger.Warn("source artifact missing", "path", f.Path)
					continue
				}
				return fmt.Errorf("linking artifact %s: %w", f.Path, err)
			}
			linked = append(linked, artifactPath)
			if err := tx.InsertAssetFile(ctx, AssetFile{
				ID:            e.idgen.New(),
				AssetID:       targetID,
				Type:          f.Type,
				Path:          artifactPath,
				IsEdited:      f.IsEdited,
				IsProgressive: f.IsProgressive,
			}); err != nil {
				return fmt.Errorf("inserting artifact record: %w", err)
			}
		}

		if err := tx.MarkAssetProcessed(ctx, targetID, now); err != nil {
			return fmt.Errorf("marking asset processed: %w", err)
		}
		if err := tx.CopySearchEmbedding(ctx, source.ID, targetID); err != nil {
			return fmt.Errorf("copying search embedding: %w", err)
		}

		faces, _, err = e.copyFaces(ctx, tx, source.ID, targetID, job, &linked)
		if err != nil {
			return fmt.Errorf("copying faces: %w", err)
		}

		// Mapping row last: its existence is proof of full success.
		return tx.InsertAssetMapping(ctx, AssetMapping{
			SourceAssetID: source.ID,
			TargetAssetID: targetID,
			SourceUserID:  job.SourceUserID,
			TargetUserID:  job.TargetUserID,
			SyncedAt:      now,
		})
	})

	if err == nil {
		if recovered {
			stats.AssetsRecovered++
			e.logger.Info("recovered mapping for existing mirror asset", "source", source.ID)
		} else {
			stats.AssetsCreated++
			stats.FacesCopied += faces
			e.logger.Info("asset mirrored", "source", source.ID, "file", source.OriginalFileName)
		}
		return
	}

	// The savepoint rolled back; the hardlinks it created must go too.
	e.unlinkAll(linked)

	if errors.Is(err, ErrDuplicate) {
		// The target user already holds this content (checksum unique per
		// owner). Not an error: record the skip so discovery stops offering it.
		if skipErr := tx.InsertSkip(ctx, source.ID, SkipDuplicateChecksum); skipErr != nil {
			e.logger.Error("failed to record skip", "source", source.ID, "error", skipErr)
		}
		stats.AssetsSkipped++
		e.logger.Warn("skipping asset: duplicate checksum for target user", "source", source.ID)
		return
	}

	stats.AssetsFailed++
	e.logger.Error("failed to replicate asset", "source", source.ID, "error", err)
}

// unlinkAll removes hardlinks whose database rows were rolled back. Unlink
// failures are logged, not returned; the rows are already gone.
func (e *Engine) unlinkAll(paths []string) {
	for _, p := range paths {
		if err := e.linker.Unlink(p); err != nil {
			e.logger.Error("failed to remove hardlink after rollback", "path", p, "error", err)
		}
	}
}

// mirrorAsset builds the target-side asset row from its source. Ownership
// moves to the target user and library; per-user preferences and cross-asset
// references (favorite, stack, duplicate group, live-photo pairing) are
// reset rather than copied.
func mirrorAsset(source Asset, targetID uuid.UUID, targetPath string, job SyncJob) Asset {
	m := source
	m.ID = targetID
	m.OwnerID = job.TargetUserID
	m.OriginalPath = targetPath
	libraryID := job.TargetLibraryID
	m.LibraryID = &libraryID
	m.IsExternal = true
	m.IsFavorite = false
	m.LivePhotoVideoID = nil
	m.StackID = nil
	m.DuplicateID = nil
	m.DeletedAt = nil
	return m
}
