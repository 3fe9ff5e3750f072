package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// syncDerivedData is phase 2: watermark-driven catch-up of faces that
// changed on already-mirrored assets after their initial replication. Cost
// is proportional to changed assets, not library size.
func (e *Engine) syncDerivedData(ctx context.Context, job SyncJob, stats *CycleStats) error {
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		pairs, err := tx.MappingsWithChangedFaces(ctx, job)
		if err != nil {
			return fmt.Errorf("finding changed assets: %w", err)
		}

		for _, m := range pairs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var copied int
			var latest time.Time
			var linked []string
			err := tx.InSavepoint(ctx, func() error {
				var err error
				copied, latest, err = e.copyFaces(ctx, tx, m.SourceAssetID, m.TargetAssetID, job, &linked)
				return err
			})
			if err != nil {
				e.unlinkAll(linked)
				e.logger.Error("incremental face sync failed", "source", m.SourceAssetID, "error", err)
				continue
			}
			stats.FacesCopied += copied

			// Advance the watermark to the newest source change we have now
			// reflected, so this asset drops out of the next cycle's scan.
			if latest.After(m.SyncedAt) {
				if err := tx.AdvanceWatermark(ctx, m.SourceAssetID, latest); err != nil {
					return fmt.Errorf("advancing watermark for %s: %w", m.SourceAssetID, err)
				}
			}
		}
		return nil
	})
	return phaseErr("incremental", err)
}

// copyFaces copies every live source face missing from the target asset,
// matching by exact bounding box so a region already copied under a
// different internal id is never duplicated. Returns the number copied and
// the newest source-face modification time observed. Person thumbnail links
// created along the way are appended to links for rollback cleanup.
func (e *Engine) copyFaces(ctx context.Context, tx Tx, sourceAssetID, targetAssetID uuid.UUID, job SyncJob, links *[]string) (int, time.Time, error) {
	faces, err := tx.SourceFaces(ctx, sourceAssetID)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("listing source faces: %w", err)
	}

	count := 0
	var latest time.Time
	for _, face := range faces {
		if face.UpdatedAt.After(latest) {
			latest = face.UpdatedAt
		}

		exists, err := tx.TargetFaceExists(ctx, targetAssetID, face.Bounds)
		if err != nil {
			return count, latest, fmt.Errorf("checking face bounds: %w", err)
		}
		if exists {
			continue
		}

		var targetPersonID *uuid.UUID
		if face.PersonID != nil {
			pid, err := e.getOrCreatePerson(ctx, tx, *face.PersonID, job, links)
			if err != nil {
				return count, latest, err
			}
			if pid != uuid.Nil {
				targetPersonID = &pid
			}
		}

		targetFaceID := e.idgen.New()
		if err := tx.InsertFace(ctx, Face{
			ID:          targetFaceID,
			AssetID:     targetAssetID,
			PersonID:    targetPersonID,
			ImageWidth:  face.ImageWidth,
			ImageHeight: face.ImageHeight,
			Bounds:      face.Bounds,
			SourceType:  face.SourceType,
			IsVisible:   face.IsVisible,
			UpdatedAt:   e.clock.Now(),
		}); err != nil {
			return count, latest, fmt.Errorf("inserting face: %w", err)
		}
		if err := tx.CopyFaceEmbedding(ctx, face.ID, targetFaceID); err != nil {
			return count, latest, fmt.Errorf("copying face embedding: %w", err)
		}

		// Give the mirrored person a cover face if it has none or its
		// current one was deleted.
		if targetPersonID != nil {
			if err := tx.ClaimPersonCover(ctx, *targetPersonID, targetFaceID); err != nil {
				return count, latest, fmt.Errorf("setting person cover: %w", err)
			}
		}
		count++
	}

	if count > 0 {
		e.logger.Debug("faces copied", "source", sourceAssetID, "target", targetAssetID, "count", count)
	}
	return count, latest, nil
}
