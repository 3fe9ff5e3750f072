package mirror

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Administrative operations used by the CLI utilities. They run outside the
// cycle loop but go through the same store contract and removal helpers as
// cleanup, so the ordering invariants hold here too.

// PurgeTarget removes every mirrored asset and person for a target user,
// without writing skip records: the next sync cycle recreates everything.
// Returns the number of assets and persons removed.
func (e *Engine) PurgeTarget(ctx context.Context, targetUserID uuid.UUID) (int, int, error) {
	assets, persons := 0, 0
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		mappings, err := tx.MappingsForTarget(ctx, targetUserID)
		if err != nil {
			return fmt.Errorf("listing mappings: %w", err)
		}
		for _, m := range mappings {
			err := tx.InSavepoint(ctx, func() error {
				return e.removeMirroredAsset(ctx, tx, m.SourceAssetID, m.TargetAssetID)
			})
			if err != nil {
				e.logger.Error("failed to purge mirrored asset", "target", m.TargetAssetID, "error", err)
				continue
			}
			assets++
		}

		personMappings, err := tx.PersonMappingsForTarget(ctx, targetUserID)
		if err != nil {
			return fmt.Errorf("listing person mappings: %w", err)
		}
		for _, pm := range personMappings {
			err := tx.InSavepoint(ctx, func() error {
				person, err := tx.GetPerson(ctx, pm.TargetPersonID)
				if err != nil {
					return err
				}
				thumbnail := ""
				if person != nil {
					thumbnail = person.ThumbnailPath
				}
				return e.removeMirroredPerson(ctx, tx, pm.SourcePersonID, pm.TargetPersonID, pm.TargetUserID, thumbnail)
			})
			if err != nil {
				e.logger.Error("failed to purge mirrored person", "person", pm.TargetPersonID, "error", err)
				continue
			}
			persons++
		}
		return nil
	})
	return assets, persons, err
}

// FindDuplicates lists mirrored assets that duplicate the target user's own
// uploads, matched by filename stem plus capture date (or full timestamp
// when matchTime is set). Read-only; pair it with RemoveDuplicates.
func (e *Engine) FindDuplicates(ctx context.Context, targetUserID uuid.UUID, matchTime bool) ([]DuplicatePair, error) {
	var pairs []DuplicatePair
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		var err error
		pairs, err = tx.DuplicateSyncedAssets(ctx, targetUserID, matchTime)
		return err
	})
	return pairs, err
}

// RemoveDuplicates deletes the given mirrored duplicates and records each
// source in the skip list so the sync engine never recreates them.
// Returns the number removed.
func (e *Engine) RemoveDuplicates(ctx context.Context, pairs []DuplicatePair) (int, error) {
	removed := 0
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		for _, d := range pairs {
			err := tx.InSavepoint(ctx, func() error {
				if err := e.removeMirroredAsset(ctx, tx, d.SourceAssetID, d.TargetAssetID); err != nil {
					return err
				}
				return tx.InsertSkip(ctx, d.SourceAssetID, SkipDuplicateFilename)
			})
			if err != nil {
				e.logger.Error("failed to remove duplicate", "target", d.TargetAssetID, "error", err)
				continue
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// TargetSummaries reports per-target mapped asset and person counts for
// the status command.
func (e *Engine) TargetSummaries(ctx context.Context) ([]TargetSummary, error) {
	var summaries []TargetSummary
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		var err error
		summaries, err = tx.TargetSummaries(ctx)
		return err
	})
	return summaries, err
}
