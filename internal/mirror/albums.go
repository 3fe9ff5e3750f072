package mirror

import (
	"context"
	"fmt"
)

// backfillAlbum is phase 1b: every mapped asset of the job that is missing
// from the configured target album gains a membership row. Covers both the
// assets created earlier in this cycle and retroactive backfill after an
// album is configured late. Idempotent: a complete album is a no-op.
func (e *Engine) backfillAlbum(ctx context.Context, job SyncJob, stats *CycleStats) error {
	if job.AlbumID == nil {
		return nil
	}

	err := e.store.RunInTx(ctx, func(tx Tx) error {
		added, err := tx.BackfillAlbum(ctx, *job.AlbumID, job)
		if err != nil {
			return fmt.Errorf("backfilling album: %w", err)
		}
		if added > 0 {
			if err := tx.TouchAlbum(ctx, *job.AlbumID, e.clock.Now()); err != nil {
				return fmt.Errorf("touching album: %w", err)
			}
			e.logger.Info("assets added to album", "album", *job.AlbumID, "count", added)
		}
		stats.AlbumAdded += added
		return nil
	})
	return phaseErr("albums", err)
}
