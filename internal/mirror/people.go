package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/google/uuid"
)

// syncPeople is phase 3: propagate person rename/visibility/thumbnail
// changes from source to mirror, and reproduce source-side re-clustering
// (merge detection) on the mirrored faces.
func (e *Engine) syncPeople(ctx context.Context, job SyncJob, stats *CycleStats) error {
	err := e.store.RunInTx(ctx, func(tx Tx) error {
		renamed, err := tx.SyncPersonNames(ctx, job.TargetUserID)
		if err != nil {
			return fmt.Errorf("syncing person names: %w", err)
		}
		stats.PersonsRenamed += renamed

		updated, err := tx.SyncPersonVisibility(ctx, job.TargetUserID)
		if err != nil {
			return fmt.Errorf("syncing person visibility: %w", err)
		}
		stats.PersonsUpdated += updated

		// Thumbnail repair covers both the initial-creation gap (source had
		// no thumbnail yet) and source-side regeneration.
		gaps, err := tx.PersonsMissingThumbnail(ctx, job.TargetUserID)
		if err != nil {
			return fmt.Errorf("finding thumbnail gaps: %w", err)
		}
		for _, g := range gaps {
			thumb := e.linkPersonThumbnail(g.SourceThumbnailPath, job.TargetUserID, g.TargetPersonID)
			if thumb == "" {
				continue
			}
			if err := tx.UpdatePersonThumbnail(ctx, g.TargetPersonID, thumb); err != nil {
				return fmt.Errorf("updating person thumbnail: %w", err)
			}
			stats.ThumbsRepaired++
		}

		// Merge detection: a source face (matched to its mirror by exact
		// bounding box) whose person changed means the source re-clustered.
		// Re-point the mirrored face instead of appending a duplicate.
		reassigned, err := tx.ReassignedFaces(ctx, job)
		if err != nil {
			return fmt.Errorf("finding reassigned faces: %w", err)
		}
		for _, r := range reassigned {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var linked []string
			err := tx.InSavepoint(ctx, func() error {
				var newPersonID *uuid.UUID
				if r.SourcePersonID != nil {
					pid, err := e.getOrCreatePerson(ctx, tx, *r.SourcePersonID, job, &linked)
					if err != nil {
						return err
					}
					if pid != uuid.Nil {
						newPersonID = &pid
					}
				}
				return tx.UpdateFacePerson(ctx, r.TargetFaceID, newPersonID)
			})
			if err != nil {
				e.unlinkAll(linked)
				e.logger.Error("face reassignment failed", "face", r.TargetFaceID, "error", err)
				continue
			}
			stats.FacesReassigned++
		}
		if len(reassigned) > 0 {
			e.logger.Info("faces reassigned after source re-clustering", "count", len(reassigned))
		}
		return nil
	})
	return phaseErr("people", err)
}

// getOrCreatePerson resolves a source person to its mirror for the job's
// target user, creating the mirrored person and mapping on first sight.
// Never creates a second mapping for an already-mapped source person.
// Returns uuid.Nil (and no error) when the source person does not exist.
// A thumbnail hardlink created here is appended to links so the caller can
// remove it if the surrounding savepoint rolls back; the mirrored person id
// is never reused, so a leftover link would be orphaned for good.
func (e *Engine) getOrCreatePerson(ctx context.Context, tx Tx, sourcePersonID uuid.UUID, job SyncJob, links *[]string) (uuid.UUID, error) {
	if id, found, err := tx.PersonMapping(ctx, sourcePersonID, job.TargetUserID); err != nil {
		return uuid.Nil, fmt.Errorf("resolving person mapping: %w", err)
	} else if found {
		return id, nil
	}

	source, err := tx.GetPerson(ctx, sourcePersonID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("loading source person: %w", err)
	}
	if source == nil {
		e.logger.Warn("source person not found", "person", sourcePersonID)
		return uuid.Nil, nil
	}

	targetID := e.idgen.New()
	thumbnail := ""
	if source.ThumbnailPath != "" {
		thumbnail = e.linkPersonThumbnail(source.ThumbnailPath, job.TargetUserID, targetID)
		if thumbnail != "" {
			*links = append(*links, thumbnail)
		}
	}

	if err := tx.InsertPerson(ctx, Person{
		ID:            targetID,
		OwnerID:       job.TargetUserID,
		Name:          source.Name,
		ThumbnailPath: thumbnail,
		IsHidden:      source.IsHidden,
		BirthDate:     source.BirthDate,
		FaceAssetID:   nil, // set once the first mirrored face exists
		IsFavorite:    false,
		Color:         source.Color,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("inserting mirrored person: %w", err)
	}
	if err := tx.InsertPersonMapping(ctx, PersonMapping{
		SourcePersonID: sourcePersonID,
		TargetPersonID: targetID,
		SourceUserID:   job.SourceUserID,
		TargetUserID:   job.TargetUserID,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("inserting person mapping: %w", err)
	}

	e.logger.Info("mirrored person created", "source", sourcePersonID, "target", targetID, "name", source.Name)
	return targetID, nil
}

// linkPersonThumbnail hardlinks a person's cropped face thumbnail into the
// target user's directory and returns the new path. Failures are logged and
// yield an empty path; the thumbnail-repair pass picks them up later.
func (e *Engine) linkPersonThumbnail(sourceThumbnail string, targetUserID, targetPersonID uuid.UUID) string {
	if err := EnsureWithinRoot(e.uploadRoot, sourceThumbnail); err != nil {
		e.logger.Error("source person thumbnail outside upload root", "path", sourceThumbnail)
		return ""
	}

	target := PersonThumbnailPath(e.uploadRoot, targetUserID, targetPersonID, path.Ext(sourceThumbnail))
	if err := e.linker.Link(sourceThumbnail, target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("source person thumbnail does not exist", "path", sourceThumbnail)
		} else {
			e.logger.Error("failed to hardlink person thumbnail", "path", sourceThumbnail, "error", err)
		}
		return ""
	}
	return target
}
