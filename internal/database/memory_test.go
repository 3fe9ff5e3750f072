package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"mirrorsync/internal/database"
	"mirrorsync/internal/mirror"
)

func testJob(sourceUser, targetUser, targetLibrary uuid.UUID) mirror.SyncJob {
	return mirror.SyncJob{
		Name:             "test",
		SourceUserID:     sourceUser,
		TargetUserID:     targetUser,
		TargetLibraryID:  targetLibrary,
		SourcePathPrefix: "/upload/library/admin/",
		TargetPathPrefix: "/upload/library/partner/",
	}
}

func liveAsset(owner uuid.UUID, path, checksum string) mirror.Asset {
	return mirror.Asset{
		ID:               uuid.New(),
		OwnerID:          owner,
		Type:             "IMAGE",
		OriginalPath:     path,
		OriginalFileName: path[1:],
		Checksum:         []byte(checksum),
		Status:           "active",
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	owner := uuid.New()
	asset := liveAsset(owner, "/upload/library/admin/a.jpg", "c1")

	failure := errors.New("boom")
	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		if err := tx.InsertAsset(context.Background(), asset); err != nil {
			t.Fatalf("InsertAsset() error = %v", err)
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("RunInTx() error = %v, want %v", err, failure)
	}
	if _, ok := store.Asset(asset.ID); ok {
		t.Error("asset should be gone after rollback")
	}
}

func TestSavepointRollbackIsIsolated(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	owner := uuid.New()
	kept := liveAsset(owner, "/upload/library/admin/kept.jpg", "c1")
	dropped := liveAsset(owner, "/upload/library/admin/dropped.jpg", "c2")

	failure := errors.New("boom")
	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		ctx := context.Background()
		if err := tx.InsertAsset(ctx, kept); err != nil {
			return err
		}
		spErr := tx.InSavepoint(ctx, func() error {
			if err := tx.InsertAsset(ctx, dropped); err != nil {
				return err
			}
			return failure
		})
		if !errors.Is(spErr, failure) {
			t.Fatalf("InSavepoint() error = %v, want %v", spErr, failure)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}

	if _, ok := store.Asset(kept.ID); !ok {
		t.Error("work before the savepoint should survive")
	}
	if _, ok := store.Asset(dropped.ID); ok {
		t.Error("work inside the failed savepoint should be rolled back")
	}
}

func TestInsertAssetRejectsDuplicateChecksumPerOwner(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	owner := uuid.New()
	other := uuid.New()

	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		ctx := context.Background()
		if err := tx.InsertAsset(ctx, liveAsset(owner, "/a.jpg", "same")); err != nil {
			return err
		}
		// Same checksum, same owner: rejected.
		err := tx.InsertAsset(ctx, liveAsset(owner, "/b.jpg", "same"))
		if !errors.Is(err, mirror.ErrDuplicate) {
			t.Errorf("same-owner duplicate error = %v, want ErrDuplicate", err)
		}
		// Same checksum, different owner: fine.
		if err := tx.InsertAsset(ctx, liveAsset(other, "/c.jpg", "same")); err != nil {
			t.Errorf("cross-owner insert error = %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestUnsyncedSourceAssetsFilters(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	sourceUser := uuid.New()
	targetUser := uuid.New()
	job := testJob(sourceUser, targetUser, uuid.New())

	ready := liveAsset(sourceUser, "/upload/library/admin/ready.jpg", "c1")
	store.SeedAsset(ready)

	unprocessed := liveAsset(sourceUser, "/upload/library/admin/raw.jpg", "c2")
	store.SeedUnprocessedAsset(unprocessed)

	elsewhere := liveAsset(sourceUser, "/upload/library/other/out.jpg", "c3")
	store.SeedAsset(elsewhere)

	trashed := liveAsset(sourceUser, "/upload/library/admin/trash.jpg", "c4")
	store.SeedAsset(trashed)
	store.SoftDeleteAsset(trashed.ID, time.Now())

	mapped := liveAsset(sourceUser, "/upload/library/admin/done.jpg", "c5")
	store.SeedAsset(mapped)

	skipped := liveAsset(sourceUser, "/upload/library/admin/skip.jpg", "c6")
	store.SeedAsset(skipped)

	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		ctx := context.Background()
		if err := tx.InsertAssetMapping(ctx, mirror.AssetMapping{
			SourceAssetID: mapped.ID,
			TargetAssetID: uuid.New(),
			SourceUserID:  sourceUser,
			TargetUserID:  targetUser,
			SyncedAt:      time.Now(),
		}); err != nil {
			return err
		}
		if err := tx.InsertSkip(ctx, skipped.ID, mirror.SkipDuplicateChecksum); err != nil {
			return err
		}

		got, err := tx.UnsyncedSourceAssets(ctx, job, 100)
		if err != nil {
			return err
		}
		if len(got) != 1 || got[0].ID != ready.ID {
			t.Errorf("unsynced = %v, want only %s", got, ready.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestUnsyncedSourceAssetsExcludesMappedForAnyTarget(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	sourceUser := uuid.New()
	firstTarget := uuid.New()
	secondTarget := uuid.New()

	// A second job shares the source user but mirrors to someone else. A
	// source asset can only ever have one mirror, so a mapping written by
	// the first job must hide the asset from the second job too.
	mapped := liveAsset(sourceUser, "/upload/library/admin/done.jpg", "c1")
	store.SeedAsset(mapped)

	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		ctx := context.Background()
		if err := tx.InsertAssetMapping(ctx, mirror.AssetMapping{
			SourceAssetID: mapped.ID,
			TargetAssetID: uuid.New(),
			SourceUserID:  sourceUser,
			TargetUserID:  firstTarget,
			SyncedAt:      time.Now(),
		}); err != nil {
			return err
		}

		got, err := tx.UnsyncedSourceAssets(ctx, testJob(sourceUser, secondTarget, uuid.New()), 100)
		if err != nil {
			return err
		}
		if len(got) != 0 {
			t.Errorf("unsynced for second job = %v, want none", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestUnsyncedSourceAssetsMatchesPrefixLiterally(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	sourceUser := uuid.New()
	job := testJob(sourceUser, uuid.New(), uuid.New())
	job.SourcePathPrefix = "/upload/library/my_photos/"
	job.TargetPathPrefix = "/upload/library/partner/"

	inside := liveAsset(sourceUser, "/upload/library/my_photos/a.jpg", "c1")
	store.SeedAsset(inside)
	// Differs only where the prefix has an underscore. A pattern match
	// would pull this in; a literal prefix match must not.
	lookalike := liveAsset(sourceUser, "/upload/library/my-photos/b.jpg", "c2")
	store.SeedAsset(lookalike)

	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		got, err := tx.UnsyncedSourceAssets(context.Background(), job, 100)
		if err != nil {
			return err
		}
		if len(got) != 1 || got[0].ID != inside.ID {
			t.Errorf("unsynced = %v, want only %s", got, inside.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestUnsyncedSourceAssetsOrdersAndLimits(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	sourceUser := uuid.New()
	job := testJob(sourceUser, uuid.New(), uuid.New())

	for _, name := range []string{"c.jpg", "a.jpg", "b.jpg"} {
		store.SeedAsset(liveAsset(sourceUser, "/upload/library/admin/"+name, name))
	}

	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		got, err := tx.UnsyncedSourceAssets(context.Background(), job, 2)
		if err != nil {
			return err
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].OriginalPath >= got[1].OriginalPath {
			t.Errorf("results not ordered by path: %q, %q", got[0].OriginalPath, got[1].OriginalPath)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestAdvanceWatermarkNeverMovesBackwards(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	sourceAsset := uuid.New()
	synced := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		ctx := context.Background()
		if err := tx.InsertAssetMapping(ctx, mirror.AssetMapping{
			SourceAssetID: sourceAsset,
			TargetAssetID: uuid.New(),
			SourceUserID:  uuid.New(),
			TargetUserID:  uuid.New(),
			SyncedAt:      synced,
		}); err != nil {
			return err
		}
		if err := tx.AdvanceWatermark(ctx, sourceAsset, synced.Add(-time.Hour)); err != nil {
			return err
		}
		return tx.AdvanceWatermark(ctx, sourceAsset, synced.Add(time.Hour))
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}

	m, ok := store.Mapping(sourceAsset)
	if !ok {
		t.Fatal("mapping missing")
	}
	if want := synced.Add(time.Hour); !m.SyncedAt.Equal(want) {
		t.Errorf("watermark = %v, want %v", m.SyncedAt, want)
	}
}

func TestOrphanPersonsAndDeleteSemantics(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	targetUser := uuid.New()

	referenced := mirror.Person{ID: uuid.New(), OwnerID: targetUser, Name: "Kept"}
	orphan := mirror.Person{ID: uuid.New(), OwnerID: targetUser, Name: "Gone", ThumbnailPath: "/upload/thumbs/x.jpeg"}
	store.SeedPerson(referenced)
	store.SeedPerson(orphan)

	asset := liveAsset(targetUser, "/upload/library/partner/a.jpg", "c1")
	store.SeedAsset(asset)
	face := mirror.Face{
		ID:       uuid.New(),
		AssetID:  asset.ID,
		PersonID: &referenced.ID,
		Bounds:   mirror.BoundingBox{X1: 1, Y1: 1, X2: 2, Y2: 2},
	}
	store.SeedFace(face)

	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		ctx := context.Background()
		for _, p := range []mirror.Person{referenced, orphan} {
			if err := tx.InsertPersonMapping(ctx, mirror.PersonMapping{
				SourcePersonID: uuid.New(),
				TargetPersonID: p.ID,
				TargetUserID:   targetUser,
			}); err != nil {
				return err
			}
		}

		orphans, err := tx.OrphanPersons(ctx, targetUser)
		if err != nil {
			return err
		}
		if len(orphans) != 1 {
			t.Fatalf("orphans = %d, want 1", len(orphans))
		}
		if orphans[0].TargetPersonID != orphan.ID {
			t.Errorf("orphan = %s, want %s", orphans[0].TargetPersonID, orphan.ID)
		}
		if orphans[0].ThumbnailPath != orphan.ThumbnailPath {
			t.Errorf("orphan thumbnail = %q, want %q", orphans[0].ThumbnailPath, orphan.ThumbnailPath)
		}

		// Deleting a person leaves its faces in place with the reference
		// cleared, like the foreign key does.
		if err := tx.DeletePerson(ctx, referenced.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}

	faces := store.FacesOf(asset.ID)
	if len(faces) != 1 {
		t.Fatalf("faces = %d, want 1", len(faces))
	}
	if faces[0].PersonID != nil {
		t.Error("face should lose its person reference on person delete")
	}
}

func TestDuplicateSyncedAssetsTimeZoneNormalization(t *testing.T) {
	t.Parallel()
	store := database.NewMemoryStore()
	sourceUser := uuid.New()
	targetUser := uuid.New()
	mirrorLib := uuid.New()
	ownLib := uuid.New()
	store.SeedUser(targetUser, "partner@example.com", "Partner")

	// Mirrored copy, capture time stored in UTC.
	synced := liveAsset(targetUser, "/upload/library/partner/trip/IMG_1.jpg", "m1")
	synced.LibraryID = &mirrorLib
	synced.OriginalFileName = "IMG_1.jpg"
	store.SeedAsset(synced)
	captured := time.Date(2023, 8, 1, 22, 30, 0, 0, time.UTC)
	store.SeedExif(synced.ID, captured, "UTC")

	// The user's own upload of the same shot, stored as the same instant
	// with a different zone. Same wall clock only after normalization.
	own := liveAsset(targetUser, "/upload/library/partner/phone/IMG_1.heic", "o1")
	own.LibraryID = &ownLib
	own.OriginalFileName = "IMG_1.heic"
	store.SeedAsset(own)
	store.SeedExif(own.ID, captured, "UTC")

	sourceAsset := uuid.New()
	err := store.RunInTx(context.Background(), func(tx mirror.Tx) error {
		ctx := context.Background()
		if err := tx.InsertAssetMapping(ctx, mirror.AssetMapping{
			SourceAssetID: sourceAsset,
			TargetAssetID: synced.ID,
			SourceUserID:  sourceUser,
			TargetUserID:  targetUser,
			SyncedAt:      time.Now(),
		}); err != nil {
			return err
		}

		pairs, err := tx.DuplicateSyncedAssets(ctx, targetUser, true)
		if err != nil {
			return err
		}
		if len(pairs) != 1 {
			t.Fatalf("pairs = %d, want 1", len(pairs))
		}
		p := pairs[0]
		if p.TargetAssetID != synced.ID || p.OriginalAssetID != own.ID {
			t.Errorf("pair = %+v, want synced %s vs own %s", p, synced.ID, own.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}
