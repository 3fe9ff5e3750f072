package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicate is returned (wrapped) by Store write methods when a unique
// constraint rejects the row. The asset replicator treats it as evidence of
// a duplicate checksum on the target side.
var ErrDuplicate = errors.New("duplicate row")

// Store provides transactional access to the shared photo store and the
// engine's tracking tables. Implementations must translate driver-level
// unique violations into errors wrapping ErrDuplicate.
type Store interface {
	// RunInTx runs fn inside one transaction. A nil return commits;
	// any error rolls the whole transaction back.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying pool or state.
	Close()
}

// Tx is one open transaction against the store. All methods operate within
// that transaction. Every phase of a sync cycle holds exactly one Tx.
type Tx interface {
	// InSavepoint runs fn inside a savepoint on this transaction. If fn
	// returns an error the savepoint is rolled back, leaving the enclosing
	// transaction usable, and the error is returned.
	InSavepoint(ctx context.Context, fn func() error) error

	// Discovery

	// UnsyncedSourceAssets returns up to limit fully-processed source assets
	// under the job's source prefix that are in neither the asset map nor
	// the skip list. Fully processed means metadata extraction and face
	// recognition are complete and a search embedding exists.
	UnsyncedSourceAssets(ctx context.Context, job SyncJob, limit int) ([]Asset, error)

	// FindTargetAsset looks up a live asset by (owner, library, path).
	FindTargetAsset(ctx context.Context, ownerID uuid.UUID, libraryID uuid.UUID, path string) (uuid.UUID, bool, error)

	// Mirror asset creation

	InsertAsset(ctx context.Context, a Asset) error
	// CopyExif duplicates the source asset's EXIF row for the target asset,
	// using the engine's column allowlist.
	CopyExif(ctx context.Context, sourceAssetID, targetAssetID uuid.UUID) error
	AssetFiles(ctx context.Context, assetID uuid.UUID) ([]AssetFile, error)
	InsertAssetFile(ctx context.Context, f AssetFile) error
	// MarkAssetProcessed records the target asset's derived processing as
	// complete so the source system never re-runs it.
	MarkAssetProcessed(ctx context.Context, assetID uuid.UUID, at time.Time) error
	// CopySearchEmbedding duplicates the source asset's search embedding.
	CopySearchEmbedding(ctx context.Context, sourceAssetID, targetAssetID uuid.UUID) error

	// Faces

	SourceFaces(ctx context.Context, assetID uuid.UUID) ([]Face, error)
	TargetFaceExists(ctx context.Context, assetID uuid.UUID, b BoundingBox) (bool, error)
	InsertFace(ctx context.Context, f Face) error
	CopyFaceEmbedding(ctx context.Context, sourceFaceID, targetFaceID uuid.UUID) error
	// ClaimPersonCover sets the person's cover face when it is unset or
	// references a face that no longer exists.
	ClaimPersonCover(ctx context.Context, personID, faceID uuid.UUID) error

	// Tracking tables

	InsertAssetMapping(ctx context.Context, m AssetMapping) error
	// MappingsWithChangedFaces returns the job's mappings whose source asset
	// has live faces modified after the mapping's watermark.
	MappingsWithChangedFaces(ctx context.Context, job SyncJob) ([]AssetMapping, error)
	// AdvanceWatermark raises a mapping's synced_at to the given time.
	// It never lowers an existing watermark.
	AdvanceWatermark(ctx context.Context, sourceAssetID uuid.UUID, to time.Time) error
	InsertSkip(ctx context.Context, sourceAssetID uuid.UUID, reason string) error

	// Persons

	// PersonMapping resolves a source person for one target user.
	PersonMapping(ctx context.Context, sourcePersonID, targetUserID uuid.UUID) (uuid.UUID, bool, error)
	GetPerson(ctx context.Context, id uuid.UUID) (*Person, error)
	InsertPerson(ctx context.Context, p Person) error
	InsertPersonMapping(ctx context.Context, m PersonMapping) error
	// SyncPersonNames/SyncPersonVisibility propagate source-side changes to
	// every mapped person of the target user, returning the updated count.
	SyncPersonNames(ctx context.Context, targetUserID uuid.UUID) (int, error)
	SyncPersonVisibility(ctx context.Context, targetUserID uuid.UUID) (int, error)
	PersonsMissingThumbnail(ctx context.Context, targetUserID uuid.UUID) ([]PersonThumbnailGap, error)
	UpdatePersonThumbnail(ctx context.Context, personID uuid.UUID, path string) error
	// ReassignedFaces finds mirrored faces (matched to their source face by
	// exact bounding box) whose person reference no longer agrees with the
	// source-side assignment, for the given job.
	ReassignedFaces(ctx context.Context, job SyncJob) ([]FaceReassignment, error)
	UpdateFacePerson(ctx context.Context, faceID uuid.UUID, personID *uuid.UUID) error

	// Albums

	// BackfillAlbum inserts a membership row for every mapped asset of the
	// job missing from the album. Idempotent; returns the number added.
	BackfillAlbum(ctx context.Context, albumID uuid.UUID, job SyncJob) (int, error)
	// TouchAlbum bumps the album's updated timestamp.
	TouchAlbum(ctx context.Context, albumID uuid.UUID, at time.Time) error

	// Cleanup

	// DefunctMappings returns the job's mappings whose source asset is gone
	// or soft-deleted.
	DefunctMappings(ctx context.Context, job SyncJob) ([]AssetMapping, error)
	AssetFilePaths(ctx context.Context, assetID uuid.UUID) ([]string, error)
	DeleteAlbumMemberships(ctx context.Context, assetID uuid.UUID) error
	// DeleteAsset removes the asset row; derived rows (EXIF, files, faces,
	// embeddings, job status) go with it via cascade.
	DeleteAsset(ctx context.Context, assetID uuid.UUID) error
	DeleteAssetMapping(ctx context.Context, sourceAssetID uuid.UUID) error
	// OrphanPersons returns mirrored persons of the target user with zero
	// remaining mirrored faces referencing them.
	OrphanPersons(ctx context.Context, targetUserID uuid.UUID) ([]OrphanPerson, error)
	DeletePerson(ctx context.Context, personID uuid.UUID) error
	DeletePersonMapping(ctx context.Context, sourcePersonID, targetUserID uuid.UUID) error

	// Admin / reporting

	// MappingsForTarget returns every asset mapping for one target user.
	MappingsForTarget(ctx context.Context, targetUserID uuid.UUID) ([]AssetMapping, error)
	// DuplicateSyncedAssets finds mirrored assets duplicating the target
	// user's own uploads by filename stem + capture time. With matchTime
	// false only the capture date is compared.
	DuplicateSyncedAssets(ctx context.Context, targetUserID uuid.UUID, matchTime bool) ([]DuplicatePair, error)
	// PersonMappingsForTarget returns every person mapping for one target user.
	PersonMappingsForTarget(ctx context.Context, targetUserID uuid.UUID) ([]PersonMapping, error)
	TargetSummaries(ctx context.Context) ([]TargetSummary, error)
	// SkippedCount returns the size of the skip list.
	SkippedCount(ctx context.Context) (int, error)

	// Startup validation

	// UserExists reports whether a live (not deleted) user exists.
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	// LibraryOwner returns the owner of a live library.
	LibraryOwner(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error)
	// AlbumOwner returns the owner of a live album.
	AlbumOwner(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error)
}
