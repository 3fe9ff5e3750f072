package mirror

import (
	"time"

	"github.com/google/uuid"
)

// SyncJob is one unit of replication: mirror the source user's assets under
// SourcePathPrefix into the target user's library, rewriting paths to
// TargetPathPrefix. Jobs are normalized from config before the engine sees
// them.
type SyncJob struct {
	Name             string
	SourceUserID     uuid.UUID
	TargetUserID     uuid.UUID
	TargetLibraryID  uuid.UUID
	SourcePathPrefix string
	TargetPathPrefix string
	AlbumID          *uuid.UUID // optional target album for backfill
}

// Asset is a primary content record in the shared store. Source assets are
// read-only to the engine; mirror assets are exclusively owned by it.
type Asset struct {
	ID               uuid.UUID
	DeviceAssetID    string
	OwnerID          uuid.UUID
	DeviceID         string
	Type             string
	OriginalPath     string
	FileCreatedAt    time.Time
	FileModifiedAt   time.Time
	IsFavorite       bool
	Duration         *string
	EncodedVideoPath *string
	Checksum         []byte
	LivePhotoVideoID *uuid.UUID
	OriginalFileName string
	Thumbhash        []byte
	IsOffline        bool
	LibraryID        *uuid.UUID
	IsExternal       bool
	LocalDateTime    time.Time
	StackID          *uuid.UUID
	DuplicateID      *uuid.UUID
	Status           string
	Visibility       string
	Width            *int32
	Height           *int32
	IsEdited         bool
	DeletedAt        *time.Time
}

// AssetFile is a generated artifact (preview, thumbnail, ...) belonging to
// an asset. The path points at a file on the shared upload volume.
type AssetFile struct {
	ID            uuid.UUID
	AssetID       uuid.UUID
	Type          string
	Path          string
	IsEdited      bool
	IsProgressive bool
}

// BoundingBox is the pixel geometry of a detected face region. It is the
// sole key for matching a mirrored face against its source counterpart
// across snapshots, compared by exact value.
type BoundingBox struct {
	X1 int32
	Y1 int32
	X2 int32
	Y2 int32
}

// Face is a detection region on an asset, optionally assigned to a person.
type Face struct {
	ID          uuid.UUID
	AssetID     uuid.UUID
	PersonID    *uuid.UUID
	ImageWidth  int32
	ImageHeight int32
	Bounds      BoundingBox
	SourceType  string
	IsVisible   bool
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Person is a recognized-subject cluster owned by one user.
type Person struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Name          string
	ThumbnailPath string
	IsHidden      bool
	BirthDate     *time.Time
	FaceAssetID   *uuid.UUID
	IsFavorite    bool
	Color         *string
}

// AssetMapping is one row of the asset map: proof that the source asset has
// been fully mirrored. SyncedAt is the incremental-sync watermark and never
// decreases.
type AssetMapping struct {
	SourceAssetID uuid.UUID
	TargetAssetID uuid.UUID
	SourceUserID  uuid.UUID
	TargetUserID  uuid.UUID
	SyncedAt      time.Time
}

// PersonMapping links a source person to its mirror, scoped per target user:
// the same source person may map differently for different targets.
type PersonMapping struct {
	SourcePersonID uuid.UUID
	TargetPersonID uuid.UUID
	SourceUserID   uuid.UUID
	TargetUserID   uuid.UUID
}

// SkipEntry marks a source asset as deliberately excluded from replication.
type SkipEntry struct {
	SourceAssetID uuid.UUID
	Reason        string
	SkippedAt     time.Time
}

// Skip reasons recorded in the skip list.
const (
	SkipDuplicateChecksum = "duplicate_checksum"
	SkipDuplicateFilename = "duplicate_filename"
)

// PersonThumbnailGap is a mirrored person missing its thumbnail while the
// source person has one.
type PersonThumbnailGap struct {
	SourcePersonID      uuid.UUID
	TargetPersonID      uuid.UUID
	SourceThumbnailPath string
}

// FaceReassignment is a mirrored face whose source counterpart (matched by
// exact bounding box) now belongs to a different person at the source.
type FaceReassignment struct {
	TargetFaceID    uuid.UUID
	SourcePersonID  *uuid.UUID // nil when the source face was unassigned
	CurrentPersonID *uuid.UUID
	SourceUserID    uuid.UUID
	TargetUserID    uuid.UUID
}

// OrphanPerson is a mirrored person with no remaining mirrored face
// referencing it.
type OrphanPerson struct {
	SourcePersonID uuid.UUID
	TargetPersonID uuid.UUID
	TargetUserID   uuid.UUID
	ThumbnailPath  string
}

// DuplicatePair is a mirrored asset that duplicates one of the target
// user's own uploads (matched by filename stem plus capture time).
type DuplicatePair struct {
	SourceAssetID    uuid.UUID
	TargetAssetID    uuid.UUID
	SyncedFileName   string
	SyncedPath       string
	OriginalAssetID  uuid.UUID
	OriginalFileName string
	OriginalPath     string
	CaptureTime      time.Time
}

// TargetSummary is the per-target-user view shown by the status command.
type TargetSummary struct {
	TargetUserID uuid.UUID
	Email        string
	Name         string
	Mapped       int
	Persons      int
}
