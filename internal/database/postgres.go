package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mirrorsync/internal/mirror"
)

// PostgresStore is the production mirror.Store, backed by the shared photo
// store's Postgres instance via a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool for migrations and schema validation.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx mirror.Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	t := &pgTx{tx: pgtx}
	if err := fn(t); err != nil {
		if rbErr := pgtx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// pgTx implements mirror.Tx on one open pgx transaction. Savepoints get
// counter-derived names because reissuing SAVEPOINT under the same name
// destroys the outer savepoint, which would break nesting.
type pgTx struct {
	tx      pgx.Tx
	spCount int
}

// dup translates a unique violation into mirror.ErrDuplicate so callers can
// react to duplicates without knowing the driver.
func dup(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, mirror.ErrDuplicate)
	}
	return err
}

func (t *pgTx) InSavepoint(ctx context.Context, fn func() error) error {
	t.spCount++
	name := fmt.Sprintf("sp_%d", t.spCount)
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

const assetColumns = `id, "deviceAssetId", "ownerId", "deviceId", type, "originalPath",
	"fileCreatedAt", "fileModifiedAt", "isFavorite", duration, "encodedVideoPath",
	checksum, "livePhotoVideoId", "originalFileName", thumbhash, "isOffline",
	"libraryId", "isExternal", "localDateTime", "stackId", "duplicateId",
	status, visibility, width, height, "isEdited", "deletedAt"`

func scanAsset(row pgx.CollectableRow) (mirror.Asset, error) {
	var a mirror.Asset
	err := row.Scan(&a.ID, &a.DeviceAssetID, &a.OwnerID, &a.DeviceID, &a.Type, &a.OriginalPath,
		&a.FileCreatedAt, &a.FileModifiedAt, &a.IsFavorite, &a.Duration, &a.EncodedVideoPath,
		&a.Checksum, &a.LivePhotoVideoID, &a.OriginalFileName, &a.Thumbhash, &a.IsOffline,
		&a.LibraryID, &a.IsExternal, &a.LocalDateTime, &a.StackID, &a.DuplicateID,
		&a.Status, &a.Visibility, &a.Width, &a.Height, &a.IsEdited, &a.DeletedAt)
	return a, err
}

// Discovery

func (t *pgTx) UnsyncedSourceAssets(ctx context.Context, job mirror.SyncJob, limit int) ([]mirror.Asset, error) {
	// starts_with, not LIKE: the configured prefix is a literal path, and
	// LIKE would treat "_" in directory names as a wildcard. Asset-map
	// membership is unscoped to match the table's source_asset_id key: a
	// source asset mirrored by any job is mirrored, full stop.
	rows, err := t.tx.Query(ctx, `
		SELECT `+assetColumns+`
		FROM assets a
		WHERE a."ownerId" = $1
		  AND starts_with(a."originalPath", $2)
		  AND a."deletedAt" IS NULL
		  AND EXISTS (
			SELECT 1 FROM asset_job_status js
			WHERE js."assetId" = a.id
			  AND js."metadataExtractedAt" IS NOT NULL
			  AND js."facesRecognizedAt" IS NOT NULL
		  )
		  AND EXISTS (SELECT 1 FROM smart_search ss WHERE ss."assetId" = a.id)
		  AND NOT EXISTS (SELECT 1 FROM mirror_asset_map m WHERE m.source_asset_id = a.id)
		  AND NOT EXISTS (SELECT 1 FROM mirror_skip_list sk WHERE sk.source_asset_id = a.id)
		ORDER BY a."originalPath"
		LIMIT $3`,
		job.SourceUserID, job.SourcePathPrefix, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAsset)
}

func (t *pgTx) FindTargetAsset(ctx context.Context, ownerID, libraryID uuid.UUID, path string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM assets
		WHERE "ownerId" = $1 AND "libraryId" = $2 AND "originalPath" = $3 AND "deletedAt" IS NULL`,
		ownerID, libraryID, path).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// Mirror asset creation

func (t *pgTx) InsertAsset(ctx context.Context, a mirror.Asset) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
		a.ID, a.DeviceAssetID, a.OwnerID, a.DeviceID, a.Type, a.OriginalPath,
		a.FileCreatedAt, a.FileModifiedAt, a.IsFavorite, a.Duration, a.EncodedVideoPath,
		a.Checksum, a.LivePhotoVideoID, a.OriginalFileName, a.Thumbhash, a.IsOffline,
		a.LibraryID, a.IsExternal, a.LocalDateTime, a.StackID, a.DuplicateID,
		a.Status, a.Visibility, a.Width, a.Height, a.IsEdited, a.DeletedAt)
	return dup(err)
}

// exifCopyColumns is the allowlist of EXIF columns carried over to the
// mirror. Columns tied to the source row ("assetId", "updatedAt", update id)
// are deliberately absent.
const exifCopyColumns = `make, model, "exifImageWidth", "exifImageHeight", "fileSizeInByte",
	orientation, "dateTimeOriginal", "modifyDate", "timeZone", latitude, longitude,
	"projectionType", city, state, country, description, fps, "exposureTime",
	"lensModel", "fNumber", "focalLength", iso, colorspace, "bitsPerSample",
	"profileDescription", rating`

func (t *pgTx) CopyExif(ctx context.Context, sourceAssetID, targetAssetID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO exif ("assetId", `+exifCopyColumns+`)
		SELECT $2, `+exifCopyColumns+`
		FROM exif WHERE "assetId" = $1`,
		sourceAssetID, targetAssetID)
	return dup(err)
}

func (t *pgTx) AssetFiles(ctx context.Context, assetID uuid.UUID) ([]mirror.AssetFile, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, "assetId", type, path, "isEdited", "isProgressive"
		FROM asset_files WHERE "assetId" = $1
		ORDER BY path`, assetID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mirror.AssetFile, error) {
		var f mirror.AssetFile
		err := row.Scan(&f.ID, &f.AssetID, &f.Type, &f.Path, &f.IsEdited, &f.IsProgressive)
		return f, err
	})
}

func (t *pgTx) InsertAssetFile(ctx context.Context, f mirror.AssetFile) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO asset_files (id, "assetId", type, path, "isEdited", "isProgressive")
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.AssetID, f.Type, f.Path, f.IsEdited, f.IsProgressive)
	return dup(err)
}

func (t *pgTx) MarkAssetProcessed(ctx context.Context, assetID uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO asset_job_status ("assetId", "metadataExtractedAt", "facesRecognizedAt", "duplicatesDetectedAt")
		VALUES ($1, $2, $2, $2)
		ON CONFLICT ("assetId") DO UPDATE SET
			"metadataExtractedAt" = EXCLUDED."metadataExtractedAt",
			"facesRecognizedAt" = EXCLUDED."facesRecognizedAt",
			"duplicatesDetectedAt" = EXCLUDED."duplicatesDetectedAt"`,
		assetID, at)
	return err
}

func (t *pgTx) CopySearchEmbedding(ctx context.Context, sourceAssetID, targetAssetID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO smart_search ("assetId", embedding)
		SELECT $2, embedding FROM smart_search WHERE "assetId" = $1
		ON CONFLICT ("assetId") DO NOTHING`,
		sourceAssetID, targetAssetID)
	return err
}

// Faces

const faceColumns = `id, "assetId", "personId", "imageWidth", "imageHeight",
	"boundingBoxX1", "boundingBoxY1", "boundingBoxX2", "boundingBoxY2",
	"sourceType", "isVisible", "updatedAt", "deletedAt"`

func scanFace(row pgx.CollectableRow) (mirror.Face, error) {
	var f mirror.Face
	err := row.Scan(&f.ID, &f.AssetID, &f.PersonID, &f.ImageWidth, &f.ImageHeight,
		&f.Bounds.X1, &f.Bounds.Y1, &f.Bounds.X2, &f.Bounds.Y2,
		&f.SourceType, &f.IsVisible, &f.UpdatedAt, &f.DeletedAt)
	return f, err
}

func (t *pgTx) SourceFaces(ctx context.Context, assetID uuid.UUID) ([]mirror.Face, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+faceColumns+`
		FROM asset_faces
		WHERE "assetId" = $1 AND "deletedAt" IS NULL
		ORDER BY id`, assetID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanFace)
}

func (t *pgTx) TargetFaceExists(ctx context.Context, assetID uuid.UUID, b mirror.BoundingBox) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM asset_faces
			WHERE "assetId" = $1
			  AND "boundingBoxX1" = $2 AND "boundingBoxY1" = $3
			  AND "boundingBoxX2" = $4 AND "boundingBoxY2" = $5
		)`, assetID, b.X1, b.Y1, b.X2, b.Y2).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertFace(ctx context.Context, f mirror.Face) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO asset_faces (`+faceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		f.ID, f.AssetID, f.PersonID, f.ImageWidth, f.ImageHeight,
		f.Bounds.X1, f.Bounds.Y1, f.Bounds.X2, f.Bounds.Y2,
		f.SourceType, f.IsVisible, f.UpdatedAt, f.DeletedAt)
	return dup(err)
}

func (t *pgTx) CopyFaceEmbedding(ctx context.Context, sourceFaceID, targetFaceID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO face_search ("faceId", embedding)
		SELECT $2, embedding FROM face_search WHERE "faceId" = $1
		ON CONFLICT ("faceId") DO NOTHING`,
		sourceFaceID, targetFaceID)
	return err
}

func (t *pgTx) ClaimPersonCover(ctx context.Context, personID, faceID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE person SET "faceAssetId" = $2
		WHERE id = $1
		  AND ("faceAssetId" IS NULL
			OR NOT EXISTS (SELECT 1 FROM asset_faces f WHERE f.id = person."faceAssetId"))`,
		personID, faceID)
	return err
}

// Tracking tables

func (t *pgTx) InsertAssetMapping(ctx context.Context, m mirror.AssetMapping) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO mirror_asset_map (source_asset_id, target_asset_id, source_user_id, target_user_id, synced_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.SourceAssetID, m.TargetAssetID, m.SourceUserID, m.TargetUserID, m.SyncedAt)
	return dup(err)
}

const mappingColumns = `source_asset_id, target_asset_id, source_user_id, target_user_id, synced_at`

func scanMapping(row pgx.CollectableRow) (mirror.AssetMapping, error) {
	var m mirror.AssetMapping
	err := row.Scan(&m.SourceAssetID, &m.TargetAssetID, &m.SourceUserID, &m.TargetUserID, &m.SyncedAt)
	return m, err
}

func (t *pgTx) MappingsWithChangedFaces(ctx context.Context, job mirror.SyncJob) ([]mirror.AssetMapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+mappingColumns+`
		FROM mirror_asset_map m
		WHERE m.source_user_id = $1 AND m.target_user_id = $2
		  AND EXISTS (
			SELECT 1 FROM asset_faces f
			WHERE f."assetId" = m.source_asset_id
			  AND f."deletedAt" IS NULL
			  AND f."updatedAt" > m.synced_at
		  )
		ORDER BY m.source_asset_id`,
		job.SourceUserID, job.TargetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMapping)
}

func (t *pgTx) AdvanceWatermark(ctx context.Context, sourceAssetID uuid.UUID, to time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE mirror_asset_map
		SET synced_at = GREATEST(synced_at, $2)
		WHERE source_asset_id = $1`,
		sourceAssetID, to)
	return err
}

func (t *pgTx) InsertSkip(ctx context.Context, sourceAssetID uuid.UUID, reason string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO mirror_skip_list (source_asset_id, reason, skipped_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source_asset_id) DO NOTHING`,
		sourceAssetID, reason)
	return err
}

// Persons

func (t *pgTx) PersonMapping(ctx context.Context, sourcePersonID, targetUserID uuid.UUID) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT target_person_id FROM mirror_person_map
		WHERE source_person_id = $1 AND target_user_id = $2`,
		sourcePersonID, targetUserID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

const personColumns = `id, "ownerId", name, "thumbnailPath", "isHidden", "birthDate", "faceAssetId", "isFavorite", color`

func (t *pgTx) GetPerson(ctx context.Context, id uuid.UUID) (*mirror.Person, error) {
	var p mirror.Person
	err := t.tx.QueryRow(ctx, `SELECT `+personColumns+` FROM person WHERE id = $1`, id).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.ThumbnailPath, &p.IsHidden,
			&p.BirthDate, &p.FaceAssetID, &p.IsFavorite, &p.Color)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) InsertPerson(ctx context.Context, p mirror.Person) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO person (`+personColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OwnerID, p.Name, p.ThumbnailPath, p.IsHidden,
		p.BirthDate, p.FaceAssetID, p.IsFavorite, p.Color)
	return dup(err)
}

func (t *pgTx) InsertPersonMapping(ctx context.Context, m mirror.PersonMapping) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO mirror_person_map (source_person_id, target_person_id, source_user_id, target_user_id)
		VALUES ($1, $2, $3, $4)`,
		m.SourcePersonID, m.TargetPersonID, m.SourceUserID, m.TargetUserID)
	return dup(err)
}

func (t *pgTx) SyncPersonNames(ctx context.Context, targetUserID uuid.UUID) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE person tgt
		SET name = src.name
		FROM mirror_person_map m
		JOIN person src ON src.id = m.source_person_id
		WHERE tgt.id = m.target_person_id
		  AND m.target_user_id = $1
		  AND tgt.name IS DISTINCT FROM src.name`,
		targetUserID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) SyncPersonVisibility(ctx context.Context, targetUserID uuid.UUID) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE person tgt
		SET "isHidden" = src."isHidden"
		FROM mirror_person_map m
		JOIN person src ON src.id = m.source_person_id
		WHERE tgt.id = m.target_person_id
		  AND m.target_user_id = $1
		  AND tgt."isHidden" IS DISTINCT FROM src."isHidden"`,
		targetUserID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) PersonsMissingThumbnail(ctx context.Context, targetUserID uuid.UUID) ([]mirror.PersonThumbnailGap, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT m.source_person_id, m.target_person_id, src."thumbnailPath"
		FROM mirror_person_map m
		JOIN person src ON src.id = m.source_person_id
		JOIN person tgt ON tgt.id = m.target_person_id
		WHERE m.target_user_id = $1
		  AND src."thumbnailPath" <> ''
		  AND tgt."thumbnailPath" = ''
		ORDER BY m.target_person_id`,
		targetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mirror.PersonThumbnailGap, error) {
		var g mirror.PersonThumbnailGap
		err := row.Scan(&g.SourcePersonID, &g.TargetPersonID, &g.SourceThumbnailPath)
		return g, err
	})
}

func (t *pgTx) UpdatePersonThumbnail(ctx context.Context, personID uuid.UUID, path string) error {
	_, err := t.tx.Exec(ctx, `UPDATE person SET "thumbnailPath" = $2 WHERE id = $1`, personID, path)
	return err
}

func (t *pgTx) ReassignedFaces(ctx context.Context, job mirror.SyncJob) ([]mirror.FaceReassignment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT tf.id, sf."personId", tf."personId"
		FROM mirror_asset_map m
		JOIN asset_faces sf ON sf."assetId" = m.source_asset_id AND sf."deletedAt" IS NULL
		JOIN asset_faces tf ON tf."assetId" = m.target_asset_id AND tf."deletedAt" IS NULL
			AND tf."boundingBoxX1" = sf."boundingBoxX1"
			AND tf."boundingBoxY1" = sf."boundingBoxY1"
			AND tf."boundingBoxX2" = sf."boundingBoxX2"
			AND tf."boundingBoxY2" = sf."boundingBoxY2"
		LEFT JOIN mirror_person_map pm
			ON pm.source_person_id = sf."personId" AND pm.target_user_id = m.target_user_id
		WHERE m.source_user_id = $1 AND m.target_user_id = $2
		  AND tf."personId" IS DISTINCT FROM pm.target_person_id
		ORDER BY tf.id`,
		job.SourceUserID, job.TargetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mirror.FaceReassignment, error) {
		r := mirror.FaceReassignment{SourceUserID: job.SourceUserID, TargetUserID: job.TargetUserID}
		err := row.Scan(&r.TargetFaceID, &r.SourcePersonID, &r.CurrentPersonID)
		return r, err
	})
}

func (t *pgTx) UpdateFacePerson(ctx context.Context, faceID uuid.UUID, personID *uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE asset_faces SET "personId" = $2 WHERE id = $1`, faceID, personID)
	return err
}

// Albums

func (t *pgTx) BackfillAlbum(ctx context.Context, albumID uuid.UUID, job mirror.SyncJob) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO albums_assets_assets ("albumsId", "assetsId")
		SELECT $1, m.target_asset_id
		FROM mirror_asset_map m
		WHERE m.source_user_id = $2 AND m.target_user_id = $3
		ON CONFLICT DO NOTHING`,
		albumID, job.SourceUserID, job.TargetUserID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) TouchAlbum(ctx context.Context, albumID uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE albums SET "updatedAt" = $2 WHERE id = $1`, albumID, at)
	return err
}

// Cleanup

func (t *pgTx) DefunctMappings(ctx context.Context, job mirror.SyncJob) ([]mirror.AssetMapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+mappingColumns+`
		FROM mirror_asset_map m
		WHERE m.source_user_id = $1 AND m.target_user_id = $2
		  AND NOT EXISTS (
			SELECT 1 FROM assets a
			WHERE a.id = m.source_asset_id AND a."deletedAt" IS NULL
		  )
		ORDER BY m.source_asset_id`,
		job.SourceUserID, job.TargetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMapping)
}

func (t *pgTx) AssetFilePaths(ctx context.Context, assetID uuid.UUID) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT path FROM asset_files WHERE "assetId" = $1`, assetID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var p string
		err := row.Scan(&p)
		return p, err
	})
}

func (t *pgTx) DeleteAlbumMemberships(ctx context.Context, assetID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM albums_assets_assets WHERE "assetsId" = $1`, assetID)
	return err
}

func (t *pgTx) DeleteAsset(ctx context.Context, assetID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM assets WHERE id = $1`, assetID)
	return err
}

func (t *pgTx) DeleteAssetMapping(ctx context.Context, sourceAssetID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM mirror_asset_map WHERE source_asset_id = $1`, sourceAssetID)
	return err
}

func (t *pgTx) OrphanPersons(ctx context.Context, targetUserID uuid.UUID) ([]mirror.OrphanPerson, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT m.source_person_id, m.target_person_id, m.target_user_id,
			COALESCE(p."thumbnailPath", '')
		FROM mirror_person_map m
		LEFT JOIN person p ON p.id = m.target_person_id
		WHERE m.target_user_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM asset_faces f
			WHERE f."personId" = m.target_person_id AND f."deletedAt" IS NULL
		  )
		ORDER BY m.target_person_id`,
		targetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mirror.OrphanPerson, error) {
		var o mirror.OrphanPerson
		err := row.Scan(&o.SourcePersonID, &o.TargetPersonID, &o.TargetUserID, &o.ThumbnailPath)
		return o, err
	})
}

func (t *pgTx) DeletePerson(ctx context.Context, personID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM person WHERE id = $1`, personID)
	return err
}

func (t *pgTx) DeletePersonMapping(ctx context.Context, sourcePersonID, targetUserID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		DELETE FROM mirror_person_map
		WHERE source_person_id = $1 AND target_user_id = $2`,
		sourcePersonID, targetUserID)
	return err
}

// Admin / reporting

func (t *pgTx) MappingsForTarget(ctx context.Context, targetUserID uuid.UUID) ([]mirror.AssetMapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+mappingColumns+`
		FROM mirror_asset_map m
		WHERE m.target_user_id = $1
		ORDER BY m.source_asset_id`,
		targetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMapping)
}

func (t *pgTx) DuplicateSyncedAssets(ctx context.Context, targetUserID uuid.UUID, matchTime bool) ([]mirror.DuplicatePair, error) {
	// Capture times are normalized to the wall clock of each asset's stored
	// time zone before comparing, so a Tokyo upload and a UTC mirror of the
	// same shot still match.
	timeMatch := `DATE(te."dateTimeOriginal" AT TIME ZONE COALESCE(te."timeZone", 'UTC'))
			= DATE(oe."dateTimeOriginal" AT TIME ZONE COALESCE(oe."timeZone", 'UTC'))`
	if matchTime {
		timeMatch = `DATE_TRUNC('second', te."dateTimeOriginal" AT TIME ZONE COALESCE(te."timeZone", 'UTC'))
			= DATE_TRUNC('second', oe."dateTimeOriginal" AT TIME ZONE COALESCE(oe."timeZone", 'UTC'))`
	}

	rows, err := t.tx.Query(ctx, `
		SELECT m.source_asset_id, m.target_asset_id,
			ta."originalFileName", ta."originalPath",
			oa.id, oa."originalFileName", oa."originalPath",
			te."dateTimeOriginal"
		FROM mirror_asset_map m
		JOIN assets ta ON ta.id = m.target_asset_id AND ta."deletedAt" IS NULL
		JOIN exif te ON te."assetId" = ta.id AND te."dateTimeOriginal" IS NOT NULL
		JOIN assets oa ON oa."ownerId" = $1
			AND oa.id <> ta.id
			AND oa."deletedAt" IS NULL
			AND oa."libraryId" IS DISTINCT FROM ta."libraryId"
			AND REGEXP_REPLACE(oa."originalFileName", '\.[^.]+$', '')
				= REGEXP_REPLACE(ta."originalFileName", '\.[^.]+$', '')
		JOIN exif oe ON oe."assetId" = oa.id AND oe."dateTimeOriginal" IS NOT NULL
		WHERE m.target_user_id = $1 AND `+timeMatch+`
		ORDER BY te."dateTimeOriginal"`,
		targetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mirror.DuplicatePair, error) {
		var d mirror.DuplicatePair
		err := row.Scan(&d.SourceAssetID, &d.TargetAssetID,
			&d.SyncedFileName, &d.SyncedPath,
			&d.OriginalAssetID, &d.OriginalFileName, &d.OriginalPath,
			&d.CaptureTime)
		return d, err
	})
}

func (t *pgTx) PersonMappingsForTarget(ctx context.Context, targetUserID uuid.UUID) ([]mirror.PersonMapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT source_person_id, target_person_id, source_user_id, target_user_id
		FROM mirror_person_map
		WHERE target_user_id = $1
		ORDER BY source_person_id`,
		targetUserID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mirror.PersonMapping, error) {
		var m mirror.PersonMapping
		err := row.Scan(&m.SourcePersonID, &m.TargetPersonID, &m.SourceUserID, &m.TargetUserID)
		return m, err
	})
}

func (t *pgTx) TargetSummaries(ctx context.Context) ([]mirror.TargetSummary, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT t.target_user_id,
			COALESCE(u.email, ''), COALESCE(u.name, ''),
			t.mapped, t.persons
		FROM (
			SELECT target_user_id,
				COUNT(*) FILTER (WHERE kind = 'asset') AS mapped,
				COUNT(*) FILTER (WHERE kind = 'person') AS persons
			FROM (
				SELECT target_user_id, 'asset' AS kind FROM mirror_asset_map
				UNION ALL
				SELECT target_user_id, 'person' AS kind FROM mirror_person_map
			) rows
			GROUP BY target_user_id
		) t
		LEFT JOIN users u ON u.id = t.target_user_id
		ORDER BY t.target_user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mirror.TargetSummary, error) {
		var s mirror.TargetSummary
		err := row.Scan(&s.TargetUserID, &s.Email, &s.Name, &s.Mapped, &s.Persons)
		return s, err
	})
}

func (t *pgTx) SkippedCount(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM mirror_skip_list`).Scan(&n)
	return n, err
}

// Startup validation

func (t *pgTx) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND "deletedAt" IS NULL)`,
		id).Scan(&exists)
	return exists, err
}

func (t *pgTx) LibraryOwner(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	var owner uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT "ownerId" FROM libraries WHERE id = $1 AND "deletedAt" IS NULL`,
		id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return owner, true, nil
}

func (t *pgTx) AlbumOwner(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	var owner uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT "ownerId" FROM albums WHERE id = $1 AND "deletedAt" IS NULL`,
		id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return owner, true, nil
}

var _ mirror.Store = (*PostgresStore)(nil)
var _ mirror.Tx = (*pgTx)(nil)
