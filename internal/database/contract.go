package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The engine writes raw rows into another application's schema, so it must
// refuse to start against a schema it does not understand. requiredSchema
// lists every (table, column) pair the queries in this package reference.
// A missing entry after a photo-store upgrade fails startup instead of
// failing mid-cycle.
//
// The contract targets the plural-name generation of the upstream schema
// (assets, exif, asset_files, albums_assets_assets). Upstream has since
// renamed these to singular forms (asset, asset_exif, asset_file,
// album_asset); against such a store every table below reads as missing and
// startup fails with the full list, which is the intended signal to port
// the contract before running.
var requiredSchema = map[string][]string{
	"assets": {
		"id", "deviceAssetId", "ownerId", "deviceId", "type", "originalPath",
		"fileCreatedAt", "fileModifiedAt", "isFavorite", "duration",
		"encodedVideoPath", "checksum", "livePhotoVideoId", "originalFileName",
		"thumbhash", "isOffline", "libraryId", "isExternal", "localDateTime",
		"stackId", "duplicateId", "status", "visibility", "width", "height",
		"isEdited", "deletedAt",
	},
	"exif": {
		"assetId", "make", "model", "exifImageWidth", "exifImageHeight",
		"fileSizeInByte", "orientation", "dateTimeOriginal", "modifyDate",
		"timeZone", "latitude", "longitude", "projectionType", "city", "state",
		"country", "description", "fps", "exposureTime", "lensModel", "fNumber",
		"focalLength", "iso", "colorspace", "bitsPerSample",
		"profileDescription", "rating",
	},
	"asset_files": {
		"id", "assetId", "type", "path", "isEdited", "isProgressive",
	},
	"asset_job_status": {
		"assetId", "metadataExtractedAt", "facesRecognizedAt", "duplicatesDetectedAt",
	},
	"smart_search": {"assetId", "embedding"},
	"asset_faces": {
		"id", "assetId", "personId", "imageWidth", "imageHeight",
		"boundingBoxX1", "boundingBoxY1", "boundingBoxX2", "boundingBoxY2",
		"sourceType", "isVisible", "updatedAt", "deletedAt",
	},
	"face_search": {"faceId", "embedding"},
	"person": {
		"id", "ownerId", "name", "thumbnailPath", "isHidden", "birthDate",
		"faceAssetId", "isFavorite", "color",
	},
	"albums":               {"id", "ownerId", "updatedAt", "deletedAt"},
	"albums_assets_assets": {"albumsId", "assetsId"},
	"users":                {"id", "email", "name", "deletedAt"},
	"libraries":            {"id", "ownerId", "deletedAt"},
}

// insertTargets are the tables the engine INSERTs rows into. The insert
// statements name columns from requiredSchema only, so a NOT NULL column
// without a default that the contract does not know about would reject
// every insert. Checking for such columns up front turns a schema drift
// into a startup error.
var insertTargets = []string{
	"assets", "exif", "asset_files", "asset_job_status", "smart_search",
	"asset_faces", "face_search", "person", "albums_assets_assets",
}

// requiredUniques are the unique constraints the upsert statements rely on.
// ON CONFLICT against a column set with no backing constraint is a runtime
// error, so their absence is a startup error instead.
var requiredUniques = map[string][]string{
	"asset_job_status":     {"assetId"},
	"smart_search":         {"assetId"},
	"face_search":          {"faceId"},
	"albums_assets_assets": {"albumsId", "assetsId"},
}

// requiredCascades maps child tables to the parent whose row deletion must
// cascade into them. Asset removal during cleanup deletes the assets row and
// counts on the store to drop the derived rows; face removal likewise counts
// on face_search following asset_faces.
var requiredCascades = map[string]string{
	"exif":             "assets",
	"asset_files":      "assets",
	"asset_job_status": "assets",
	"smart_search":     "assets",
	"asset_faces":      "assets",
	"face_search":      "asset_faces",
}

type columnMeta struct {
	// Strict marks a NOT NULL column with no default, identity, or
	// generation expression. Inserts that omit such a column fail.
	Strict bool
}

// ValidateSchemaContract checks that the shared store's schema still carries
// every table, column, unique constraint, and cascading foreign key the
// engine depends on, and that no insert-target table has grown a mandatory
// column the engine does not populate.
func ValidateSchemaContract(ctx context.Context, pool *pgxpool.Pool) error {
	existing, err := loadColumns(ctx, pool)
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	var missing []string
	for table, columns := range requiredSchema {
		have, ok := existing[table]
		if !ok {
			missing = append(missing, table+" (table)")
			continue
		}
		for _, col := range columns {
			if _, ok := have[col]; !ok {
				missing = append(missing, table+"."+col)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("schema contract violated, missing: %s", strings.Join(missing, ", "))
	}

	if unknown := unknownStrictColumns(existing); len(unknown) > 0 {
		return fmt.Errorf("schema contract violated, mandatory columns not covered by inserts: %s",
			strings.Join(unknown, ", "))
	}

	for table, columns := range requiredUniques {
		ok, err := hasUniqueConstraint(ctx, pool, table, columns)
		if err != nil {
			return fmt.Errorf("checking unique constraints on %s: %w", table, err)
		}
		if !ok {
			return fmt.Errorf("schema contract violated: no unique constraint on %s(%s)",
				table, strings.Join(columns, ", "))
		}
	}

	for child, parent := range requiredCascades {
		ok, err := hasCascadeDelete(ctx, pool, child, parent)
		if err != nil {
			return fmt.Errorf("checking delete cascade on %s: %w", child, err)
		}
		if !ok {
			return fmt.Errorf("schema contract violated: %s does not cascade deletes from %s",
				child, parent)
		}
	}
	return nil
}

// unknownStrictColumns returns the strict columns of the insert-target
// tables that requiredSchema does not list, meaning no insert statement
// supplies a value for them.
func unknownStrictColumns(existing map[string]map[string]columnMeta) []string {
	var unknown []string
	for _, table := range insertTargets {
		covered := make(map[string]struct{}, len(requiredSchema[table]))
		for _, col := range requiredSchema[table] {
			covered[col] = struct{}{}
		}
		for col, meta := range existing[table] {
			if !meta.Strict {
				continue
			}
			if _, ok := covered[col]; ok {
				continue
			}
			unknown = append(unknown, table+"."+col)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func loadColumns(ctx context.Context, pool *pgxpool.Pool) (map[string]map[string]columnMeta, error) {
	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name,
		       (is_nullable = 'NO'
		        AND column_default IS NULL
		        AND is_identity = 'NO'
		        AND is_generated = 'NEVER')
		FROM information_schema.columns
		WHERE table_schema = 'public'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]map[string]columnMeta)
	for rows.Next() {
		var table, column string
		var strict bool
		if err := rows.Scan(&table, &column, &strict); err != nil {
			return nil, err
		}
		if out[table] == nil {
			out[table] = make(map[string]columnMeta)
		}
		out[table][column] = columnMeta{Strict: strict}
	}
	return out, rows.Err()
}

// hasUniqueConstraint reports whether any unique or primary key index on the
// table covers exactly the given column set.
func hasUniqueConstraint(ctx context.Context, pool *pgxpool.Pool, table string, columns []string) (bool, error) {
	rows, err := pool.Query(ctx, `
		SELECT ARRAY_AGG(a.attname ORDER BY a.attname)
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
		WHERE c.relname = $1 AND (i.indisunique OR i.indisprimary)
		GROUP BY i.indexrelid`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	want := append([]string(nil), columns...)
	sort.Strings(want)

	for rows.Next() {
		var indexed []string
		if err := rows.Scan(&indexed); err != nil {
			return false, err
		}
		if len(indexed) != len(want) {
			continue
		}
		match := true
		for i := range want {
			if indexed[i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return true, nil
		}
	}
	return false, rows.Err()
}

// hasCascadeDelete reports whether child carries a foreign key to parent
// with ON DELETE CASCADE.
func hasCascadeDelete(ctx context.Context, pool *pgxpool.Pool, child, parent string) (bool, error) {
	var ok bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_constraint con
			JOIN pg_class c ON c.oid = con.conrelid
			JOIN pg_class p ON p.oid = con.confrelid
			WHERE con.contype = 'f'
			  AND con.confdeltype = 'c'
			  AND c.relname = $1
			  AND p.relname = $2
		)`, child, parent).Scan(&ok)
	return ok, err
}
