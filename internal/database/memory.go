package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mirrorsync/internal/mirror"
)

// MemoryStore is an in-memory implementation of mirror.Store used by tests.
// It models the slice of the shared-store schema the engine touches,
// including cascade deletes, checksum uniqueness, and savepoint rollback.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memUser struct {
	Email   string
	Name    string
	Deleted bool
}

type memLibrary struct {
	OwnerID uuid.UUID
	Deleted bool
}

type memAlbum struct {
	OwnerID   uuid.UUID
	Deleted   bool
	UpdatedAt time.Time
}

type memExif struct {
	DateTimeOriginal *time.Time
	TimeZone         *string
}

type memJobStatus struct {
	MetadataExtractedAt  *time.Time
	FacesRecognizedAt    *time.Time
	DuplicatesDetectedAt *time.Time
}

type albumAssetKey struct {
	AlbumID uuid.UUID
	AssetID uuid.UUID
}

type personMapKey struct {
	SourcePersonID uuid.UUID
	TargetUserID   uuid.UUID
}

type memData struct {
	users       map[uuid.UUID]memUser
	libraries   map[uuid.UUID]memLibrary
	albums      map[uuid.UUID]memAlbum
	assets      map[uuid.UUID]mirror.Asset
	exif        map[uuid.UUID]memExif
	assetFiles  map[uuid.UUID]mirror.AssetFile
	jobStatus   map[uuid.UUID]memJobStatus
	smartSearch map[uuid.UUID][]float32
	faces       map[uuid.UUID]mirror.Face
	faceSearch  map[uuid.UUID][]float32
	persons     map[uuid.UUID]mirror.Person
	albumAssets map[albumAssetKey]struct{}
	assetMap    map[uuid.UUID]mirror.AssetMapping
	personMap   map[personMapKey]mirror.PersonMapping
	skips       map[uuid.UUID]mirror.SkipEntry
}

func newMemData() *memData {
	return &memData{
		users:       make(map[uuid.UUID]memUser),
		libraries:   make(map[uuid.UUID]memLibrary),
		albums:      make(map[uuid.UUID]memAlbum),
		assets:      make(map[uuid.UUID]mirror.Asset),
		exif:        make(map[uuid.UUID]memExif),
		assetFiles:  make(map[uuid.UUID]mirror.AssetFile),
		jobStatus:   make(map[uuid.UUID]memJobStatus),
		smartSearch: make(map[uuid.UUID][]float32),
		faces:       make(map[uuid.UUID]mirror.Face),
		faceSearch:  make(map[uuid.UUID][]float32),
		persons:     make(map[uuid.UUID]mirror.Person),
		albumAssets: make(map[albumAssetKey]struct{}),
		assetMap:    make(map[uuid.UUID]mirror.AssetMapping),
		personMap:   make(map[personMapKey]mirror.PersonMapping),
		skips:       make(map[uuid.UUID]mirror.SkipEntry),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.libraries {
		c.libraries[k] = v
	}
	for k, v := range d.albums {
		c.albums[k] = v
	}
	for k, v := range d.assets {
		c.assets[k] = v
	}
	for k, v := range d.exif {
		c.exif[k] = v
	}
	for k, v := range d.assetFiles {
		c.assetFiles[k] = v
	}
	for k, v := range d.jobStatus {
		c.jobStatus[k] = v
	}
	for k, v := range d.smartSearch {
		c.smartSearch[k] = v
	}
	for k, v := range d.faces {
		c.faces[k] = v
	}
	for k, v := range d.faceSearch {
		c.faceSearch[k] = v
	}
	for k, v := range d.persons {
		c.persons[k] = v
	}
	for k, v := range d.albumAssets {
		c.albumAssets[k] = v
	}
	for k, v := range d.assetMap {
		c.assetMap[k] = v
	}
	for k, v := range d.personMap {
		c.personMap[k] = v
	}
	for k, v := range d.skips {
		c.skips[k] = v
	}
	return c
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

// RunInTx serializes transactions with a mutex and restores a snapshot of
// the whole state on error, mirroring transactional rollback.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx mirror.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) Close() {}

// memTx implements mirror.Tx over the store's current state. The enclosing
// RunInTx holds the lock for the transaction's lifetime.
type memTx struct {
	store *MemoryStore
}

func (t *memTx) data() *memData { return t.store.data }

func (t *memTx) InSavepoint(_ context.Context, fn func() error) error {
	snapshot := t.store.data.clone()
	if err := fn(); err != nil {
		t.store.data = snapshot
		return err
	}
	return nil
}

// Discovery

func (t *memTx) UnsyncedSourceAssets(_ context.Context, job mirror.SyncJob, limit int) ([]mirror.Asset, error) {
	d := t.data()
	var out []mirror.Asset
	for id, a := range d.assets {
		if a.OwnerID != job.SourceUserID || a.DeletedAt != nil {
			continue
		}
		if !strings.HasPrefix(a.OriginalPath, job.SourcePathPrefix) {
			continue
		}
		js, ok := d.jobStatus[id]
		if !ok || js.MetadataExtractedAt == nil || js.FacesRecognizedAt == nil {
			continue
		}
		if _, ok := d.smartSearch[id]; !ok {
			continue
		}
		if _, mapped := d.assetMap[id]; mapped {
			continue
		}
		if _, skipped := d.skips[id]; skipped {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalPath < out[j].OriginalPath })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) FindTargetAsset(_ context.Context, ownerID, libraryID uuid.UUID, path string) (uuid.UUID, bool, error) {
	for id, a := range t.data().assets {
		if a.OwnerID == ownerID && a.DeletedAt == nil && a.OriginalPath == path &&
			a.LibraryID != nil && *a.LibraryID == libraryID {
			return id, true, nil
		}
	}
	return uuid.Nil, false, nil
}

// Mirror asset creation

func (t *memTx) InsertAsset(_ context.Context, a mirror.Asset) error {
	d := t.data()
	if _, exists := d.assets[a.ID]; exists {
		return fmt.Errorf("asset %s: %w", a.ID, mirror.ErrDuplicate)
	}
	for _, other := range d.assets {
		if other.OwnerID == a.OwnerID && other.DeletedAt == nil && string(other.Checksum) == string(a.Checksum) {
			return fmt.Errorf("checksum for owner %s: %w", a.OwnerID, mirror.ErrDuplicate)
		}
	}
	d.assets[a.ID] = a
	return nil
}

func (t *memTx) CopyExif(_ context.Context, sourceAssetID, targetAssetID uuid.UUID) error {
	d := t.data()
	if e, ok := d.exif[sourceAssetID]; ok {
		d.exif[targetAssetID] = e
	}
	return nil
}

func (t *memTx) AssetFiles(_ context.Context, assetID uuid.UUID) ([]mirror.AssetFile, error) {
	var out []mirror.AssetFile
	for _, f := range t.data().assetFiles {
		if f.AssetID == assetID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (t *memTx) InsertAssetFile(_ context.Context, f mirror.AssetFile) error {
	d := t.data()
	if _, exists := d.assetFiles[f.ID]; exists {
		return fmt.Errorf("asset file %s: %w", f.ID, mirror.ErrDuplicate)
	}
	d.assetFiles[f.ID] = f
	return nil
}

func (t *memTx) MarkAssetProcessed(_ context.Context, assetID uuid.UUID, at time.Time) error {
	ts := at
	t.data().jobStatus[assetID] = memJobStatus{
		MetadataExtractedAt:  &ts,
		FacesRecognizedAt:    &ts,
		DuplicatesDetectedAt: &ts,
	}
	return nil
}

func (t *memTx) CopySearchEmbedding(_ context.Context, sourceAssetID, targetAssetID uuid.UUID) error {
	d := t.data()
	if emb, ok := d.smartSearch[sourceAssetID]; ok {
		d.smartSearch[targetAssetID] = emb
	}
	return nil
}

// Faces

func (t *memTx) SourceFaces(_ context.Context, assetID uuid.UUID) ([]mirror.Face, error) {
	var out []mirror.Face
	for _, f := range t.data().faces {
		if f.AssetID == assetID && f.DeletedAt == nil {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (t *memTx) TargetFaceExists(_ context.Context, assetID uuid.UUID, b mirror.BoundingBox) (bool, error) {
	for _, f := range t.data().faces {
		if f.AssetID == assetID && f.Bounds == b {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertFace(_ context.Context, f mirror.Face) error {
	d := t.data()
	if _, exists := d.faces[f.ID]; exists {
		return fmt.Errorf("face %s: %w", f.ID, mirror.ErrDuplicate)
	}
	d.faces[f.ID] = f
	return nil
}

func (t *memTx) CopyFaceEmbedding(_ context.Context, sourceFaceID, targetFaceID uuid.UUID) error {
	d := t.data()
	if emb, ok := d.faceSearch[sourceFaceID]; ok {
		if _, exists := d.faceSearch[targetFaceID]; !exists {
			d.faceSearch[targetFaceID] = emb
		}
	}
	return nil
}

func (t *memTx) ClaimPersonCover(_ context.Context, personID, faceID uuid.UUID) error {
	d := t.data()
	p, ok := d.persons[personID]
	if !ok {
		return nil
	}
	stale := p.FaceAssetID == nil
	if !stale {
		if _, exists := d.faces[*p.FaceAssetID]; !exists {
			stale = true
		}
	}
	if stale {
		cover := faceID
		p.FaceAssetID = &cover
		d.persons[personID] = p
	}
	return nil
}

// Tracking tables

func (t *memTx) InsertAssetMapping(_ context.Context, m mirror.AssetMapping) error {
	d := t.data()
	if _, exists := d.assetMap[m.SourceAssetID]; exists {
		return fmt.Errorf("asset mapping %s: %w", m.SourceAssetID, mirror.ErrDuplicate)
	}
	d.assetMap[m.SourceAssetID] = m
	return nil
}

func (t *memTx) MappingsWithChangedFaces(_ context.Context, job mirror.SyncJob) ([]mirror.AssetMapping, error) {
	d := t.data()
	var out []mirror.AssetMapping
	for _, m := range d.assetMap {
		if m.SourceUserID != job.SourceUserID || m.TargetUserID != job.TargetUserID {
			continue
		}
		for _, f := range d.faces {
			if f.AssetID == m.SourceAssetID && f.DeletedAt == nil && f.UpdatedAt.After(m.SyncedAt) {
				out = append(out, m)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceAssetID.String() < out[j].SourceAssetID.String()
	})
	return out, nil
}

func (t *memTx) AdvanceWatermark(_ context.Context, sourceAssetID uuid.UUID, to time.Time) error {
	d := t.data()
	m, ok := d.assetMap[sourceAssetID]
	if !ok {
		return nil
	}
	if to.After(m.SyncedAt) {
		m.SyncedAt = to
		d.assetMap[sourceAssetID] = m
	}
	return nil
}

func (t *memTx) InsertSkip(_ context.Context, sourceAssetID uuid.UUID, reason string) error {
	d := t.data()
	if _, exists := d.skips[sourceAssetID]; exists {
		return nil
	}
	d.skips[sourceAssetID] = mirror.SkipEntry{SourceAssetID: sourceAssetID, Reason: reason, SkippedAt: time.Now().UTC()}
	return nil
}

// Persons

func (t *memTx) PersonMapping(_ context.Context, sourcePersonID, targetUserID uuid.UUID) (uuid.UUID, bool, error) {
	if m, ok := t.data().personMap[personMapKey{sourcePersonID, targetUserID}]; ok {
		return m.TargetPersonID, true, nil
	}
	return uuid.Nil, false, nil
}

func (t *memTx) GetPerson(_ context.Context, id uuid.UUID) (*mirror.Person, error) {
	if p, ok := t.data().persons[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *memTx) InsertPerson(_ context.Context, p mirror.Person) error {
	d := t.data()
	if _, exists := d.persons[p.ID]; exists {
		return fmt.Errorf("person %s: %w", p.ID, mirror.ErrDuplicate)
	}
	d.persons[p.ID] = p
	return nil
}

func (t *memTx) InsertPersonMapping(_ context.Context, m mirror.PersonMapping) error {
	d := t.data()
	key := personMapKey{m.SourcePersonID, m.TargetUserID}
	if _, exists := d.personMap[key]; exists {
		return fmt.Errorf("person mapping %s: %w", m.SourcePersonID, mirror.ErrDuplicate)
	}
	d.personMap[key] = m
	return nil
}

func (t *memTx) SyncPersonNames(_ context.Context, targetUserID uuid.UUID) (int, error) {
	d := t.data()
	count := 0
	for _, m := range d.personMap {
		if m.TargetUserID != targetUserID {
			continue
		}
		s, sok := d.persons[m.SourcePersonID]
		tgt, tok := d.persons[m.TargetPersonID]
		if sok && tok && tgt.Name != s.Name {
			tgt.Name = s.Name
			d.persons[m.TargetPersonID] = tgt
			count++
		}
	}
	return count, nil
}

func (t *memTx) SyncPersonVisibility(_ context.Context, targetUserID uuid.UUID) (int, error) {
	d := t.data()
	count := 0
	for _, m := range d.personMap {
		if m.TargetUserID != targetUserID {
			continue
		}
		s, sok := d.persons[m.SourcePersonID]
		tgt, tok := d.persons[m.TargetPersonID]
		if sok && tok && tgt.IsHidden != s.IsHidden {
			tgt.IsHidden = s.IsHidden
			d.persons[m.TargetPersonID] = tgt
			count++
		}
	}
	return count, nil
}

func (t *memTx) PersonsMissingThumbnail(_ context.Context, targetUserID uuid.UUID) ([]mirror.PersonThumbnailGap, error) {
	d := t.data()
	var out []mirror.PersonThumbnailGap
	for _, m := range d.personMap {
		if m.TargetUserID != targetUserID {
			continue
		}
		s, sok := d.persons[m.SourcePersonID]
		tgt, tok := d.persons[m.TargetPersonID]
		if sok && tok && s.ThumbnailPath != "" && tgt.ThumbnailPath == "" {
			out = append(out, mirror.PersonThumbnailGap{
				SourcePersonID:      m.SourcePersonID,
				TargetPersonID:      m.TargetPersonID,
				SourceThumbnailPath: s.ThumbnailPath,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetPersonID.String() < out[j].TargetPersonID.String()
	})
	return out, nil
}

func (t *memTx) UpdatePersonThumbnail(_ context.Context, personID uuid.UUID, path string) error {
	d := t.data()
	if p, ok := d.persons[personID]; ok {
		p.ThumbnailPath = path
		d.persons[personID] = p
	}
	return nil
}

func (t *memTx) ReassignedFaces(_ context.Context, job mirror.SyncJob) ([]mirror.FaceReassignment, error) {
	d := t.data()
	var out []mirror.FaceReassignment
	for _, m := range d.assetMap {
		if m.SourceUserID != job.SourceUserID || m.TargetUserID != job.TargetUserID {
			continue
		}
		for _, sf := range d.faces {
			if sf.AssetID != m.SourceAssetID || sf.DeletedAt != nil {
				continue
			}
			for _, tf := range d.faces {
				if tf.AssetID != m.TargetAssetID || tf.DeletedAt != nil || tf.Bounds != sf.Bounds {
					continue
				}
				var expected *uuid.UUID
				if sf.PersonID != nil {
					if pm, ok := d.personMap[personMapKey{*sf.PersonID, m.TargetUserID}]; ok {
						id := pm.TargetPersonID
						expected = &id
					}
				}
				if !uuidPtrEqual(tf.PersonID, expected) {
					out = append(out, mirror.FaceReassignment{
						TargetFaceID:    tf.ID,
						SourcePersonID:  sf.PersonID,
						CurrentPersonID: tf.PersonID,
						SourceUserID:    m.SourceUserID,
						TargetUserID:    m.TargetUserID,
					})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetFaceID.String() < out[j].TargetFaceID.String()
	})
	return out, nil
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (t *memTx) UpdateFacePerson(_ context.Context, faceID uuid.UUID, personID *uuid.UUID) error {
	d := t.data()
	if f, ok := d.faces[faceID]; ok {
		f.PersonID = personID
		d.faces[faceID] = f
	}
	return nil
}

// Albums

func (t *memTx) BackfillAlbum(_ context.Context, albumID uuid.UUID, job mirror.SyncJob) (int, error) {
	d := t.data()
	added := 0
	for _, m := range d.assetMap {
		if m.SourceUserID != job.SourceUserID || m.TargetUserID != job.TargetUserID {
			continue
		}
		key := albumAssetKey{albumID, m.TargetAssetID}
		if _, ok := d.albumAssets[key]; !ok {
			d.albumAssets[key] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (t *memTx) TouchAlbum(_ context.Context, albumID uuid.UUID, at time.Time) error {
	d := t.data()
	if a, ok := d.albums[albumID]; ok {
		a.UpdatedAt = at
		d.albums[albumID] = a
	}
	return nil
}

// Cleanup

func (t *memTx) DefunctMappings(_ context.Context, job mirror.SyncJob) ([]mirror.AssetMapping, error) {
	d := t.data()
	var out []mirror.AssetMapping
	for _, m := range d.assetMap {
		if m.SourceUserID != job.SourceUserID || m.TargetUserID != job.TargetUserID {
			continue
		}
		a, ok := d.assets[m.SourceAssetID]
		if !ok || a.DeletedAt != nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceAssetID.String() < out[j].SourceAssetID.String()
	})
	return out, nil
}

func (t *memTx) AssetFilePaths(_ context.Context, assetID uuid.UUID) ([]string, error) {
	files, _ := t.AssetFiles(context.Background(), assetID)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

func (t *memTx) DeleteAlbumMemberships(_ context.Context, assetID uuid.UUID) error {
	d := t.data()
	for key := range d.albumAssets {
		if key.AssetID == assetID {
			delete(d.albumAssets, key)
		}
	}
	return nil
}

func (t *memTx) DeleteAsset(_ context.Context, assetID uuid.UUID) error {
	d := t.data()
	delete(d.assets, assetID)
	delete(d.exif, assetID)
	delete(d.jobStatus, assetID)
	delete(d.smartSearch, assetID)
	for id, f := range d.assetFiles {
		if f.AssetID == assetID {
			delete(d.assetFiles, id)
		}
	}
	for id, f := range d.faces {
		if f.AssetID == assetID {
			delete(d.faces, id)
			delete(d.faceSearch, id)
		}
	}
	return nil
}

func (t *memTx) DeleteAssetMapping(_ context.Context, sourceAssetID uuid.UUID) error {
	delete(t.data().assetMap, sourceAssetID)
	return nil
}

func (t *memTx) OrphanPersons(_ context.Context, targetUserID uuid.UUID) ([]mirror.OrphanPerson, error) {
	d := t.data()
	var out []mirror.OrphanPerson
	for _, m := range d.personMap {
		if m.TargetUserID != targetUserID {
			continue
		}
		referenced := false
		for _, f := range d.faces {
			if f.PersonID != nil && *f.PersonID == m.TargetPersonID && f.DeletedAt == nil {
				referenced = true
				break
			}
		}
		if referenced {
			continue
		}
		thumbnail := ""
		if p, ok := d.persons[m.TargetPersonID]; ok {
			thumbnail = p.ThumbnailPath
		}
		out = append(out, mirror.OrphanPerson{
			SourcePersonID: m.SourcePersonID,
			TargetPersonID: m.TargetPersonID,
			TargetUserID:   m.TargetUserID,
			ThumbnailPath:  thumbnail,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetPersonID.String() < out[j].TargetPersonID.String()
	})
	return out, nil
}

func (t *memTx) DeletePerson(_ context.Context, personID uuid.UUID) error {
	d := t.data()
	delete(d.persons, personID)
	// Parity with the foreign key's ON DELETE SET NULL.
	for id, f := range d.faces {
		if f.PersonID != nil && *f.PersonID == personID {
			f.PersonID = nil
			d.faces[id] = f
		}
	}
	return nil
}

func (t *memTx) DeletePersonMapping(_ context.Context, sourcePersonID, targetUserID uuid.UUID) error {
	delete(t.data().personMap, personMapKey{sourcePersonID, targetUserID})
	return nil
}

// Admin / reporting

func (t *memTx) MappingsForTarget(_ context.Context, targetUserID uuid.UUID) ([]mirror.AssetMapping, error) {
	var out []mirror.AssetMapping
	for _, m := range t.data().assetMap {
		if m.TargetUserID == targetUserID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceAssetID.String() < out[j].SourceAssetID.String()
	})
	return out, nil
}

func (t *memTx) DuplicateSyncedAssets(_ context.Context, targetUserID uuid.UUID, matchTime bool) ([]mirror.DuplicatePair, error) {
	d := t.data()
	var out []mirror.DuplicatePair
	for _, m := range d.assetMap {
		if m.TargetUserID != targetUserID {
			continue
		}
		ta, ok := d.assets[m.TargetAssetID]
		if !ok || ta.DeletedAt != nil {
			continue
		}
		te, ok := d.exif[ta.ID]
		if !ok || te.DateTimeOriginal == nil {
			continue
		}
		for oid, oa := range d.assets {
			if oid == ta.ID || oa.OwnerID != targetUserID || oa.DeletedAt != nil {
				continue
			}
			if uuidPtrEqual(oa.LibraryID, ta.LibraryID) {
				continue
			}
			oe, ok := d.exif[oid]
			if !ok || oe.DateTimeOriginal == nil {
				continue
			}
			if mirror.FilenameStem(ta.OriginalFileName) != mirror.FilenameStem(oa.OriginalFileName) {
				continue
			}
			if !captureTimesMatch(te, oe, matchTime) {
				continue
			}
			out = append(out, mirror.DuplicatePair{
				SourceAssetID:    m.SourceAssetID,
				TargetAssetID:    m.TargetAssetID,
				SyncedFileName:   ta.OriginalFileName,
				SyncedPath:       ta.OriginalPath,
				OriginalAssetID:  oid,
				OriginalFileName: oa.OriginalFileName,
				OriginalPath:     oa.OriginalPath,
				CaptureTime:      *te.DateTimeOriginal,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaptureTime.Before(out[j].CaptureTime) })
	return out, nil
}

// captureTimesMatch compares capture times the way the dedup utility does:
// by wall-clock second when matchTime is set (normalizing each side with its
// stored time zone), otherwise by calendar date.
func captureTimesMatch(a, b memExif, matchTime bool) bool {
	at := wallClock(*a.DateTimeOriginal, a.TimeZone)
	bt := wallClock(*b.DateTimeOriginal, b.TimeZone)
	if matchTime {
		return at.Truncate(time.Second).Equal(bt.Truncate(time.Second))
	}
	ay, am, ad := at.Date()
	by, bm, bd := bt.Date()
	return ay == by && am == bm && ad == bd
}

func wallClock(t time.Time, tz *string) time.Time {
	loc := time.UTC
	if tz != nil {
		if l, err := time.LoadLocation(*tz); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
}

func (t *memTx) PersonMappingsForTarget(_ context.Context, targetUserID uuid.UUID) ([]mirror.PersonMapping, error) {
	var out []mirror.PersonMapping
	for _, m := range t.data().personMap {
		if m.TargetUserID == targetUserID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourcePersonID.String() < out[j].SourcePersonID.String()
	})
	return out, nil
}

func (t *memTx) TargetSummaries(_ context.Context) ([]mirror.TargetSummary, error) {
	d := t.data()
	byTarget := make(map[uuid.UUID]*mirror.TargetSummary)
	for _, m := range d.assetMap {
		s := byTarget[m.TargetUserID]
		if s == nil {
			s = &mirror.TargetSummary{TargetUserID: m.TargetUserID}
			if u, ok := d.users[m.TargetUserID]; ok {
				s.Email = u.Email
				s.Name = u.Name
			}
			byTarget[m.TargetUserID] = s
		}
		s.Mapped++
	}
	for _, m := range d.personMap {
		s := byTarget[m.TargetUserID]
		if s == nil {
			s = &mirror.TargetSummary{TargetUserID: m.TargetUserID}
			if u, ok := d.users[m.TargetUserID]; ok {
				s.Email = u.Email
				s.Name = u.Name
			}
			byTarget[m.TargetUserID] = s
		}
		s.Persons++
	}
	var out []mirror.TargetSummary
	for _, s := range byTarget {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TargetUserID.String() < out[j].TargetUserID.String()
	})
	return out, nil
}

func (t *memTx) SkippedCount(_ context.Context) (int, error) {
	return len(t.data().skips), nil
}

// Startup validation

func (t *memTx) UserExists(_ context.Context, id uuid.UUID) (bool, error) {
	u, ok := t.data().users[id]
	return ok && !u.Deleted, nil
}

func (t *memTx) LibraryOwner(_ context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	l, ok := t.data().libraries[id]
	if !ok || l.Deleted {
		return uuid.Nil, false, nil
	}
	return l.OwnerID, true, nil
}

func (t *memTx) AlbumOwner(_ context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	a, ok := t.data().albums[id]
	if !ok || a.Deleted {
		return uuid.Nil, false, nil
	}
	return a.OwnerID, true, nil
}

var _ mirror.Store = (*MemoryStore)(nil)
var _ mirror.Tx = (*memTx)(nil)
