package database

import (
	"time"

	"github.com/google/uuid"

	"mirrorsync/internal/mirror"
)

// Seed and inspection helpers for tests. They manipulate the store state
// directly, standing in for the rows the photo server itself would write.

// SeedUser adds a user.
func (s *MemoryStore) SeedUser(id uuid.UUID, email, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[id] = memUser{Email: email, Name: name}
}

// SeedLibrary adds a library owned by ownerID.
func (s *MemoryStore) SeedLibrary(id, ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.libraries[id] = memLibrary{OwnerID: ownerID}
}

// SeedAlbum adds an album owned by ownerID.
func (s *MemoryStore) SeedAlbum(id, ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.albums[id] = memAlbum{OwnerID: ownerID}
}

// SeedAsset adds an asset row as the photo server would leave it after full
// processing: job status complete and a search embedding present.
func (s *MemoryStore) SeedAsset(a mirror.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.assets[a.ID] = a
	now := time.Now().UTC()
	s.data.jobStatus[a.ID] = memJobStatus{
		MetadataExtractedAt: &now,
		FacesRecognizedAt:   &now,
	}
	s.data.smartSearch[a.ID] = []float32{0.1, 0.2, 0.3}
}

// SeedUnprocessedAsset adds an asset row with no job status or embedding,
// as the server leaves assets mid-ingest.
func (s *MemoryStore) SeedUnprocessedAsset(a mirror.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.assets[a.ID] = a
}

// SeedAssetFile adds a generated artifact row.
func (s *MemoryStore) SeedAssetFile(f mirror.AssetFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.assetFiles[f.ID] = f
}

// SeedExif adds an EXIF row for the asset.
func (s *MemoryStore) SeedExif(assetID uuid.UUID, captured time.Time, timeZone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memExif{DateTimeOriginal: &captured}
	if timeZone != "" {
		e.TimeZone = &timeZone
	}
	s.data.exif[assetID] = e
}

// SeedFace adds a face row plus its recognition embedding.
func (s *MemoryStore) SeedFace(f mirror.Face) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.faces[f.ID] = f
	s.data.faceSearch[f.ID] = []float32{0.4, 0.5}
}

// SeedPerson adds a person row.
func (s *MemoryStore) SeedPerson(p mirror.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.persons[p.ID] = p
}

// SoftDeleteAsset sets the asset's deletion timestamp, the way the server
// trashes an asset.
func (s *MemoryStore) SoftDeleteAsset(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.data.assets[id]; ok {
		a.DeletedAt = &at
		s.data.assets[id] = a
	}
}

// ReassignFace points a face at a different person, simulating a
// source-side merge or manual correction.
func (s *MemoryStore) ReassignFace(faceID uuid.UUID, personID *uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.data.faces[faceID]; ok {
		f.PersonID = personID
		f.UpdatedAt = at
		s.data.faces[faceID] = f
	}
}

// RenamePerson updates a source person's name.
func (s *MemoryStore) RenamePerson(personID uuid.UUID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data.persons[personID]; ok {
		p.Name = name
		s.data.persons[personID] = p
	}
}

// SetPersonThumbnail updates a person's thumbnail path.
func (s *MemoryStore) SetPersonThumbnail(personID uuid.UUID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data.persons[personID]; ok {
		p.ThumbnailPath = path
		s.data.persons[personID] = p
	}
}

// SetPersonHidden updates a person's visibility flag.
func (s *MemoryStore) SetPersonHidden(personID uuid.UUID, hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data.persons[personID]; ok {
		p.IsHidden = hidden
		s.data.persons[personID] = p
	}
}

// Asset returns the asset row, if present.
func (s *MemoryStore) Asset(id uuid.UUID) (mirror.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.assets[id]
	return a, ok
}

// AssetsOwnedBy returns every live asset owned by the user.
func (s *MemoryStore) AssetsOwnedBy(ownerID uuid.UUID) []mirror.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mirror.Asset
	for _, a := range s.data.assets {
		if a.OwnerID == ownerID && a.DeletedAt == nil {
			out = append(out, a)
		}
	}
	return out
}

// Mapping returns the asset mapping for a source asset, if present.
func (s *MemoryStore) Mapping(sourceAssetID uuid.UUID) (mirror.AssetMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.assetMap[sourceAssetID]
	return m, ok
}

// MappingCount returns the number of asset mappings.
func (s *MemoryStore) MappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.assetMap)
}

// Person returns the person row, if present.
func (s *MemoryStore) Person(id uuid.UUID) (mirror.Person, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.persons[id]
	return p, ok
}

// PersonMappingFor returns a source person's mapping for one target user.
func (s *MemoryStore) PersonMappingFor(sourcePersonID, targetUserID uuid.UUID) (mirror.PersonMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.personMap[personMapKey{sourcePersonID, targetUserID}]
	return m, ok
}

// FacesOf returns every live face on the asset.
func (s *MemoryStore) FacesOf(assetID uuid.UUID) []mirror.Face {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mirror.Face
	for _, f := range s.data.faces {
		if f.AssetID == assetID && f.DeletedAt == nil {
			out = append(out, f)
		}
	}
	return out
}

// Skip returns the skip entry for a source asset, if present.
func (s *MemoryStore) Skip(sourceAssetID uuid.UUID) (mirror.SkipEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.skips[sourceAssetID]
	return e, ok
}

// InAlbum reports whether the album contains the asset.
func (s *MemoryStore) InAlbum(albumID, assetID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.albumAssets[albumAssetKey{albumID, assetID}]
	return ok
}

// HasExif reports whether the asset has an EXIF row.
func (s *MemoryStore) HasExif(assetID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.exif[assetID]
	return ok
}

// HasSearchEmbedding reports whether the asset has a search embedding.
func (s *MemoryStore) HasSearchEmbedding(assetID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.smartSearch[assetID]
	return ok
}

// HasFaceEmbedding reports whether the face has a recognition embedding.
func (s *MemoryStore) HasFaceEmbedding(faceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.faceSearch[faceID]
	return ok
}

// FilesOf returns every artifact row of the asset.
func (s *MemoryStore) FilesOf(assetID uuid.UUID) []mirror.AssetFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mirror.AssetFile
	for _, f := range s.data.assetFiles {
		if f.AssetID == assetID {
			out = append(out, f)
		}
	}
	return out
}
