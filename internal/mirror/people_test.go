package mirror_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"mirrorsync/internal/mirror"
	"mirrorsync/internal/testutil"
)

func TestIncrementalFaceSyncAdvancesWatermark(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	person := f.seedSourcePerson("Alice")
	source := f.seedSourceAsset("beach.jpg", "checksum-1")
	f.seedFace(source.ID, &person.ID, mirror.BoundingBox{X1: 1, Y1: 1, X2: 2, Y2: 2},
		f.clock.Now().Add(-time.Hour))
	f.run(t)

	target := f.mirrorOf(t, source.ID)
	if got := len(f.store.FacesOf(target.ID)); got != 1 {
		t.Fatalf("faces after initial sync = %d, want 1", got)
	}

	// The source recognizer finds a second face later.
	changed := f.clock.Now().Add(2 * time.Hour)
	f.seedFace(source.ID, &person.ID, mirror.BoundingBox{X1: 50, Y1: 50, X2: 90, Y2: 90}, changed)

	stats := f.run(t)
	if stats.FacesCopied != 1 {
		t.Fatalf("FacesCopied = %d, want 1", stats.FacesCopied)
	}
	if got := len(f.store.FacesOf(target.ID)); got != 2 {
		t.Errorf("faces after incremental sync = %d, want 2", got)
	}

	// Watermark lands on the newest source change, not on wall-clock time.
	m, _ := f.store.Mapping(source.ID)
	if !m.SyncedAt.Equal(changed) {
		t.Errorf("watermark = %v, want %v", m.SyncedAt, changed)
	}

	// And the asset drops out of the next scan.
	if stats := f.run(t); !stats.Empty() {
		t.Errorf("cycle after catch-up = %+v, want empty", stats)
	}
}

func TestIncrementalSyncDoesNotDuplicateFaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	person := f.seedSourcePerson("Alice")
	source := f.seedSourceAsset("beach.jpg", "checksum-1")
	bounds := mirror.BoundingBox{X1: 1, Y1: 1, X2: 2, Y2: 2}
	face := f.seedFace(source.ID, &person.ID, bounds, f.clock.Now().Add(-time.Hour))
	f.run(t)

	// The same region is touched again at the source, e.g. by re-running
	// recognition. Same bounds, newer timestamp.
	f.store.ReassignFace(face.ID, &person.ID, f.clock.Now().Add(time.Hour))

	stats := f.run(t)
	if stats.FacesCopied != 0 {
		t.Errorf("FacesCopied = %d, want 0", stats.FacesCopied)
	}
	target := f.mirrorOf(t, source.ID)
	if got := len(f.store.FacesOf(target.ID)); got != 1 {
		t.Errorf("faces = %d, want 1 (no duplicate for same bounds)", got)
	}
}

func TestPersonRenameAndVisibilityPropagate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	person := f.seedSourcePerson("")
	source := f.seedSourceAsset("beach.jpg", "checksum-1")
	f.seedFace(source.ID, &person.ID, mirror.BoundingBox{X1: 1, Y1: 1, X2: 2, Y2: 2},
		f.clock.Now().Add(-time.Hour))
	f.run(t)

	// The source user names and hides the person afterwards.
	f.store.RenamePerson(person.ID, "Grandma")
	f.store.SetPersonHidden(person.ID, true)

	stats := f.run(t)
	if stats.PersonsRenamed != 1 {
		t.Errorf("PersonsRenamed = %d, want 1", stats.PersonsRenamed)
	}
	if stats.PersonsUpdated != 1 {
		t.Errorf("PersonsUpdated = %d, want 1", stats.PersonsUpdated)
	}

	pm, _ := f.store.PersonMappingFor(person.ID, f.targetUser)
	mirrored, _ := f.store.Person(pm.TargetPersonID)
	if mirrored.Name != "Grandma" {
		t.Errorf("mirrored name = %q, want Grandma", mirrored.Name)
	}
	if !mirrored.IsHidden {
		t.Error("mirrored person should be hidden")
	}
}

func TestPersonThumbnailRepair(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Person exists before the source generated its thumbnail.
	person := mirror.Person{ID: uuid.New(), OwnerID: f.sourceUser, Name: "Alice"}
	f.store.SeedPerson(person)

	source := f.seedSourceAsset("beach.jpg", "checksum-1")
	f.seedFace(source.ID, &person.ID, mirror.BoundingBox{X1: 1, Y1: 1, X2: 2, Y2: 2},
		f.clock.Now().Add(-time.Hour))
	f.run(t)

	pm, _ := f.store.PersonMappingFor(person.ID, f.targetUser)
	if got, _ := f.store.Person(pm.TargetPersonID); got.ThumbnailPath != "" {
		t.Fatalf("mirrored thumbnail = %q, want empty before repair", got.ThumbnailPath)
	}

	// The source generates the thumbnail later.
	pid := person.ID.String()
	f.store.SetPersonThumbnail(person.ID, fmt.Sprintf("%s/thumbs/%s/%s/%s/%s.jpeg",
		uploadRoot, f.sourceUser, pid[:2], pid[2:4], pid))

	stats := f.run(t)
	if stats.ThumbsRepaired != 1 {
		t.Fatalf("ThumbsRepaired = %d, want 1", stats.ThumbsRepaired)
	}
	mirrored, _ := f.store.Person(pm.TargetPersonID)
	if mirrored.ThumbnailPath == "" {
		t.Fatal("mirrored thumbnail still empty after repair")
	}
	if !f.linker.Linked(mirrored.ThumbnailPath) {
		t.Error("thumbnail hardlink missing")
	}
}

func TestReassignmentFailureRollsBackThumbnailLink(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	alice := f.seedSourcePerson("Alice")
	source := f.seedSourceAsset("beach.jpg", "checksum-1")
	face := f.seedFace(source.ID, &alice.ID, mirror.BoundingBox{X1: 1, Y1: 1, X2: 2, Y2: 2},
		f.clock.Now().Add(-time.Hour))
	f.run(t)

	alicePM, _ := f.store.PersonMappingFor(alice.ID, f.targetUser)
	linksBefore := f.linker.LinkCount()

	// The source re-clusters the face onto a new person. Occupy the id the
	// generator hands out next, so creating Bob's mirror fails after his
	// thumbnail hardlink already exists.
	bob := f.seedSourcePerson("Bob")
	f.store.ReassignFace(face.ID, &bob.ID, f.clock.Now().Add(time.Hour))
	f.store.SeedPerson(mirror.Person{
		ID:      testutil.SequentialUUID(5),
		OwnerID: f.targetUser,
		Name:    "unrelated",
	})

	stats := f.run(t)

	if stats.FacesReassigned != 0 {
		t.Errorf("FacesReassigned = %d, want 0", stats.FacesReassigned)
	}
	if got := f.linker.LinkCount(); got != linksBefore {
		t.Errorf("links after rollback = %d, want %d", got, linksBefore)
	}
	if _, ok := f.store.PersonMappingFor(bob.ID, f.targetUser); ok {
		t.Error("failed person creation must not leave a mapping")
	}
	target := f.mirrorOf(t, source.ID)
	faces := f.store.FacesOf(target.ID)
	if len(faces) != 1 || faces[0].PersonID == nil || *faces[0].PersonID != alicePM.TargetPersonID {
		t.Error("mirrored face should keep its previous person after rollback")
	}
}

func TestSourceMergeRepointsFacesAndRemovesOrphan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	alice := f.seedSourcePerson("Alice")
	aliceDupe := f.seedSourcePerson("Alice?")

	first := f.seedSourceAsset("one.jpg", "c1")
	second := f.seedSourceAsset("two.jpg", "c2")
	f.seedFace(first.ID, &alice.ID, mirror.BoundingBox{X1: 1, Y1: 1, X2: 2, Y2: 2},
		f.clock.Now().Add(-time.Hour))
	dupeFace := f.seedFace(second.ID, &aliceDupe.ID, mirror.BoundingBox{X1: 5, Y1: 5, X2: 9, Y2: 9},
		f.clock.Now().Add(-time.Hour))
	f.run(t)

	alicePM, _ := f.store.PersonMappingFor(alice.ID, f.targetUser)
	dupePM, ok := f.store.PersonMappingFor(aliceDupe.ID, f.targetUser)
	if !ok {
		t.Fatal("both source persons should be mirrored initially")
	}
	dupeMirror, _ := f.store.Person(dupePM.TargetPersonID)

	// The source user merges the duplicate cluster into Alice. The server
	// expresses this by re-pointing the faces; the duplicate person row
	// disappears from use.
	f.store.ReassignFace(dupeFace.ID, &alice.ID, f.clock.Now().Add(time.Hour))

	stats := f.run(t)
	if stats.FacesReassigned != 1 {
		t.Fatalf("FacesReassigned = %d, want 1", stats.FacesReassigned)
	}
	if stats.PersonsCleaned != 1 {
		t.Fatalf("PersonsCleaned = %d, want 1", stats.PersonsCleaned)
	}

	// The mirrored face follows the merge.
	secondMirror := f.mirrorOf(t, second.ID)
	faces := f.store.FacesOf(secondMirror.ID)
	if len(faces) != 1 {
		t.Fatalf("mirrored faces = %d, want 1", len(faces))
	}
	if faces[0].PersonID == nil || *faces[0].PersonID != alicePM.TargetPersonID {
		t.Error("mirrored face should point at the merged-into person")
	}

	// The orphaned mirror person is gone, mapping and thumbnail included.
	if _, ok := f.store.Person(dupePM.TargetPersonID); ok {
		t.Error("orphaned mirrored person should be deleted")
	}
	if _, ok := f.store.PersonMappingFor(aliceDupe.ID, f.targetUser); ok {
		t.Error("orphaned person mapping should be deleted")
	}
	if dupeMirror.ThumbnailPath != "" && f.linker.Linked(dupeMirror.ThumbnailPath) {
		t.Error("orphaned person thumbnail hardlink should be removed")
	}
}
