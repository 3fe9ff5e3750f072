package mirror_test

import (
	"testing"

	"github.com/google/uuid"

	"mirrorsync/internal/mirror"
)

func TestRemapAssetPath(t *testing.T) {
	t.Parallel()
	job := mirror.SyncJob{
		SourcePathPrefix: "/upload/library/admin/",
		TargetPathPrefix: "/upload/library/partner/",
	}

	t.Run("substitutes the prefix", func(t *testing.T) {
		t.Parallel()
		got, err := mirror.RemapAssetPath("/upload/library/admin/2023/beach.jpg", job)
		if err != nil {
			t.Fatalf("RemapAssetPath() error = %v", err)
		}
		want := "/upload/library/partner/2023/beach.jpg"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("rejects escape via dot-dot", func(t *testing.T) {
		t.Parallel()
		_, err := mirror.RemapAssetPath("/upload/library/admin/../../../etc/passwd", job)
		if err == nil {
			t.Fatal("expected error for path escaping the target prefix")
		}
	})

	t.Run("normalizes paths outside the prefix", func(t *testing.T) {
		t.Parallel()
		got, err := mirror.RemapAssetPath("/elsewhere/photo.jpg", job)
		if err != nil {
			t.Fatalf("RemapAssetPath() error = %v", err)
		}
		if got != "/elsewhere/photo.jpg" {
			t.Errorf("got %q, want unchanged path", got)
		}
	})
}

func TestRemapArtifactPath(t *testing.T) {
	t.Parallel()

	srcUser := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	tgtUser := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	srcAsset := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	tgtAsset := uuid.MustParse("44444444-4444-4444-4444-444444444444")

	t.Run("replaces user directory and asset filename prefix", func(t *testing.T) {
		t.Parallel()
		in := "/upload/thumbs/" + srcUser.String() + "/" + srcAsset.String() + "-thumbnail.webp"
		want := "/upload/thumbs/" + tgtUser.String() + "/" + tgtAsset.String() + "-thumbnail.webp"
		got := mirror.RemapArtifactPath(in, srcUser, tgtUser, srcAsset, tgtAsset)
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("leaves unrelated components alone", func(t *testing.T) {
		t.Parallel()
		in := "/upload/thumbs/" + srcUser.String() + "/other-file.webp"
		want := "/upload/thumbs/" + tgtUser.String() + "/other-file.webp"
		got := mirror.RemapArtifactPath(in, srcUser, tgtUser, srcAsset, tgtAsset)
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})
}

func TestPersonThumbnailPath(t *testing.T) {
	t.Parallel()
	userID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	personID := uuid.MustParse("abcdef00-0000-0000-0000-000000000000")

	got := mirror.PersonThumbnailPath("/upload", userID, personID, ".jpeg")
	want := "/upload/thumbs/" + userID.String() + "/ab/cd/" + personID.String() + ".jpeg"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEnsureWithinRoot(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"inside root", "/upload/thumbs/x.webp", false},
		{"root itself", "/upload", false},
		{"sibling with shared prefix", "/uploads/x.webp", true},
		{"escape via dot-dot", "/upload/../etc/passwd", true},
		{"outside root", "/etc/passwd", true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := mirror.EnsureWithinRoot("/upload", tc.path)
			if (err != nil) != tc.wantErr {
				t.Errorf("EnsureWithinRoot(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
		})
	}
}

func TestFilenameStem(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"sunset.jpg", "sunset"},
		{"sunset.HEIC", "sunset"},
		{"archive.tar.gz", "archive.tar"},
		{"noext", "noext"},
		{".hidden", ".hidden"},
	}
	for _, tc := range cases {
		if got := mirror.FilenameStem(tc.in); got != tc.want {
			t.Errorf("FilenameStem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
