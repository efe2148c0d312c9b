//go:build linux
// +build linux

package image

import (
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func mustNewStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func putTestImage(t *testing.T, s *Store, ref string) *Image {
	t.Helper()

	layerData := []byte("fake layer contents for " + ref)
	layerDigest := digest.FromBytes(layerData)
	if err := s.PutBlob(ref, layerDigest, strings.NewReader(string(layerData))); err != nil {
		t.Fatalf("PutBlob layer: %v", err)
	}

	now := time.Now()
	config := &ocispec.Image{
		Architecture: "amd64",
		OS:           "linux",
		Created:      &now,
	}
	configDigest, err := s.PutConfig(ref, config)
	if err != nil {
		t.Fatalf("PutConfig: %v", err)
	}

	manifest := &ocispec.Manifest{
		Versioned: ocispec.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.Descriptor{Digest: configDigest},
		Layers: []ocispec.Descriptor{
			{Digest: layerDigest, Size: int64(len(layerData))},
		},
	}
	if err := s.PutManifest(ref, manifest); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}

	img, err := s.Get(ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return img
}

func TestPutAndGetImage(t *testing.T) {
	s := mustNewStore(t)
	img := putTestImage(t, s, "alpine:latest")

	if img.Architecture != "amd64" {
		t.Errorf("Architecture = %q, want amd64", img.Architecture)
	}
	if len(img.Manifest.Layers) != 1 {
		t.Errorf("Layers = %d, want 1", len(img.Manifest.Layers))
	}
	if !s.Exists("alpine:latest") {
		t.Error("Exists(alpine:latest) = false, want true")
	}
}

func TestListReturnsOneSummaryPerTag(t *testing.T) {
	s := mustNewStore(t)
	putTestImage(t, s, "alpine:latest")
	putTestImage(t, s, "busybox:1.36")

	summaries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(summaries))
	}
}

func TestRemoveRefusesWhenInUse(t *testing.T) {
	s := mustNewStore(t)
	putTestImage(t, s, "alpine:latest")

	err := s.Remove("alpine:latest", false, func(ref string) bool { return true })
	if err == nil {
		t.Fatal("Remove() with in-use reference should have failed")
	}

	if err := s.Remove("alpine:latest", true, func(ref string) bool { return true }); err != nil {
		t.Fatalf("force Remove: %v", err)
	}
	if s.Exists("alpine:latest") {
		t.Error("image still exists after forced removal")
	}
}

func TestPutBlobDigestMismatchRejected(t *testing.T) {
	s := mustNewStore(t)
	wrongDigest := digest.FromString("something else")
	err := s.PutBlob("alpine:latest", wrongDigest, strings.NewReader("actual content"))
	if err == nil {
		t.Fatal("PutBlob with mismatched digest should have failed")
	}
}

func TestParseReferenceDefaults(t *testing.T) {
	cases := []struct {
		in         string
		repository string
		tag        string
	}{
		{"alpine", "library/alpine", "latest"},
		{"alpine:3.18", "library/alpine", "3.18"},
		{"ghcr.io/owner/img:v1", "owner/img", "v1"},
	}
	for _, c := range cases {
		ref, err := ParseReference(c.in)
		if err != nil {
			t.Fatalf("ParseReference(%q): %v", c.in, err)
		}
		if ref.Repository != c.repository || ref.Tag != c.tag {
			t.Errorf("ParseReference(%q) = %+v, want repository=%q tag=%q", c.in, ref, c.repository, c.tag)
		}
	}
}
