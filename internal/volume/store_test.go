//go:build linux
// +build linux

package volume

import (
	"os"
	"path/filepath"
	"testing"
)

func mustNewVolumeStore(t *testing.T) VolumeStore {
	t.Helper()
	s, err := NewVolumeStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewVolumeStore: %v", err)
	}
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := mustNewVolumeStore(t)

	info, err := s.Create("data")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Name != "data" {
		t.Errorf("Name = %q, want %q", info.Name, "data")
	}
	if filepath.Base(info.Path) != "_data" {
		t.Errorf("Path = %q, want a _data leaf directory", info.Path)
	}
	if _, err := os.Stat(info.Path); err != nil {
		t.Errorf("volume data directory not created: %v", err)
	}

	got, err := s.Get("data")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Path != info.Path {
		t.Errorf("Get returned Path = %q, want %q", got.Path, info.Path)
	}
}

func TestCreateRejectsInvalidName(t *testing.T) {
	s := mustNewVolumeStore(t)

	if _, err := s.Create("../escape"); err == nil {
		t.Fatal("expected an invalid volume name to be rejected")
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	s := mustNewVolumeStore(t)

	if _, err := s.Create("data"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := s.Create("data"); err == nil {
		t.Fatal("expected a duplicate volume name to be rejected")
	}
}

func TestListReflectsCreatedVolumes(t *testing.T) {
	s := mustNewVolumeStore(t)

	if _, err := s.Create("a"); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := s.Create("b"); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	volumes, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(volumes) != 2 {
		t.Fatalf("List returned %d volumes, want 2", len(volumes))
	}
}

func TestDeleteRemovesDataAndRegistryEntry(t *testing.T) {
	s := mustNewVolumeStore(t)

	info, err := s.Create("data")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Delete("data"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("data") {
		t.Error("Exists reports true for a deleted volume")
	}
	if _, err := os.Stat(filepath.Dir(info.Path)); !os.IsNotExist(err) {
		t.Error("volume directory still exists after Delete")
	}
}

func TestDeleteNonexistentVolumeErrors(t *testing.T) {
	s := mustNewVolumeStore(t)

	if err := s.Delete("nope"); err == nil {
		t.Fatal("expected deleting an unknown volume to error")
	}
}

func TestGetPathIsStableAcrossRestarts(t *testing.T) {
	root := t.TempDir()

	s1, err := NewVolumeStore(root)
	if err != nil {
		t.Fatalf("NewVolumeStore: %v", err)
	}
	if _, err := s1.Create("data"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	path1 := s1.GetPath("data")

	s2, err := NewVolumeStore(root)
	if err != nil {
		t.Fatalf("NewVolumeStore (reopen): %v", err)
	}
	path2 := s2.GetPath("data")

	if path1 != path2 {
		t.Errorf("GetPath differs across store instances: %q vs %q", path1, path2)
	}
}
