//go:build linux
// +build linux

package state

import (
	"testing"

	"cubo/pkg/idutil"
)

func mustNewStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, name string) *ContainerState {
	t.Helper()
	cfg := &ContainerConfig{
		ID:      idutil.GenerateID(),
		Command: []string{"/bin/sh"},
	}
	st, err := s.Create(cfg, name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return st
}

func TestCreateAndGetByFullID(t *testing.T) {
	s := mustNewStore(t)
	created := mustCreate(t, s, "")

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
	if got.Status != StatusCreating {
		t.Errorf("Status = %q, want %q", got.Status, StatusCreating)
	}
}

func TestGetByName(t *testing.T) {
	s := mustNewStore(t)
	created := mustCreate(t, s, "my_container")

	got, err := s.Get("my_container")
	if err != nil {
		t.Fatalf("Get by name: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
}

func TestGetByShortPrefix(t *testing.T) {
	s := mustNewStore(t)
	created := mustCreate(t, s, "")

	got, err := s.Get(created.ID[:8])
	if err != nil {
		t.Fatalf("Get by prefix: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
}

func TestGetPrefixTooShort(t *testing.T) {
	s := mustNewStore(t)
	mustCreate(t, s, "")

	if _, err := s.Get("ab"); err == nil {
		t.Fatal("expected error for a prefix under idutil.MinPrefixLength")
	}
}

func TestGetAmbiguousPrefix(t *testing.T) {
	s := mustNewStore(t)

	base := idutil.GenerateID()
	prefix := base[:8]
	idA := prefix + "a" + base[9:]
	idB := prefix + "b" + base[9:]

	if _, err := s.Create(&ContainerConfig{ID: idA, Command: []string{"/bin/sh"}}, ""); err != nil {
		t.Fatalf("Create idA: %v", err)
	}
	if _, err := s.Create(&ContainerConfig{ID: idB, Command: []string{"/bin/sh"}}, ""); err != nil {
		t.Fatalf("Create idB: %v", err)
	}

	if _, err := s.Get(prefix); err == nil {
		t.Fatal("expected ambiguous-prefix error")
	}
}

func TestListAllVsRunningOnly(t *testing.T) {
	s := mustNewStore(t)
	a := mustCreate(t, s, "")
	_ = mustCreate(t, s, "")

	if err := a.SetRunning(1); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}

	running, err := s.List(false)
	if err != nil {
		t.Fatalf("List(false): %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("List(false) returned %d entries, want 1", len(running))
	}

	all, err := s.List(true)
	if err != nil {
		t.Fatalf("List(true): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List(true) returned %d entries, want 2", len(all))
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := mustNewStore(t)
	created := mustCreate(t, s, "")

	if err := s.Delete(created.ID); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := s.Delete(created.ID); err != nil {
		t.Fatalf("second Delete on an already-removed container should be a no-op: %v", err)
	}
}

func TestDeleteRefusesRunningContainer(t *testing.T) {
	s := mustNewStore(t)
	created := mustCreate(t, s, "")

	// Use pid 1 (init, always alive) so IsRunning's liveness probe sees a
	// live process without actually spawning a container.
	if err := created.SetRunning(1); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}

	if err := s.Delete(created.ID); err == nil {
		t.Fatal("expected Delete to refuse a running container")
	}
}

func TestNameUniqueAcrossContainers(t *testing.T) {
	s := mustNewStore(t)
	mustCreate(t, s, "taken")

	cfg := &ContainerConfig{ID: idutil.GenerateID(), Command: []string{"/bin/sh"}}
	if _, err := s.Create(cfg, "taken"); err == nil {
		t.Fatal("expected name collision to be rejected")
	}
}

func TestOrphanedRunningRecordSelfHeals(t *testing.T) {
	s := mustNewStore(t)
	created := mustCreate(t, s, "")

	// pid 999999999 is above any pid_max, so it never matches a real
	// process; IsRunning should detect it as gone and transition the state
	// to "stopped" rather than "running".
	created.Status = StatusRunning
	created.Pid = 999999999
	if err := created.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsRunning() {
		t.Fatal("expected IsRunning to be false for a dead pid")
	}
	if got.Status != StatusStopped {
		t.Errorf("Status = %q, want %q after self-heal", got.Status, StatusStopped)
	}
}
