//go:build linux
// +build linux

package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cubo/pkg/idutil"
)

// DefaultRootDir is used only as a last resort; internal/config.ResolveRoot
// is the path callers should actually go through.
const DefaultRootDir = "/var/lib/cubo"

// RootDirEnvVar is read directly by NewStore when rootDir is empty, mirroring
// the precedence internal/config.ResolveRoot implements for the CLI layer.
const RootDirEnvVar = "CUBO_ROOT"

// Store manages the on-disk collection of container bundle directories
// under <rootDir>/containers/<id>/.
type Store struct {
	RootDir   string
	NameStore *NameStore
}

// NewStore opens (creating if necessary) the container state store rooted
// at rootDir. An empty rootDir falls back to $CUBO_ROOT, then
// DefaultRootDir. Opening the store reconciles every bundle: a "running"
// record whose pid is gone is set to "stopped" before NewStore returns.
func NewStore(rootDir string) (*Store, error) {
	if rootDir == "" {
		rootDir = os.Getenv(RootDirEnvVar)
	}
	if rootDir == "" {
		rootDir = DefaultRootDir
	}

	containersDir := filepath.Join(rootDir, "containers")
	if err := os.MkdirAll(containersDir, 0755); err != nil {
		return nil, fmt.Errorf("create containers directory: %w", err)
	}

	s := &Store{
		RootDir:   rootDir,
		NameStore: NewNameStore(rootDir),
	}
	// List loads every bundle and calls IsRunning, which heals dead records.
	_, _ = s.List(true)
	return s, nil
}

// ContainerDir returns the bundle directory for a container ID.
func (s *Store) ContainerDir(containerID string) string {
	return filepath.Join(s.RootDir, "containers", containerID)
}

// Create creates a container's bundle directory, persists config.json, and
// writes the initial "creating" state.json. If name is non-empty it is
// registered in the name store and recorded as an annotation.
func (s *Store) Create(cfg *ContainerConfig, name string) (*ContainerState, error) {
	containerDir := s.ContainerDir(cfg.ID)

	if _, err := os.Stat(containerDir); err == nil {
		return nil, fmt.Errorf("container %s already exists", cfg.ID)
	}

	if name != "" {
		if err := s.NameStore.Register(name, cfg.ID); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(containerDir, 0755); err != nil {
		if name != "" {
			_ = s.NameStore.Unregister(name)
		}
		return nil, fmt.Errorf("create container directory: %w", err)
	}

	logDir := filepath.Join(containerDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		os.RemoveAll(containerDir)
		if name != "" {
			_ = s.NameStore.Unregister(name)
		}
		return nil, fmt.Errorf("create logs directory: %w", err)
	}

	cfg.Name = name
	if err := cfg.Save(containerDir); err != nil {
		os.RemoveAll(containerDir)
		if name != "" {
			_ = s.NameStore.Unregister(name)
		}
		return nil, fmt.Errorf("save config: %w", err)
	}

	st := NewState(cfg.ID, containerDir)
	if name != "" {
		st.SetName(name)
	}
	if cfg.Blueprint != "" {
		st.SetBlueprint(cfg.Blueprint)
		st.ImageRef = cfg.Blueprint
	}
	if err := st.Save(); err != nil {
		os.RemoveAll(containerDir)
		if name != "" {
			_ = s.NameStore.Unregister(name)
		}
		return nil, fmt.Errorf("save state: %w", err)
	}

	return st, nil
}

// Get loads a container's state by ID, name, or unambiguous ID prefix.
// Orphaned "running" records are self-healed via ContainerState.IsRunning.
func (s *Store) Get(ref string) (*ContainerState, error) {
	fullID, err := s.LookupID(ref)
	if err != nil {
		return nil, err
	}

	containerDir := s.ContainerDir(fullID)
	st, err := LoadState(containerDir)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", fullID, err)
	}

	st.IsRunning()

	return st, nil
}

// List returns every container's state; if all is false, only running ones.
func (s *Store) List(all bool) ([]*ContainerState, error) {
	containersDir := filepath.Join(s.RootDir, "containers")
	entries, err := os.ReadDir(containersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read containers directory: %w", err)
	}

	var states []*ContainerState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		containerDir := filepath.Join(containersDir, entry.Name())
		st, err := LoadState(containerDir)
		if err != nil {
			// A corrupt bundle is skipped rather than failing the whole list.
			continue
		}

		st.IsRunning()

		if !all && st.Status != StatusRunning {
			continue
		}

		states = append(states, st)
	}

	return states, nil
}

// Delete removes a container's bundle directory. Idempotent: deleting an
// already-gone container is not an error. Refuses to remove a running
// container.
func (s *Store) Delete(containerID string) error {
	containerDir := s.ContainerDir(containerID)

	if _, err := os.Stat(containerDir); os.IsNotExist(err) {
		return nil
	}

	st, err := LoadState(containerDir)
	if err == nil && st.IsRunning() {
		return fmt.Errorf("container %s is running, stop it first or use force", idutil.ShortID(containerID))
	}
	if err == nil {
		_ = s.NameStore.UnregisterByID(st.ID)
	}

	if err := os.RemoveAll(containerDir); err != nil {
		return fmt.Errorf("remove container directory: %w", err)
	}

	return nil
}

// ForceDelete removes a container's bundle directory regardless of its
// running status. The caller is responsible for having already signaled
// the process to stop.
func (s *Store) ForceDelete(containerID string) error {
	containerDir := s.ContainerDir(containerID)

	if st, err := LoadState(containerDir); err == nil {
		_ = s.NameStore.UnregisterByID(st.ID)
	}

	if _, err := os.Stat(containerDir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(containerDir); err != nil {
		return fmt.Errorf("remove container directory: %w", err)
	}

	return nil
}

// Exists reports whether a container bundle directory exists for the
// given full ID.
func (s *Store) Exists(containerID string) bool {
	containerDir := s.ContainerDir(containerID)
	_, err := os.Stat(containerDir)
	return err == nil
}

// LookupID resolves a name, full ID, or unambiguous ID prefix (at least
// idutil.MinPrefixLength characters) to a full container ID.
func (s *Store) LookupID(ref string) (string, error) {
	if id, err := s.NameStore.Lookup(ref); err == nil && id != "" {
		return id, nil
	}

	if err := idutil.ValidatePrefix(ref); err != nil {
		return "", err
	}

	if idutil.IsFullID(ref) {
		if s.Exists(ref) {
			return ref, nil
		}
		return "", fmt.Errorf("container not found: %s", ref)
	}

	containersDir := filepath.Join(s.RootDir, "containers")
	entries, err := os.ReadDir(containersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("container not found: %s", ref)
		}
		return "", fmt.Errorf("read containers directory: %w", err)
	}

	var matches []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ref) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("container not found: %s", ref)
	case 1:
		return matches[0], nil
	default:
		n := len(matches)
		if n > 3 {
			n = 3
		}
		return "", fmt.Errorf("multiple containers match prefix %s: %v", ref, matches[:n])
	}
}
