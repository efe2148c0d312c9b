//go:build linux
// +build linux

package volume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cubo/pkg/fileutil"
)

const metaFile = "meta.json"

// volumeStore implements VolumeStore by giving every volume its own
// directory under dataDir, the same layout internal/image.Store uses for
// blueprint references: a self-contained directory per entry (here,
// <name>/meta.json next to <name>/_data) rather than one shared registry
// file for the whole store. A volume's existence is the existence of its
// directory, so List needs nothing more than a directory scan, and two
// volumes can be created or removed at once without one write clobbering
// the other's entry — there's no single file both operations contend on.
//
// cubo has no long-running daemon: every subcommand is its own process
// with its own volumeStore value, so an in-memory mutex here would only
// ever guard a single goroutine against itself. What actually needs
// guarding is concurrent *processes* touching the same directory, and
// that's handled the way the rest of cubo's stores handle it —
// pkg/fileutil.AtomicWriteFile's rename-into-place, not an in-process
// lock.
type volumeStore struct {
	rootDir string // $CUBO_ROOT
	dataDir string // $CUBO_ROOT/volumes
}

// NewVolumeStore creates a new volume store rooted at rootDir.
func NewVolumeStore(rootDir string) (VolumeStore, error) {
	dataDir := filepath.Join(rootDir, DefaultVolumesDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create volumes directory: %w", err)
	}

	return &volumeStore{
		rootDir: rootDir,
		dataDir: dataDir,
	}, nil
}

func (s *volumeStore) volumeDir(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *volumeStore) metaPath(name string) string {
	return filepath.Join(s.volumeDir(name), metaFile)
}

// Create creates a new named volume. Returns an error if name is invalid
// or already in use.
func (s *volumeStore) Create(name string) (*VolumeInfo, error) {
	if !IsValidVolumeName(name) {
		return nil, fmt.Errorf("invalid volume name: %s (must be alphanumeric, can contain hyphen and underscore, 1-64 chars)", name)
	}
	if s.Exists(name) {
		return nil, fmt.Errorf("volume %s already exists", name)
	}

	// Docker pattern: volumes/<name>/_data holds the mounted content,
	// meta.json sits alongside it rather than in a shared registry.
	dataPath := filepath.Join(s.volumeDir(name), "_data")
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("create volume directory: %w", err)
	}

	info := &VolumeInfo{
		Name:      name,
		Path:      dataPath,
		CreatedAt: time.Now(),
		Driver:    "local",
	}

	if err := s.writeMeta(name, info); err != nil {
		os.RemoveAll(s.volumeDir(name))
		return nil, err
	}

	return info, nil
}

// Get retrieves a volume by name.
func (s *volumeStore) Get(name string) (*VolumeInfo, error) {
	info, err := s.readMeta(name)
	if err != nil {
		return nil, fmt.Errorf("volume %s not found", name)
	}
	return info, nil
}

// List returns every volume found under dataDir, skipping any directory
// entry that isn't a well-formed volume (no meta.json, or a meta.json that
// fails to parse) rather than failing the whole listing.
func (s *volumeStore) List() ([]*VolumeInfo, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read volumes directory: %w", err)
	}

	volumes := make([]*VolumeInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := s.readMeta(e.Name())
		if err != nil {
			continue
		}
		volumes = append(volumes, info)
	}

	return volumes, nil
}

// Delete removes a volume and its data directory. Returns an error if the
// volume doesn't exist.
func (s *volumeStore) Delete(name string) error {
	if !s.Exists(name) {
		return fmt.Errorf("volume %s not found", name)
	}
	if err := os.RemoveAll(s.volumeDir(name)); err != nil {
		return fmt.Errorf("remove volume directory: %w", err)
	}
	return nil
}

// Exists checks whether name has a meta.json on disk.
func (s *volumeStore) Exists(name string) bool {
	_, err := os.Stat(s.metaPath(name))
	return err == nil
}

// GetPath returns the data path for a volume, computed directly from the
// naming convention so it's available even before the volume is created.
func (s *volumeStore) GetPath(name string) string {
	return filepath.Join(s.volumeDir(name), "_data")
}

func (s *volumeStore) readMeta(name string) (*VolumeInfo, error) {
	data, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		return nil, err
	}
	var info VolumeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse volume metadata for %s: %w", name, err)
	}
	return &info, nil
}

func (s *volumeStore) writeMeta(name string, info *VolumeInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal volume metadata: %w", err)
	}
	if err := fileutil.AtomicWriteFile(s.metaPath(name), data, 0644); err != nil {
		return fmt.Errorf("write volume metadata: %w", err)
	}
	return nil
}
