//go:build linux
// +build linux

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"cubo/pkg/fileutil"
	"cubo/pkg/idutil"
)

// NamesFile is the name of the name-to-id mapping file.
const NamesFile = "names.json"

// nameMapping stores the name -> container id mapping.
type nameMapping struct {
	Names map[string]string `json:"names"`
}

// NameStore manages the container name to id mapping for one root
// directory. Every cubo invocation constructs its own NameStore, so
// there is no resident process to hold this mapping in memory across
// commands — load/mutate/save round-trips through names.json every call.
// That means an in-process mutex guards nothing a concurrent `cubo run
// --name x` from a second, simultaneous invocation could actually race
// on; what protects against two processes both observing name x as free
// is the flock(2) held across the whole load-mutate-save cycle, the same
// primitive ContainerLock uses for state.json.
type NameStore struct {
	rootDir string
}

// NewNameStore creates a name store rooted at rootDir.
func NewNameStore(rootDir string) *NameStore {
	return &NameStore{rootDir: rootDir}
}

func (s *NameStore) namesPath() string {
	return filepath.Join(s.rootDir, NamesFile)
}

// withLock opens names.json.lock (creating it if absent), holds an
// exclusive flock on it across fn, and persists whatever mapping fn
// returns — letting each exported method do its read-modify-write as a
// single atomic cross-process critical section instead of two separate
// file accesses. The lock lives in its own file because save replaces
// names.json by rename, which would leave a lock taken on names.json
// itself attached to the replaced file.
func (s *NameStore) withLock(fn func(*nameMapping) error) error {
	path := s.namesPath() + ".lock"
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open names file: %w", err)
	}
	defer file.Close()

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock names file: %w", err)
	}
	defer syscall.Flock(int(file.Fd()), syscall.LOCK_UN)

	mapping, err := s.load()
	if err != nil {
		return err
	}

	if err := fn(mapping); err != nil {
		return err
	}

	return s.save(mapping)
}

func (s *NameStore) load() (*nameMapping, error) {
	mapping := &nameMapping{Names: make(map[string]string)}

	data, err := os.ReadFile(s.namesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return mapping, nil
		}
		return nil, fmt.Errorf("read names file: %w", err)
	}

	if err := json.Unmarshal(data, mapping); err != nil {
		return nil, fmt.Errorf("parse names file: %w", err)
	}

	if mapping.Names == nil {
		mapping.Names = make(map[string]string)
	}

	return mapping, nil
}

func (s *NameStore) save(mapping *nameMapping) error {
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal names: %w", err)
	}

	if err := fileutil.AtomicWriteFile(s.namesPath(), data, 0644); err != nil {
		return fmt.Errorf("save names file: %w", err)
	}

	return nil
}

// Register claims name for containerID. Returns an error if name is
// already in use by a different container.
func (s *NameStore) Register(name, containerID string) error {
	return s.withLock(func(mapping *nameMapping) error {
		if existingID, exists := mapping.Names[name]; exists {
			return fmt.Errorf("container name %q is already in use by container %s", name, idutil.ShortID(existingID))
		}
		mapping.Names[name] = containerID
		return nil
	})
}

// Unregister removes name's mapping, if any.
func (s *NameStore) Unregister(name string) error {
	return s.withLock(func(mapping *nameMapping) error {
		delete(mapping.Names, name)
		return nil
	})
}

// UnregisterByID removes every name mapped to containerID (normally at
// most one, but cleans up thoroughly in case a prior bug left duplicates).
func (s *NameStore) UnregisterByID(containerID string) error {
	return s.withLock(func(mapping *nameMapping) error {
		var toDelete []string
		for name, id := range mapping.Names {
			if id == containerID {
				toDelete = append(toDelete, name)
			}
		}
		for _, name := range toDelete {
			delete(mapping.Names, name)
		}
		return nil
	})
}

// Lookup finds a container id by name. Returns an empty string and a nil
// error when name has no mapping.
func (s *NameStore) Lookup(name string) (string, error) {
	mapping, err := s.load()
	if err != nil {
		return "", err
	}

	if containerID, exists := mapping.Names[name]; exists {
		return containerID, nil
	}

	return "", nil
}

// GetName finds the name mapped to containerID, or "" if none.
func (s *NameStore) GetName(containerID string) string {
	mapping, err := s.load()
	if err != nil {
		return ""
	}

	for name, id := range mapping.Names {
		if id == containerID {
			return name
		}
	}

	return ""
}

// Exists reports whether name is already claimed.
func (s *NameStore) Exists(name string) bool {
	containerID, _ := s.Lookup(name)
	return containerID != ""
}
