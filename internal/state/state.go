//go:build linux
// +build linux

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"cubo/pkg/fileutil"
)

// Status represents the lifecycle status of a container, mirroring the
// OCI Runtime Spec state.status values plus "unknown". This package never
// assigns "unknown"; reconciliation moves a dead record to "stopped".
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusPaused   Status = "paused"
	StatusUnknown  Status = "unknown"
)

// OCIVersionCurrent is the OCI Runtime Spec version this state.json is
// shaped after.
const OCIVersionCurrent = "1.0.2"

// ContainerState is the runtime state of a container, persisted as
// state.json inside the container's bundle directory. Its shape follows
// the OCI Runtime Spec state JSON, extended with cubo-specific bookkeeping.
type ContainerState struct {
	// OCI Runtime Spec fields.
	OCIVersion  string            `json:"ociVersion"`
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Pid         int               `json:"pid,omitempty"`
	Bundle      string            `json:"bundle"`
	Annotations map[string]string `json:"annotations,omitempty"`

	// cubo-specific bookkeeping.
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	ExitCode   *int       `json:"exitCode,omitempty"`

	// ImageRef records the blueprint reference the container was created
	// from; Store.Create sets it together with the blueprint annotation.
	ImageRef string `json:"imageRef,omitempty"`

	// internal fields, not serialized.
	containerDir string
}

// annotationName and annotationBlueprint key the Annotations map; cubo uses
// annotations rather than bespoke top-level fields for anything that is
// purely descriptive, matching the OCI Runtime Spec's intended use of the
// field.
const (
	annotationName      = "cubo.name"
	annotationBlueprint = "cubo.blueprint"
)

// NewState creates a fresh "creating" state for a container.
func NewState(id, containerDir string) *ContainerState {
	return &ContainerState{
		OCIVersion:   OCIVersionCurrent,
		ID:           id,
		Status:       StatusCreating,
		Bundle:       containerDir,
		Annotations:  make(map[string]string),
		CreatedAt:    time.Now(),
		containerDir: containerDir,
	}
}

// LoadState reads state.json from a container's bundle directory.
func LoadState(containerDir string) (*ContainerState, error) {
	statePath := filepath.Join(containerDir, "state.json")
	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var s ContainerState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if s.Annotations == nil {
		s.Annotations = make(map[string]string)
	}

	s.containerDir = containerDir
	return &s, nil
}

// Save persists state.json atomically, holding the per-container lock so
// concurrent writers (CLI, init, shim) never interleave a write.
func (s *ContainerState) Save() error {
	if s.containerDir == "" {
		return fmt.Errorf("container directory not set")
	}

	lock, err := AcquireLock(s.containerDir)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release()

	statePath := filepath.Join(s.containerDir, "state.json")
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := fileutil.AtomicWriteFile(statePath, data, 0644); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	return nil
}

// Reload re-reads state.json from disk into the receiver in place.
func (s *ContainerState) Reload() error {
	if s.containerDir == "" {
		return fmt.Errorf("container directory not set")
	}

	fresh, err := LoadState(s.containerDir)
	if err != nil {
		return err
	}

	s.OCIVersion = fresh.OCIVersion
	s.ID = fresh.ID
	s.Status = fresh.Status
	s.Pid = fresh.Pid
	s.Bundle = fresh.Bundle
	s.Annotations = fresh.Annotations
	s.CreatedAt = fresh.CreatedAt
	s.StartedAt = fresh.StartedAt
	s.FinishedAt = fresh.FinishedAt
	s.ExitCode = fresh.ExitCode
	s.ImageRef = fresh.ImageRef

	return nil
}

// SetRunning transitions to running and persists it.
func (s *ContainerState) SetRunning(pid int) error {
	s.Status = StatusRunning
	s.Pid = pid
	now := time.Now()
	s.StartedAt = &now
	return s.Save()
}

// SetStopped transitions to stopped with the given exit code and persists it.
func (s *ContainerState) SetStopped(exitCode int) error {
	s.Status = StatusStopped
	now := time.Now()
	s.FinishedAt = &now
	s.ExitCode = &exitCode
	return s.Save()
}

// SetPaused transitions to paused and persists it. The process is left
// running (frozen via a cgroup freezer in a full implementation); cubo's
// scope stops at recording the status transition.
func (s *ContainerState) SetPaused() error {
	if s.Status != StatusRunning {
		return fmt.Errorf("cannot pause container in state %q", s.Status)
	}
	s.Status = StatusPaused
	return s.Save()
}

// SetResumed transitions a paused container back to running.
func (s *ContainerState) SetResumed() error {
	if s.Status != StatusPaused {
		return fmt.Errorf("cannot resume container in state %q", s.Status)
	}
	s.Status = StatusRunning
	return s.Save()
}

// SetName records the container's name annotation.
func (s *ContainerState) SetName(name string) {
	if s.Annotations == nil {
		s.Annotations = make(map[string]string)
	}
	s.Annotations[annotationName] = name
}

// Name returns the container's name annotation, or "" if unset.
func (s *ContainerState) Name() string {
	return s.Annotations[annotationName]
}

// SetBlueprint records the blueprint reference annotation.
func (s *ContainerState) SetBlueprint(ref string) {
	if s.Annotations == nil {
		s.Annotations = make(map[string]string)
	}
	s.Annotations[annotationBlueprint] = ref
}

// Blueprint returns the blueprint reference annotation, or "" if unset.
func (s *ContainerState) Blueprint() string {
	return s.Annotations[annotationBlueprint]
}

// IsRunning reports whether the container is actually running. Beyond
// checking the Status field, it verifies the pid is alive; a dead pid found
// in a "running" record means the container crashed or was reaped without
// cubo noticing (e.g. host reboot), and the status is self-healed to
// "stopped" with the pid cleared, finished_at set to now and exit code -1
// (the real exit code could not be determined) rather than silently left
// stale.
func (s *ContainerState) IsRunning() bool {
	if s.Status != StatusRunning {
		return false
	}
	if s.Pid == 0 {
		return false
	}

	if err := syscall.Kill(s.Pid, 0); err != nil {
		if err == syscall.ESRCH {
			s.Status = StatusStopped
			s.Pid = 0
			now := time.Now()
			s.FinishedAt = &now
			exitCode := -1
			s.ExitCode = &exitCode
			_ = s.Save() // best effort
			return false
		}
		// EPERM and friends don't mean the process is gone.
		return true
	}

	return true
}

// GetContainerDir returns the bundle directory for this container.
func (s *ContainerState) GetContainerDir() string {
	return s.containerDir
}

// GetLogDir returns the log directory for this container.
func (s *ContainerState) GetLogDir() string {
	return filepath.Join(s.containerDir, "logs")
}
