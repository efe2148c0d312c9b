//go:build linux
// +build linux

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cubo/internal/volume"
	"cubo/pkg/fileutil"
	"cubo/pkg/idutil"
)

// ContainerConfig is the immutable configuration for a container, persisted
// as config.json inside its bundle directory. Unlike ContainerState, it
// never changes after creation — the init and shim processes reload it
// fresh rather than trusting anything passed over an environment variable.
type ContainerConfig struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Command  []string `json:"command"`
	Args     []string `json:"args"`
	Hostname string   `json:"hostname"`
	Rootfs   string   `json:"rootfs,omitempty"`
	TTY      bool     `json:"tty"`
	Detached bool     `json:"detached"`

	Env        []string `json:"env,omitempty"`
	WorkingDir string   `json:"workingDir,omitempty"`
	User       string   `json:"user,omitempty"`

	// Blueprint is the image reference the container was created from
	// ("alpine:latest"). Mutually exclusive with a bare --rootfs.
	Blueprint string `json:"blueprint,omitempty"`

	Mounts []MountConfig `json:"mounts,omitempty"`

	// PortMappings is recorded for `cubo ps CONTAINER` display only;
	// cubo does not program a NAT rule for it (see Non-goals).
	PortMappings []PortMapping `json:"portMappings,omitempty"`
}

// MountConfig is the persisted form of a volume.Mount.
type MountConfig struct {
	Type       string `json:"type"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	ReadOnly   bool   `json:"readOnly,omitempty"`
	VolumePath string `json:"volumePath,omitempty"`
}

// PortMapping is a parsed -p/--publish flag value.
type PortMapping struct {
	HostIP        string `json:"hostIP,omitempty"`
	HostPort      uint16 `json:"hostPort"`
	ContainerPort uint16 `json:"containerPort"`
	Protocol      string `json:"protocol,omitempty"`
}

// Save persists config.json atomically.
func (c *ContainerConfig) Save(containerDir string) error {
	configPath := filepath.Join(containerDir, "config.json")
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := fileutil.AtomicWriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	return nil
}

// LoadConfig reads config.json from a container's bundle directory.
func LoadConfig(containerDir string) (*ContainerConfig, error) {
	configPath := filepath.Join(containerDir, "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var c ContainerConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &c, nil
}

// GetCommand returns command+args as a single slice.
func (c *ContainerConfig) GetCommand() []string {
	cmd := make([]string, 0, len(c.Command)+len(c.Args))
	cmd = append(cmd, c.Command...)
	cmd = append(cmd, c.Args...)
	return cmd
}

// ShortID returns the first 12 characters of the container ID.
func (c *ContainerConfig) ShortID() string {
	return idutil.ShortID(c.ID)
}

// Mounts returns the config's MountConfig entries as volume.Mount values.
func (c *ContainerConfig) VolumeMounts() []volume.Mount {
	mounts := make([]volume.Mount, len(c.Mounts))
	for i, m := range c.Mounts {
		mounts[i] = volume.Mount{
			Type:       volume.MountType(m.Type),
			Source:     m.Source,
			Target:     m.Target,
			ReadOnly:   m.ReadOnly,
			VolumePath: m.VolumePath,
		}
	}
	return mounts
}
