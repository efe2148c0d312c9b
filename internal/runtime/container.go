package runtime

import (
	"crypto/rand"
	"encoding/hex"

	"cubo/internal/volume"
)

// ContainerConfig describes a container to be run. It is the runtime-layer
// counterpart of state.ContainerConfig: the CLI builds one of these from
// flags (or from a resolved blueprint's image config), and Run/RunContainerShim
// translate it into a persisted state.ContainerConfig plus the namespace/mount
// setup the init process needs.
type ContainerConfig struct {
	// ID is the container's 64-character hex identifier. The first 12
	// characters are used as the default hostname.
	ID string

	// Name is an optional human-assigned name, unique among non-removed
	// containers.
	Name string

	// Command is the entrypoint/main process to run.
	Command []string

	// Args are additional arguments appended to Command.
	Args []string

	// Hostname overrides the default (short ID) hostname.
	Hostname string

	// TTY allocates a pseudo-terminal for the container's main process.
	TTY bool

	// Interactive keeps stdin open and connected even without TTY.
	Interactive bool

	// Env holds additional environment variables ("KEY=VALUE").
	Env []string

	// WorkingDir is the working directory inside the container.
	WorkingDir string

	// User is a "uid[:gid]" or "name[:group]" spec to run the main process
	// as, resolved against the container's /etc/passwd and /etc/group.
	User string

	// Rootfs is a caller-prepared root filesystem directory. Mutually
	// exclusive with Blueprint — set directly by `run --rootfs`, or derived
	// from an extracted image layer chain when Blueprint is set.
	Rootfs string

	// Blueprint is the image reference the rootfs was assembled from, kept
	// only for state annotation/display.
	Blueprint string

	// Detached runs the container in the background via a shim process.
	Detached bool

	// Mounts holds bind and named-volume mounts to apply before exec.
	Mounts []volume.Mount

	// PortMappings is recorded for display; cubo does not program a NAT
	// rule for it (see Non-goals).
	PortMappings []PortMapping
}

// PortMapping is a parsed -p/--publish flag value.
type PortMapping struct {
	HostIP        string
	HostPort      uint16
	ContainerPort uint16
	Protocol      string
}

// GenerateContainerID returns a random 64-character hex container ID.
func GenerateContainerID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000000000000000000000000000000000000000000000000000"
	}
	return hex.EncodeToString(b)
}

// ShortID returns the first 12 characters of the container ID.
func (c *ContainerConfig) ShortID() string {
	if len(c.ID) >= 12 {
		return c.ID[:12]
	}
	return c.ID
}

// GetHostname returns the configured hostname, defaulting to the short ID.
func (c *ContainerConfig) GetHostname() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return c.ShortID()
}

// GetCommand returns command+args as a single slice.
func (c *ContainerConfig) GetCommand() []string {
	cmd := make([]string, 0, len(c.Command)+len(c.Args))
	cmd = append(cmd, c.Command...)
	cmd = append(cmd, c.Args...)
	return cmd
}
