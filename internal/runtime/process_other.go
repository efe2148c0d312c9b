//go:build !linux
// +build !linux

package runtime

import (
	"fmt"
	"os/exec"
	"runtime"

	"cubo/internal/state"
)

// RunOptions configures how Run persists and locates container state
// (non-Linux stub).
type RunOptions struct {
	StateStore *state.Store
}

// Run is not supported on non-Linux platforms: containers depend on
// Linux-specific namespaces and mount semantics.
func Run(config *ContainerConfig, opts *RunOptions) (int, error) {
	return -1, fmt.Errorf("cubo only supports Linux (current OS: %s)", runtime.GOOS)
}

// GetContainerPID is not supported on non-Linux platforms.
func GetContainerPID(cmd *exec.Cmd) int {
	return 0
}

// setMountPropagation is not supported on non-Linux platforms.
func setMountPropagation() error {
	return fmt.Errorf("cubo only supports Linux (current OS: %s)", runtime.GOOS)
}
