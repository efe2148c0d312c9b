//go:build linux
// +build linux

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cubo/internal/state"
	"cubo/pkg/cubo_errors"

	"github.com/spf13/cobra"
)

var rmForce bool

var rmCmd = &cobra.Command{
	Use:   "rm CONTAINER [CONTAINER...]",
	Short: "Remove one or more containers",
	Long: `Removes one or more containers.

A container must be stopped before it can be removed, unless -f is given,
which kills it first.

Examples:
  cubo rm my_container
  cubo rm -f running_container
  cubo rm container1 container2`,
	Args: cobra.MinimumNArgs(1),
	RunE: removeContainers,
}

func init() {
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "kill the container first if it is running")
}

func removeContainers(cmd *cobra.Command, args []string) error {
	store, err := state.NewStore(resolvedRoot())
	if err != nil {
		return fmt.Errorf("%w: failed to initialize state store: %v", cubo_errors.ErrRuntime, err)
	}

	hasError := false
	for _, idOrPrefix := range args {
		if err := removeContainer(store, idOrPrefix); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", idOrPrefix, err)
			hasError = true
		} else {
			fmt.Println(idOrPrefix)
		}
	}

	if hasError {
		return fmt.Errorf("%w: one or more containers failed to remove", cubo_errors.ErrRuntime)
	}
	return nil
}

// removeContainer implements §4.8's remove_container transition. Removing a
// container that doesn't exist is idempotent success, matching rm's usual
// "already gone is fine" semantics; a short ID that is too short or
// ambiguous is a real error and is surfaced.
func removeContainer(store *state.Store, idOrPrefix string) error {
	containerState, err := store.Get(idOrPrefix)
	if err != nil {
		if strings.Contains(err.Error(), "container not found") {
			return nil
		}
		return fmt.Errorf("%w: %v", cubo_errors.ErrContainerNotFound, err)
	}

	if containerState.IsRunning() {
		if !rmForce {
			return fmt.Errorf("%w: container %s is running, use -f to force remove", cubo_errors.ErrContainerRunning, idOrPrefix)
		}

		pid := containerState.Pid
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			if err != syscall.ESRCH {
				return fmt.Errorf("failed to kill container: %w", err)
			}
		} else {
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if err := syscall.Kill(pid, 0); err != nil && err == syscall.ESRCH {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}
		}
	}

	// The rootfs assembled for this container lives in a sibling directory
	// rather than inside the bundle (see run.go); clean it up alongside the
	// state directory so `run` doesn't leak assembled rootfs trees.
	rootfsDir := filepath.Join(store.RootDir, "rootfs", containerState.ID)
	_ = os.RemoveAll(rootfsDir)

	if err := store.Delete(containerState.ID); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}

	return nil
}
