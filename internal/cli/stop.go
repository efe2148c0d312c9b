//go:build linux
// +build linux

package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"cubo/internal/state"
	"cubo/pkg/cubo_errors"

	"github.com/spf13/cobra"
)

var (
	stopTimeout int
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop CONTAINER [CONTAINER...]",
	Short: "Stop one or more running containers",
	Long: `Stops one or more running containers.

By default, sends SIGTERM and waits up to --time seconds for the process
to exit, then sends SIGKILL if it hasn't. --force skips straight to
SIGKILL.

Examples:
  cubo stop my_container
  cubo stop -t 30 my_container
  cubo stop --force my_container
  cubo stop container1 container2`,
	Args: cobra.MinimumNArgs(1),
	RunE: stopContainers,
}

func init() {
	stopCmd.Flags().IntVarP(&stopTimeout, "time", "t", 10, "seconds to wait for graceful exit before SIGKILL")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "send SIGKILL immediately")
}

func stopContainers(cmd *cobra.Command, args []string) error {
	store, err := state.NewStore(resolvedRoot())
	if err != nil {
		return fmt.Errorf("%w: failed to initialize state store: %v", cubo_errors.ErrRuntime, err)
	}

	hasError := false
	for _, idOrPrefix := range args {
		if err := stopContainer(store, idOrPrefix, stopTimeout, stopForce); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping %s: %v\n", idOrPrefix, err)
			hasError = true
		} else {
			fmt.Println(idOrPrefix)
		}
	}

	if hasError {
		return fmt.Errorf("%w: one or more containers failed to stop", cubo_errors.ErrRuntime)
	}
	return nil
}

// stopContainer implements §4.8's stop_container state transition: force=false
// sends SIGTERM and waits up to timeout seconds before escalating to
// SIGKILL; force=true sends SIGKILL immediately. ESRCH on any signal means
// the process is already gone, which is treated as success.
func stopContainer(store *state.Store, idOrPrefix string, timeout int, force bool) error {
	containerState, err := store.Get(idOrPrefix)
	if err != nil {
		return fmt.Errorf("%w: %v", cubo_errors.ErrContainerNotFound, err)
	}

	if !containerState.IsRunning() {
		return nil
	}

	pid := containerState.Pid

	if force {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			if err == syscall.ESRCH {
				containerState.SetStopped(0)
				return nil
			}
			return fmt.Errorf("send SIGKILL: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
		containerState.Reload()
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			containerState.SetStopped(0)
			return nil
		}
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil && err == syscall.ESRCH {
			containerState.Reload()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		if err == syscall.ESRCH {
			containerState.Reload()
			return nil
		}
		return fmt.Errorf("send SIGKILL: %w", err)
	}

	time.Sleep(100 * time.Millisecond)
	containerState.Reload()
	return nil
}
