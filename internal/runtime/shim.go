//go:build linux
// +build linux

package runtime

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"cubo/internal/state"
	"cubo/pkg/envutil"
)

// RunContainerShim is the entrypoint for the per-container shim process.
//
// Why a shim?
// `cubo run -d` must return immediately, but something still needs to:
//   - be the container init process's actual parent, so it can reap it and
//     reliably observe its exit (a detached process with no waiter would be
//     re-parented to PID 1 on exit, and its exit code lost)
//   - persist the final exit code and stopped state to state.json
//
// This is the same "per-container shim" model containerd-shim uses, just
// without the additional gRPC control surface.
func RunContainerShim() {
	containerDir := os.Getenv(envutil.StatePathEnvVar)
	notify := openShimNotifyWriter()

	fail := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if notify != nil {
			fmt.Fprintf(notify, "ERR: %s\n", msg)
			notify.Close()
		}
		fmt.Fprintf(os.Stderr, "shim: %s\n", msg)
		os.Exit(1)
	}

	if containerDir == "" {
		fail("missing %s environment variable", envutil.StatePathEnvVar)
	}

	cfg, err := state.LoadConfig(containerDir)
	if err != nil {
		fail("load config: %v", err)
	}

	st, err := state.LoadState(containerDir)
	if err != nil {
		fail("load state: %v", err)
	}

	rCfg := &ContainerConfig{
		ID:         cfg.ID,
		Name:       cfg.Name,
		Command:    cfg.Command,
		Args:       cfg.Args,
		Hostname:   cfg.Hostname,
		Rootfs:     cfg.Rootfs,
		TTY:        cfg.TTY,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkingDir,
		User:       cfg.User,
		Blueprint:  cfg.Blueprint,
		Detached:   true, // the shim only exists for detached containers
		Mounts:     cfg.VolumeMounts(),
	}

	logs, err := setupLogFiles(containerDir)
	if err != nil {
		fail("setup log files: %v", err)
	}

	cmd, err := newParentProcess(rCfg, containerDir, logs)
	if err != nil {
		logs.Close()
		fail("create container process: %v", err)
	}

	if err := cmd.Start(); err != nil {
		logs.Close()
		fail("start container process: %v", err)
	}

	// Persist running state before notifying the caller, so a `cubo ps`
	// racing the notify is never shown a container that the shim itself
	// doesn't yet think is running.
	if err := st.SetRunning(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		logs.Close()
		fail("update state to running: %v", err)
	}

	if notify != nil {
		_, _ = fmt.Fprintln(notify, "OK")
		_ = notify.Close()
	}

	exitCode := waitForExit(cmd)
	_ = st.SetStopped(exitCode)
	logs.Close()

	os.Exit(0)
}

func openShimNotifyWriter() *os.File {
	fdStr := os.Getenv(envutil.ShimNotifyFdEnvVar)
	if strings.TrimSpace(fdStr) == "" {
		return nil
	}

	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd < 3 {
		return nil
	}

	// fd comes from exec.Cmd.ExtraFiles (>= 3).
	return os.NewFile(uintptr(fd), "cubo-shim-notify")
}
