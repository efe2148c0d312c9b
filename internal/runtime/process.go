//go:build linux
// +build linux

package runtime

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cubo/internal/state"
	"cubo/internal/volume"
	"cubo/pkg/envutil"

	"golang.org/x/sys/unix"
)

// RunOptions configures how Run persists and locates container state.
type RunOptions struct {
	// StateStore is required.
	StateStore *state.Store
}

// logFiles tracks the open stdout/stderr log files so they can be closed
// once the container's main process has exited.
type logFiles struct {
	stdout *os.File
	stderr *os.File
}

func (l *logFiles) Close() {
	if l.stdout != nil {
		l.stdout.Close()
	}
	if l.stderr != nil {
		l.stderr.Close()
	}
}

// Run creates and runs a new container from config.
//
// In foreground mode it blocks until the container's main process exits and
// returns its exit code. In detached mode it starts a per-container shim
// process and returns 0 as soon as the shim reports it has the container
// running; the shim itself persists the final exit code later.
//
// This function never calls os.Exit — the caller (CLI) owns process exit.
func Run(config *ContainerConfig, opts *RunOptions) (int, error) {
	if opts == nil || opts.StateStore == nil {
		return -1, fmt.Errorf("RunOptions with StateStore is required")
	}

	if len(config.Mounts) > 0 && !config.Detached {
		if err := prepareMounts(config.Mounts, opts.StateStore.RootDir); err != nil {
			return -1, fmt.Errorf("prepare mounts: %w", err)
		}
	}

	stateConfig := &state.ContainerConfig{
		ID:         config.ID,
		Command:    config.Command,
		Args:       config.Args,
		Hostname:   config.Hostname,
		Rootfs:     config.Rootfs,
		TTY:        config.TTY,
		Detached:   config.Detached,
		Env:        config.Env,
		WorkingDir: config.WorkingDir,
		User:       config.User,
		Blueprint:  config.Blueprint,
	}

	if len(config.Mounts) > 0 {
		stateConfig.Mounts = make([]state.MountConfig, len(config.Mounts))
		for i, m := range config.Mounts {
			stateConfig.Mounts[i] = state.MountConfig{
				Type:       string(m.Type),
				Source:     m.Source,
				Target:     m.Target,
				ReadOnly:   m.ReadOnly,
				VolumePath: m.VolumePath,
			}
		}
	}

	if len(config.PortMappings) > 0 {
		stateConfig.PortMappings = make([]state.PortMapping, len(config.PortMappings))
		for i, pm := range config.PortMappings {
			stateConfig.PortMappings[i] = state.PortMapping{
				HostIP:        pm.HostIP,
				HostPort:      pm.HostPort,
				ContainerPort: pm.ContainerPort,
				Protocol:      pm.Protocol,
			}
		}
	}

	containerState, err := opts.StateStore.Create(stateConfig, config.Name)
	if err != nil {
		return -1, fmt.Errorf("failed to create container state: %w", err)
	}

	cleanupOnError := true
	defer func() {
		if cleanupOnError {
			opts.StateStore.ForceDelete(config.ID)
		}
	}()

	if config.Detached {
		// `cubo run -d` must return immediately; the shim persists the
		// final exit code once the container actually stops.
		if err := startDetachedShim(containerState.GetContainerDir()); err != nil {
			return -1, fmt.Errorf("failed to start container shim: %w", err)
		}
		cleanupOnError = false
		return 0, nil
	}

	logs, err := setupLogFiles(containerState.GetContainerDir())
	if err != nil {
		return -1, fmt.Errorf("failed to setup log files: %w", err)
	}

	cmd, err := newParentProcess(config, containerState.GetContainerDir(), logs)
	if err != nil {
		logs.Close()
		return -1, fmt.Errorf("failed to create parent process: %w", err)
	}

	if config.TTY {
		// runWithPTY owns Start/Wait itself: pty.Start needs to open the
		// master side before the child execs, so it cannot be preceded by
		// a plain cmd.Start().
		exitCode, err := runWithPTY(cmd, config.Interactive)
		logs.Close()
		if err != nil {
			_ = containerState.SetStopped(-1)
			return -1, fmt.Errorf("run container: %w", err)
		}
		if serr := containerState.SetRunning(GetContainerPID(cmd)); serr == nil {
			cleanupOnError = false
		}
		containerState.SetStopped(exitCode)
		return exitCode, nil
	}

	if err := cmd.Start(); err != nil {
		logs.Close()
		return -1, fmt.Errorf("failed to start container process: %w", err)
	}

	if err := containerState.SetRunning(cmd.Process.Pid); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		logs.Close()
		return -1, fmt.Errorf("failed to update container state: %w", err)
	}

	cleanupOnError = false

	exitCode := waitForExit(cmd)
	containerState.SetStopped(exitCode)
	logs.Close()

	return exitCode, nil
}

// startDetachedShim starts a per-container shim process and waits for a
// single-line status message from it ("OK" or "ERR: ...").
func startDetachedShim(containerDir string) error {
	notifyR, notifyW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create shim notify pipe: %w", err)
	}
	defer notifyR.Close()

	shimCmd := exec.Command("/proc/self/exe")
	shimCmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // detach from the controlling terminal
	}

	// Stdio is not inherited: a `cubo run -d` invoked via CombinedOutput()
	// would otherwise hang waiting for the shim to close the parent's
	// stdout/stderr pipes.
	shimCmd.Stdin = nil
	shimCmd.Stdout = nil
	shimCmd.Stderr = nil

	shimCmd.Env = append(os.Environ(),
		envutil.ShimEnvVar+"=1",
		envutil.StatePathEnvVar+"="+containerDir,
		envutil.ShimNotifyFdEnvVar+"=3",
	)
	shimCmd.ExtraFiles = []*os.File{notifyW} // fd=3 in the child

	if err := shimCmd.Start(); err != nil {
		_ = notifyW.Close()
		return fmt.Errorf("start shim process: %w", err)
	}
	_ = notifyW.Close()

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		r := bufio.NewReader(notifyR)
		line, err := r.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case res := <-ch:
		if res.err == nil && res.line == "OK" {
			_ = shimCmd.Process.Release()
			return nil
		}

		if strings.HasPrefix(res.line, "ERR:") {
			_ = shimCmd.Wait()
			return fmt.Errorf("%s", strings.TrimSpace(res.line))
		}

		_ = shimCmd.Wait()
		if res.err != nil {
			return fmt.Errorf("shim failed to report status: %w", res.err)
		}
		return fmt.Errorf("shim failed to report status: %q", res.line)

	case <-time.After(5 * time.Second):
		_ = shimCmd.Process.Kill()
		_ = shimCmd.Wait()
		return fmt.Errorf("timeout waiting for container shim to start")
	}
}

func setupLogFiles(containerDir string) (*logFiles, error) {
	logDir := filepath.Join(containerDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	stdoutPath := filepath.Join(logDir, "stdout.log")
	stderrPath := filepath.Join(logDir, "stderr.log")

	stdout, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}

	stderr, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("create stderr log: %w", err)
	}

	return &logFiles{stdout: stdout, stderr: stderr}, nil
}

func waitForExit(cmd *exec.Cmd) int {
	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		return -1
	}
	return 0
}

// newParentProcess builds a command that re-execs the current binary with
// namespace isolation enabled.
//
// Re-exec is necessary because:
//  1. Go's runtime spawns multiple OS threads before main() runs.
//  2. Unsharing namespaces in-process would affect only the calling thread,
//     leaving the rest of the thread group outside the new namespaces.
//  3. Re-exec puts the child in the target namespaces from its very first
//     instruction, before it takes the clearly-scoped init(PID1) path.
func newParentProcess(config *ContainerConfig, containerDir string, logs *logFiles) (*exec.Cmd, error) {
	cmd := exec.Command("/proc/self/exe")

	cloneFlags := syscall.CLONE_NEWUTS |
		syscall.CLONE_NEWPID |
		syscall.CLONE_NEWNS |
		syscall.CLONE_NEWIPC

	attr := &syscall.SysProcAttr{}

	// A rootfs-bearing container gets its own user namespace, with the
	// invoking user mapped to root inside it. This is what lets chroot,
	// mount, and mknod (all done by the init process below) succeed without
	// the host user actually being root.
	if config.Rootfs != "" {
		cloneFlags |= syscall.CLONE_NEWUSER
		attr.UidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		}
		attr.GidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		}
		attr.GidMappingsEnableSetgroups = false
	}

	attr.Cloneflags = uintptr(cloneFlags)

	if config.Detached {
		attr.Setsid = true
	}
	cmd.SysProcAttr = attr

	cmd.Env = append(envutil.FilterInternalEnv(os.Environ()),
		envutil.InitEnvVar+"=1",
		envutil.StatePathEnvVar+"="+containerDir,
	)

	if config.Detached {
		cmd.Stdin = nil
		cmd.Stdout = logs.stdout
		cmd.Stderr = logs.stderr
	} else if config.TTY {
		// runWithPTY connects stdio via the pty master; leave cmd's fields
		// unset here so pty.Start can wire them itself.
	} else {
		cmd.Stdin = os.Stdin
		cmd.Stdout = newTeeWriter(os.Stdout, logs.stdout)
		cmd.Stderr = newTeeWriter(os.Stderr, logs.stderr)
	}

	return cmd, nil
}

// teeWriter writes to two destinations: the live terminal/pipe, plus the
// on-disk log file, so `cubo logs` has something to show even for
// foreground containers.
type teeWriter struct {
	primary *os.File
	extra   *os.File
}

func newTeeWriter(primary, extra *os.File) *teeWriter {
	return &teeWriter{primary: primary, extra: extra}
}

func (t *teeWriter) Write(p []byte) (n int, err error) {
	n, err = t.primary.Write(p)
	if err != nil {
		return n, err
	}
	t.extra.Write(p)
	return n, nil
}

// GetContainerPID returns the container init process's PID. Must be called
// after cmd.Start() and before cmd.Wait().
func GetContainerPID(cmd *exec.Cmd) int {
	if cmd.Process != nil {
		return cmd.Process.Pid
	}
	return 0
}

// setMountPropagation makes all mounts private, preventing the container's
// mounts from propagating back to the host.
func setMountPropagation() error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("failed to set mount propagation to private: %w", err)
	}
	return nil
}

// prepareMounts resolves named volumes to their on-disk path, creating them
// if they don't yet exist (Docker's auto-create-on-first-use behavior).
// Bind mounts need no resolution; Source is already the host path.
func prepareMounts(mounts []volume.Mount, rootDir string) error {
	hasVolumes := false
	for _, m := range mounts {
		if m.Type == volume.MountTypeVolume {
			hasVolumes = true
			break
		}
	}
	if !hasVolumes {
		return nil
	}

	volumeStore, err := volume.NewVolumeStore(rootDir)
	if err != nil {
		return fmt.Errorf("initialize volume store: %w", err)
	}

	for i, m := range mounts {
		if m.Type != volume.MountTypeVolume {
			continue
		}

		if !volumeStore.Exists(m.Source) {
			if _, err := volumeStore.Create(m.Source); err != nil {
				return fmt.Errorf("create volume %s: %w", m.Source, err)
			}
		}

		vol, err := volumeStore.Get(m.Source)
		if err != nil {
			return fmt.Errorf("get volume %s: %w", m.Source, err)
		}

		mounts[i].VolumePath = vol.Path
	}

	return nil
}
