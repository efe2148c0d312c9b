//go:build linux
// +build linux

package runtime

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"cubo/internal/state"
	"cubo/internal/volume"
	"cubo/pkg/envutil"

	"golang.org/x/sys/unix"
)

// RunContainerInit is the entrypoint for the container init process (PID 1).
// It is invoked when the binary detects the CUBO_INIT=1 environment
// variable.
//
// As PID 1 inside the container, this process has special responsibilities:
//  1. Reap zombies — when any child exits, init must wait() on it, or the
//     process table fills with defunct entries nothing else will ever reap.
//  2. Forward signals — SIGTERM and friends should reach the main child,
//     since nothing external can signal it directly by PID from inside a
//     PID namespace.
//  3. Exit with the main child's exit code.
//
// This matches the behavior tini and dumb-init provide on the host side.
func RunContainerInit() {
	config, err := getConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: failed to get config: %v\n", err)
		os.Exit(1)
	}

	if err := setupContainerEnvironment(config); err != nil {
		fmt.Fprintf(os.Stderr, "init: setup failed: %v\n", err)
		os.Exit(1)
	}

	exitCode := runUserCommand(config)
	os.Exit(exitCode)
}

// getConfig loads the container's config.json (the bundle directory is
// passed via CUBO_STATE_PATH) and translates it into the runtime-layer
// ContainerConfig.
func getConfig() (*ContainerConfig, error) {
	containerDir := os.Getenv(envutil.StatePathEnvVar)
	if strings.TrimSpace(containerDir) == "" {
		return nil, fmt.Errorf("missing %s environment variable", envutil.StatePathEnvVar)
	}

	cfg, err := state.LoadConfig(containerDir)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", containerDir, err)
	}

	config := &ContainerConfig{
		ID:         cfg.ID,
		Name:       cfg.Name,
		Command:    cfg.Command,
		Args:       cfg.Args,
		Hostname:   cfg.Hostname,
		TTY:        cfg.TTY,
		Rootfs:     cfg.Rootfs,
		Detached:   cfg.Detached,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkingDir,
		User:       cfg.User,
		Blueprint:  cfg.Blueprint,
		Mounts:     cfg.VolumeMounts(),
	}

	return config, nil
}

// setupContainerEnvironment configures the container's environment. Called
// once namespace isolation is already in place.
func setupContainerEnvironment(config *ContainerConfig) error {
	// setupRootfs must run before anything else: chroot changes how every
	// subsequent path resolves.
	if err := setupRootfs(config); err != nil {
		return fmt.Errorf("setup rootfs: %w", err)
	}

	hostname := config.GetHostname()
	if err := unix.Sethostname([]byte(hostname)); err != nil {
		return fmt.Errorf("failed to set hostname to %q: %w", hostname, err)
	}

	// setupRootfs already set mount propagation to private and applied
	// volume mounts when a rootfs is in play. A bare command with no rootfs
	// (no chroot, runs directly against "/") still needs both done here.
	if config.Rootfs == "" {
		if err := setMountPropagation(); err != nil {
			return err
		}
		if len(config.Mounts) > 0 {
			if err := setupMounts("", config.Mounts); err != nil {
				return fmt.Errorf("setup mounts: %w", err)
			}
		}
	}

	return nil
}

// runUserCommand execs the user's command under signal forwarding and
// zombie reaping, returning its exit code.
func runUserCommand(config *ContainerConfig) int {
	cmdArgs := config.GetCommand()
	if len(cmdArgs) == 0 {
		fmt.Fprintln(os.Stderr, "init: no command specified")
		return 1
	}

	if config.User != "" {
		if err := switchUser(config.User, config.Rootfs); err != nil {
			fmt.Fprintf(os.Stderr, "init: switch user: %v\n", err)
			return 1
		}
	}

	if config.WorkingDir != "" {
		if err := os.Chdir(config.WorkingDir); err != nil {
			fmt.Fprintf(os.Stderr, "init: chdir to %s: %v\n", config.WorkingDir, err)
			return 1
		}
	}

	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	baseEnv := envutil.FilterInternalEnv(os.Environ())
	cmd.Env = mergeEnvVars(baseEnv, config.Env)

	return handleSignalsAndWait(cmd)
}

// switchUser switches the calling process to the given user spec.
// Supported formats:
//   - "user"       — username or UID, default group = user's own GID
//   - "user:group" — username/UID and group name/GID
//
// Must be called before exec, since setuid/setgid only affect the calling
// process.
//
// Order is security-critical: setgroups, then setgid, then setuid. Once
// setuid has dropped privilege, the process can no longer change its own
// groups or gid.
func switchUser(userSpec, rootfs string) error {
	uid, gid, err := parseUserSpec(userSpec, rootfs)
	if err != nil {
		return err
	}

	if err := syscall.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups([%d]): %w", gid, err)
	}

	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}

	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}

	return nil
}

// parseUserSpec parses a user spec. Supported formats:
//   - "1000"           -> uid=1000, gid=1000
//   - "1000:1000"      -> uid=1000, gid=1000
//   - "nobody"         -> resolved via /etc/passwd
//   - "nobody:nogroup" -> resolved via /etc/passwd and /etc/group
func parseUserSpec(spec, rootfs string) (uid, gid int, err error) {
	parts := strings.SplitN(spec, ":", 2)
	userPart := parts[0]
	groupPart := ""
	if len(parts) > 1 {
		groupPart = parts[1]
	}

	uid, gid, err = lookupUser(userPart, rootfs)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %q: %w", userPart, err)
	}

	if groupPart != "" {
		gid, err = lookupGroup(groupPart, rootfs)
		if err != nil {
			return 0, 0, fmt.Errorf("lookup group %q: %w", groupPart, err)
		}
	}

	return uid, gid, nil
}

// lookupUser resolves a name or numeric UID to uid/gid. By the time this
// runs, the chroot (if any) has already happened, so /etc/passwd always
// means the container's own copy.
func lookupUser(name, rootfs string) (uid, gid int, err error) {
	if id, err := parseID(name); err == nil {
		return id, id, nil
	}

	passwdPath := "/etc/passwd"

	file, err := os.Open(passwdPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", passwdPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		if fields[0] == name {
			uid, err := parseID(fields[2])
			if err != nil {
				return 0, 0, fmt.Errorf("parse uid %q: %w", fields[2], err)
			}
			gid, err := parseID(fields[3])
			if err != nil {
				return 0, 0, fmt.Errorf("parse gid %q: %w", fields[3], err)
			}
			return uid, gid, nil
		}
	}

	return 0, 0, fmt.Errorf("user %q not found in %s", name, passwdPath)
}

// lookupGroup resolves a name or numeric GID to a GID.
func lookupGroup(name, rootfs string) (gid int, err error) {
	if id, err := parseID(name); err == nil {
		return id, nil
	}

	groupPath := "/etc/group"

	file, err := os.Open(groupPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", groupPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		if fields[0] == name {
			gid, err := parseID(fields[2])
			if err != nil {
				return 0, fmt.Errorf("parse gid %q: %w", fields[2], err)
			}
			return gid, nil
		}
	}

	return 0, fmt.Errorf("group %q not found in %s", name, groupPath)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, fmt.Errorf("id must be non-negative")
	}
	return id, nil
}

// mergeEnvVars merges two environment lists; override wins on collision.
func mergeEnvVars(base, override []string) []string {
	envMap := make(map[string]string)

	for _, env := range base {
		if idx := strings.Index(env, "="); idx != -1 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	for _, env := range override {
		if idx := strings.Index(env, "="); idx != -1 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}

	return result
}

// handleSignalsAndWait starts the main child (the user command), then:
//   - reaps zombies (including adopted grandchildren) on SIGCHLD
//   - forwards SIGTERM/SIGINT/SIGHUP/SIGQUIT/SIGUSR1/SIGUSR2 to the main
//     child
//
// signal.Notify is installed before the child starts: if it exits before
// that, the SIGCHLD would be missed and init would block forever waiting
// for a signal that already happened.
func handleSignalsAndWait(cmd *exec.Cmd) int {
	sigChan := make(chan os.Signal, 10)

	signal.Notify(sigChan,
		syscall.SIGCHLD,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGQUIT,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	)
	defer signal.Stop(sigChan)

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "init: failed to start command: %v\n", err)
		return 1
	}

	mainChildPid := cmd.Process.Pid
	var mainChildExitCode int
	mainChildExited := false

	// The main child may have already exited before the first SIGCHLD is
	// even delivered; reap non-blockingly once up front to catch that.
	if exitCode, childExited := reapZombies(mainChildPid); childExited {
		return exitCode
	}

	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGCHLD:
			exitCode, childExited := reapZombies(mainChildPid)
			if childExited {
				mainChildExitCode = exitCode
				mainChildExited = true
			}

			if mainChildExited {
				return mainChildExitCode
			}

		case syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGQUIT,
			syscall.SIGUSR1, syscall.SIGUSR2:
			if cmd.Process != nil && !mainChildExited {
				_ = cmd.Process.Signal(sig)
			}
		}
	}
}

// reapZombies waits (non-blocking) on any exited child, returning the main
// child's exit code if it was among them.
func reapZombies(mainChildPid int) (int, bool) {
	mainChildExitCode := 0
	mainChildExited := false

	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)

		if err != nil {
			if err == unix.ECHILD {
				break
			}
			break
		}

		if pid <= 0 {
			break
		}

		if pid == mainChildPid {
			mainChildExited = true
			if status.Exited() {
				mainChildExitCode = status.ExitStatus()
			} else if status.Signaled() {
				mainChildExitCode = 128 + int(status.Signal())
			}
		}
		// Other children are orphaned grandchildren; reap silently.
	}

	return mainChildExitCode, mainChildExited
}

// setupMounts applies bind and named-volume mounts.
//
// When rootfs != "", mount targets are resolved under rootfs (e.g.
// rootfs+"/data") so that after chroot they appear as "/data" inside the
// container — this keeps the mount(2) source (a host path) resolvable
// before the chroot happens, matching runc's pre-pivot mount ordering.
func setupMounts(rootfs string, mounts []volume.Mount) error {
	if rootfs != "" {
		abs, err := filepath.Abs(rootfs)
		if err != nil {
			return fmt.Errorf("abs rootfs: %w", err)
		}
		rootfs = abs
	}
	for _, m := range mounts {
		if err := performMount(rootfs, m); err != nil {
			return fmt.Errorf("mount %s -> %s: %w", m.Source, m.Target, err)
		}
	}
	return nil
}

func performMount(rootfs string, m volume.Mount) error {
	source, err := resolveMountSource(m)
	if err != nil {
		return err
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("empty mount source for target %s", m.Target)
	}

	target := m.Target
	if rootfs != "" {
		target = filepath.Join(rootfs, strings.TrimPrefix(m.Target, "/"))
	}

	isDir, err := ensureMountTarget(source, target)
	if err != nil {
		return err
	}

	flags := uintptr(unix.MS_BIND)
	if isDir {
		flags |= uintptr(unix.MS_REC)
	}
	if err := unix.Mount(source, target, "", flags, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", source, target, err)
	}

	if m.ReadOnly {
		remountFlags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
		if isDir {
			remountFlags |= uintptr(unix.MS_REC)
		}
		if err := unix.Mount("", target, "", remountFlags, ""); err != nil {
			return fmt.Errorf("remount %s as read-only: %w", target, err)
		}
	}

	return nil
}

func ensureMountTarget(source, target string) (bool, error) {
	srcInfo, err := os.Stat(source)
	if err != nil {
		return false, fmt.Errorf("stat mount source %s: %w", source, err)
	}

	if srcInfo.IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return false, fmt.Errorf("create mount target dir %s: %w", target, err)
		}
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return false, fmt.Errorf("create mount target parent dir %s: %w", filepath.Dir(target), err)
	}
	if fi, err := os.Stat(target); err == nil {
		if fi.IsDir() {
			return false, fmt.Errorf("mount target %s is a directory, but source %s is a file", target, source)
		}
		return false, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE, 0644)
	if err != nil {
		return false, fmt.Errorf("create mount target file %s: %w", target, err)
	}
	_ = f.Close()
	return false, nil
}

func resolveMountSource(m volume.Mount) (string, error) {
	switch m.Type {
	case volume.MountTypeBind:
		return m.Source, nil
	case volume.MountTypeVolume:
		if strings.TrimSpace(m.VolumePath) != "" {
			return m.VolumePath, nil
		}
		return resolveNamedVolumePath(m.Source)
	default:
		return "", fmt.Errorf("unknown mount type: %s", m.Type)
	}
}

func resolveNamedVolumePath(name string) (string, error) {
	containerDir := os.Getenv(envutil.StatePathEnvVar)
	if strings.TrimSpace(containerDir) == "" {
		return "", fmt.Errorf("missing %s environment variable (cannot resolve named volume %q)", envutil.StatePathEnvVar, name)
	}

	// containerDir is <rootDir>/containers/<id>
	rootDir := filepath.Dir(filepath.Dir(containerDir))

	vs, err := volume.NewVolumeStore(rootDir)
	if err != nil {
		return "", fmt.Errorf("initialize volume store: %w", err)
	}

	if !vs.Exists(name) {
		if _, err := vs.Create(name); err != nil {
			if !vs.Exists(name) {
				return "", fmt.Errorf("create volume %q: %w", name, err)
			}
		}
	}

	vol, err := vs.Get(name)
	if err != nil {
		return "", fmt.Errorf("get volume %q: %w", name, err)
	}

	return vol.Path, nil
}
