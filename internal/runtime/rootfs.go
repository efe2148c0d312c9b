//go:build linux
// +build linux

package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// setupRootfs switches the container's root filesystem and mounts the
// pseudo-filesystems a container needs. It must run first in
// setupContainerEnvironment, before hostname/mount-propagation steps that
// assume the new root is already in place.
//
// Unlike a pivot_root-based runtime, this uses a plain chroot: simpler, and
// sufficient for cubo's threat model (untrusted-workload isolation is not a
// goal — see Non-goals). chroot does not require the new root to be a
// mountpoint, so no self bind-mount is needed first; it only changes path
// resolution for the current process tree, so mount propagation is still
// set to private first to keep the pseudo-filesystem mounts below from
// leaking back to the host.
func setupRootfs(config *ContainerConfig) error {
	if config.Rootfs == "" {
		return nil
	}

	rootfs := config.Rootfs

	if err := validateRootfs(rootfs); err != nil {
		return err
	}

	if err := setMountPropagation(); err != nil {
		return err
	}

	// Bind mounts are set up against the real host path before chroot,
	// since afterwards "/" no longer resolves to the original root.
	if len(config.Mounts) > 0 {
		if err := setupMounts(rootfs, config.Mounts); err != nil {
			return fmt.Errorf("setup mounts: %w", err)
		}
	}

	if err := chrootInto(rootfs); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}

	if err := mountProc(); err != nil {
		return fmt.Errorf("mount /proc: %w", err)
	}
	if err := mountDev(); err != nil {
		return fmt.Errorf("mount /dev: %w", err)
	}
	if err := mountSys(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: mount /sys failed: %v\n", err)
	}

	return nil
}

func validateRootfs(rootfs string) error {
	info, err := os.Stat(rootfs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("rootfs does not exist: %s", rootfs)
		}
		return fmt.Errorf("stat rootfs: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("rootfs is not a directory: %s", rootfs)
	}
	return nil
}

// chrootInto changes the process's root directory to rootfs and moves the
// working directory inside it.
func chrootInto(rootfs string) error {
	absRootfs, err := filepath.Abs(rootfs)
	if err != nil {
		return err
	}

	if err := unix.Chroot(absRootfs); err != nil {
		return fmt.Errorf("chroot syscall: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir to new root: %w", err)
	}

	return nil
}

// mountProc mounts a fresh /proc for the container's PID namespace, enabling
// `ps`, /proc/self/*, and similar to work correctly inside the container.
func mountProc() error {
	target := "/proc"

	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}

	_ = unix.Unmount(target, unix.MNT_DETACH)

	flags := uintptr(unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV)
	if err := unix.Mount("proc", target, "proc", flags, ""); err != nil {
		return fmt.Errorf("mount proc: %w", err)
	}

	return nil
}

// mountDev mounts a minimal tmpfs /dev with the standard device nodes.
func mountDev() error {
	target := "/dev"

	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}

	if err := unix.Mount("tmpfs", target, "tmpfs", unix.MS_NOSUID|unix.MS_STRICTATIME, "mode=0755"); err != nil {
		return fmt.Errorf("mount tmpfs: %w", err)
	}

	devices := []struct {
		path string
		mode uint32
		dev  int
	}{
		{"/dev/null", unix.S_IFCHR | 0666, int(unix.Mkdev(1, 3))},
		{"/dev/zero", unix.S_IFCHR | 0666, int(unix.Mkdev(1, 5))},
		{"/dev/full", unix.S_IFCHR | 0666, int(unix.Mkdev(1, 7))},
		{"/dev/random", unix.S_IFCHR | 0666, int(unix.Mkdev(1, 8))},
		{"/dev/urandom", unix.S_IFCHR | 0666, int(unix.Mkdev(1, 9))},
		{"/dev/tty", unix.S_IFCHR | 0666, int(unix.Mkdev(5, 0))},
	}

	for _, d := range devices {
		if err := unix.Mknod(d.path, d.mode, d.dev); err != nil {
			fmt.Fprintf(os.Stderr, "warning: mknod %s: %v\n", d.path, err)
		}
	}

	symlinks := []struct{ old, new string }{
		{"/proc/self/fd", "/dev/fd"},
		{"/proc/self/fd/0", "/dev/stdin"},
		{"/proc/self/fd/1", "/dev/stdout"},
		{"/proc/self/fd/2", "/dev/stderr"},
	}

	for _, s := range symlinks {
		_ = os.Remove(s.new)
		if err := os.Symlink(s.old, s.new); err != nil {
			fmt.Fprintf(os.Stderr, "warning: symlink %s -> %s: %v\n", s.old, s.new, err)
		}
	}

	ptsDir := "/dev/pts"
	if err := os.MkdirAll(ptsDir, 0755); err != nil {
		return err
	}

	if err := unix.Mount("devpts", ptsDir, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC, "newinstance,ptmxmode=0666,mode=0620"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: mount devpts: %v\n", err)
	}

	ptmx := "/dev/ptmx"
	_ = os.Remove(ptmx)
	if err := os.Symlink("pts/ptmx", ptmx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: symlink /dev/ptmx: %v\n", err)
	}

	return nil
}

// mountSys mounts a read-only sysfs. Not fatal if it fails (e.g. in a
// nested/rootless environment without CAP_SYS_ADMIN over sysfs).
func mountSys() error {
	target := "/sys"

	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}

	flags := unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV | unix.MS_RDONLY
	if err := unix.Mount("sysfs", target, "sysfs", uintptr(flags), ""); err != nil {
		return fmt.Errorf("mount sysfs: %w", err)
	}

	return nil
}
