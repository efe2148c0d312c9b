//go:build linux
// +build linux

package runtime

import (
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// runWithPTY starts cmd attached to a pseudo-terminal instead of the plain
// os.Stdin/Stdout/Stderr pipes used for non-TTY containers. This gives the
// process inside the container a real controlling terminal, so interactive
// programs (shells, editors, pagers) see isatty()==true and get working
// SIGWINCH-driven resize, matching `docker run -it`.
func runWithPTY(cmd *exec.Cmd, interactive bool) (int, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, err
	}
	defer ptmx.Close()

	resizeCh := make(chan os.Signal, 1)
	signal.Notify(resizeCh, syscall.SIGWINCH)
	defer signal.Stop(resizeCh)

	go func() {
		for range resizeCh {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	resizeCh <- syscall.SIGWINCH

	if interactive {
		if oldState, err := makeRawTerminal(int(os.Stdin.Fd())); err == nil {
			defer restoreTerminal(int(os.Stdin.Fd()), oldState)
		}
	}

	doneOut := make(chan struct{})
	go func() {
		defer close(doneOut)
		_, _ = io.Copy(os.Stdout, ptmx)
	}()

	if interactive {
		// stdin copying may block past process exit; it is not waited on.
		go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	}

	err = cmd.Wait()
	_ = ptmx.Close()
	<-doneOut

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				return 128 + int(ws.Signal()), nil
			}
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// makeRawTerminal switches fd to raw mode, returning the previous termios
// so the caller can restore it. Linux-only; errors (e.g. fd is not a TTY)
// are left for the caller to ignore.
func makeRawTerminal(fd int) (*unix.Termios, error) {
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	newState := *oldState
	newState.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	newState.Oflag &^= unix.OPOST
	newState.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	newState.Cflag &^= unix.CSIZE | unix.PARENB
	newState.Cflag |= unix.CS8
	newState.Cc[unix.VMIN] = 1
	newState.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &newState); err != nil {
		return nil, err
	}
	return oldState, nil
}

func restoreTerminal(fd int, state *unix.Termios) {
	if state == nil {
		return
	}
	_ = unix.IoctlSetTermios(fd, unix.TCSETS, state)
}
