//go:build !linux
// +build !linux

package runtime

import (
	"fmt"
	"os"
	"runtime"
)

// RunContainerInit is not supported on non-Linux platforms.
func RunContainerInit() {
	fmt.Fprintf(os.Stderr, "cubo init is only supported on Linux (current OS: %s)\n", runtime.GOOS)
	os.Exit(1)
}
