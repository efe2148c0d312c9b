//go:build !linux
// +build !linux

package runtime

import (
	"fmt"
	"os/exec"
	"runtime"
)

func runWithPTY(cmd *exec.Cmd, interactive bool) (int, error) {
	return -1, fmt.Errorf("PTY support requires Linux (current OS: %s)", runtime.GOOS)
}
