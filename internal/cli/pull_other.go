//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull [OPTIONS] BLUEPRINT",
	Short: "Pull a blueprint from a remote registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("pull is only supported on Linux (current OS: %s)", runtime.GOOS)
	},
}

func init() {
	pullCmd.Flags().BoolP("quiet", "q", false, "only print the resulting digest")
	pullCmd.Flags().String("platform", "linux/amd64", "target platform (os/arch)")
}
