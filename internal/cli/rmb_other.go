//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var rmbCmd = &cobra.Command{
	Use:   "rmb [OPTIONS] BLUEPRINT [BLUEPRINT...]",
	Short: "Remove one or more blueprints",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("rmb is only supported on Linux (current OS: %s)", runtime.GOOS)
	},
}

func init() {
	rmbCmd.Flags().BoolP("force", "f", false, "remove even if a container references it")
}
