//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	stopTimeout int
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop CONTAINER [CONTAINER...]",
	Short: "Stop one or more running containers",
	Long:  "Stops one or more running containers. Linux only.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("cubo only supports Linux (current OS: %s)", runtime.GOOS)
	},
}

func init() {
	stopCmd.Flags().IntVarP(&stopTimeout, "time", "t", 10, "seconds to wait for graceful exit before SIGKILL")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "send SIGKILL immediately")
}
