//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var psCmd = &cobra.Command{
	Use:   "ps [CONTAINER...]",
	Short: "List containers",
	Long:  "Lists containers. Linux only.",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("cubo only supports Linux (current OS: %s)", runtime.GOOS)
	},
}
