//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var blueprintCmd = &cobra.Command{
	Use:   "blueprint [OPTIONS]",
	Short: "List locally stored blueprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("blueprint is only supported on Linux (current OS: %s)", runtime.GOOS)
	},
}

func init() {
	blueprintCmd.Flags().BoolP("quiet", "q", false, "only show blueprint IDs")
	blueprintCmd.Flags().Bool("no-trunc", false, "don't truncate output")
	blueprintCmd.Flags().String("format", "table", "output format (table or json)")
}
