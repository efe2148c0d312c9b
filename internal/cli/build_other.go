//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [OPTIONS] CONTEXT",
	Short: "Build a blueprint from a build file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("build is only supported on Linux (current OS: %s)", runtime.GOOS)
	},
}

func init() {
	buildCmd.Flags().StringP("tag", "t", "", "tag to apply to the built blueprint")
	buildCmd.Flags().StringP("file", "f", "", "build file path")
	buildCmd.Flags().Bool("no-cache", false, "don't reuse cached layers")
}
