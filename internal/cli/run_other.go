//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	tty         bool
	interactive bool
	rootfsFlag  string
	detach      bool

	containerName string
	hostname      string
	envVars       []string
	workDir       string
	user          string

	publishPorts []string
	volumes      []string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] BLUEPRINT COMMAND [ARG...]",
	Short: "Run a command in a new container",
	Long:  "Creates and runs a new container. Linux only.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("cubo only supports Linux (current OS: %s)", runtime.GOOS)
	},
}

func init() {
	runCmd.Flags().BoolVarP(&tty, "tty", "t", false, "allocate a pseudo-TTY")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "keep STDIN open even if not attached")
	runCmd.Flags().StringVar(&rootfsFlag, "rootfs", "", "use this directory as the container root filesystem")
	runCmd.Flags().BoolVarP(&detach, "detach", "d", false, "run the container in the background")

	runCmd.Flags().StringArrayVarP(&publishPorts, "publish", "p", nil, "publish a port")
	runCmd.Flags().StringArrayVarP(&volumes, "volume", "v", nil, "bind mount or named volume")

	runCmd.Flags().StringVar(&containerName, "name", "", "assign a name to the container")
	runCmd.Flags().StringVar(&hostname, "hostname", "", "container hostname")
	runCmd.Flags().StringArrayVarP(&envVars, "env", "e", nil, "set an environment variable")
	runCmd.Flags().StringVarP(&workDir, "workdir", "w", "", "working directory inside the container")
	runCmd.Flags().StringVarP(&user, "user", "u", "", "user to run as")
}
