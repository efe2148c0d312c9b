package cli

import (
	"fmt"
	"os"

	"cubo/internal/config"
	"cubo/pkg/cubo_errors"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via -ldflags; defaults to "0.1.0".
	Version = "0.1.0"

	// rootDirFlag is the --root-dir flag value, resolved against
	// config.ResolveRoot's precedence before any command runs.
	rootDirFlag string
)

var rootCmd = &cobra.Command{
	Use:   "cubo",
	Short: "A minimal Linux container runtime and image manager",
	Long: `Cubo is a small container runtime and image manager.

It can pull images from an OCI registry, build new images from a build
file, assemble root filesystems directly from image layers, and run,
stop, and inspect containers using Linux namespaces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

// Execute runs the root command and translates any returned error into a
// process exit code via cubo_errors.Exit, per §7.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cubo:", err)
		os.Exit(cubo_errors.Exit(err))
	}
}

// resolvedRoot returns the effective root directory for the current
// invocation, honoring --root-dir over $CUBO_ROOT over the XDG fallbacks.
func resolvedRoot() string {
	return config.ResolveRoot(rootDirFlag)
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(blueprintCmd)
	rootCmd.AddCommand(rmbCmd)

	rootCmd.PersistentFlags().StringVar(&rootDirFlag, "root-dir", "",
		"root directory for container and image state (default: $CUBO_ROOT or an XDG state directory)")
}
