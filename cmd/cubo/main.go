package main

import (
	"os"

	"cubo/internal/cli"
	"cubo/internal/runtime"
	"cubo/pkg/envutil"
)

func main() {
	// These are detected via environment variable rather than a subcommand,
	// to avoid polluting the user-facing command namespace. Set by the
	// parent/shim process just before re-exec'ing /proc/self/exe.
	if os.Getenv(envutil.InitEnvVar) == "1" {
		runtime.RunContainerInit()
		return
	}

	if os.Getenv(envutil.ShimEnvVar) == "1" {
		runtime.RunContainerShim()
		return
	}

	cli.Execute()
}
