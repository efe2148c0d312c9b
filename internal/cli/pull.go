//go:build linux
// +build linux

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/spf13/cobra"

	"cubo/internal/distribution"
	"cubo/internal/image"
	"cubo/pkg/cubo_errors"
)

var pullCmd = &cobra.Command{
	Use:   "pull [OPTIONS] BLUEPRINT",
	Short: "Pull a blueprint from a remote registry",
	Long: `Pulls a blueprint from a remote registry into local storage.

Supported reference formats:
  - alpine                    -> docker.io/library/alpine:latest
  - alpine:3.18                -> docker.io/library/alpine:3.18
  - nginx:latest                -> docker.io/library/nginx:latest
  - gcr.io/project/image:tag    -> gcr.io/project/image:tag
  - name@sha256:abc123...       -> pull by digest

Examples:
  cubo pull alpine
  cubo pull alpine:3.18
  cubo pull gcr.io/distroless/static:latest
  cubo pull nginx@sha256:abc123...`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

var (
	pullQuiet    bool
	pullPlatform string
)

func init() {
	pullCmd.Flags().BoolVarP(&pullQuiet, "quiet", "q", false, "only print the resulting digest")
	pullCmd.Flags().StringVar(&pullPlatform, "platform", "linux/amd64", "target platform (os/arch)")
}

func runPull(cmd *cobra.Command, args []string) error {
	blueprint := args[0]

	imageRoot := resolvedRoot()
	store, err := image.NewStore(imageRoot)
	if err != nil {
		return fmt.Errorf("%w: create image store: %v", cubo_errors.ErrRuntime, err)
	}

	platform, err := parsePlatform(pullPlatform)
	if err != nil {
		return fmt.Errorf("%w: invalid platform: %v", cubo_errors.ErrUsage, err)
	}

	opts := &distribution.PullOptions{
		Quiet:    pullQuiet,
		Platform: platform,
		Output:   os.Stdout,
	}

	dgst, err := distribution.Pull(context.Background(), blueprint, store, opts)
	if err != nil {
		return fmt.Errorf("%w: pull %s: %v", cubo_errors.ErrRegistry, blueprint, err)
	}

	if pullQuiet {
		fmt.Println(dgst.Encoded())
	}

	return nil
}

// parsePlatform parses a platform string like "linux/amd64" or
// "linux/arm64/v8" into a v1.Platform.
func parsePlatform(s string) (*v1.Platform, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("expected format os/arch[/variant], got %q", s)
	}

	platform := v1.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 && parts[2] != "" {
		platform.Variant = parts[2]
	}

	return &platform, nil
}
