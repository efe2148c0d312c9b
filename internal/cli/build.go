//go:build linux
// +build linux

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cubo/internal/buildfile"
	"cubo/internal/builder"
	"cubo/internal/image"
	"cubo/pkg/cubo_errors"
)

var (
	buildTag     string
	buildFile    string
	buildNoCache bool
)

var buildCmd = &cobra.Command{
	Use:   "build [OPTIONS] CONTEXT",
	Short: "Build a blueprint from a build file",
	Long: `Builds a new blueprint from a build file and a build context
directory.

The build file defaults to "Cubofile" inside the context directory; a
".toml" build file is parsed as the structured grammar, anything else as
the line-based text grammar.

Examples:
  cubo build .
  cubo build -t myapp:latest .
  cubo build -f build.toml -t myapp:latest .`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildTag, "tag", "t", "", "tag to apply to the built blueprint")
	buildCmd.Flags().StringVarP(&buildFile, "file", "f", "", `build file path (default "Cubofile" inside the context)`)
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "don't reuse cached layers")
}

func runBuild(cmd *cobra.Command, args []string) error {
	contextDir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("%w: invalid context path: %v", cubo_errors.ErrUsage, err)
	}
	if info, err := os.Stat(contextDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: context directory does not exist: %s", cubo_errors.ErrUsage, contextDir)
	}

	buildFilePath := buildFile
	if buildFilePath == "" {
		buildFilePath = filepath.Join(contextDir, "Cubofile")
	} else if !filepath.IsAbs(buildFilePath) {
		buildFilePath = filepath.Join(contextDir, buildFilePath)
	}

	plan, err := parseBuildFile(buildFilePath)
	if err != nil {
		return fmt.Errorf("%w: %v", cubo_errors.ErrUsage, err)
	}

	root := resolvedRoot()
	imageStore, err := image.NewStore(root)
	if err != nil {
		return fmt.Errorf("%w: create image store: %v", cubo_errors.ErrRuntime, err)
	}

	b := builder.New(imageStore, root)
	opts := &builder.Options{
		Tag:     buildTag,
		NoCache: buildNoCache,
		Output:  os.Stdout,
	}

	dgst, err := b.Build(plan, contextDir, opts)
	if err != nil {
		return fmt.Errorf("%w: %v", cubo_errors.ErrRuntime, err)
	}

	fmt.Fprintf(os.Stdout, "Successfully built %s\n", dgst.Encoded()[:12])
	if buildTag != "" {
		fmt.Fprintf(os.Stdout, "Successfully tagged %s\n", buildTag)
	}

	return nil
}

// parseBuildFile dispatches to the structured (.toml) or text grammar based
// on the build file's extension.
func parseBuildFile(path string) (*buildfile.BuildPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return buildfile.ParseStructured(data)
	}
	return buildfile.ParseText(string(data))
}
