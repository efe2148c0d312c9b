//go:build !linux
// +build !linux

package builder

import (
	"fmt"
	"io"
	"runtime"

	"cubo/internal/buildfile"
	"cubo/internal/image"

	"github.com/opencontainers/go-digest"
)

var errNotSupported = fmt.Errorf("image building is only supported on Linux (current OS: %s)", runtime.GOOS)

// Options configures a Build invocation.
type Options struct {
	Tag     string
	NoCache bool
	Output  io.Writer
}

// Builder is not functional on non-Linux platforms.
type Builder struct {
	Images    *image.Store
	StateRoot string
	CacheDir  string
}

// New returns a Builder; Build always fails on this platform.
func New(images *image.Store, rootDir string) *Builder {
	return &Builder{Images: images}
}

// Build is not supported on non-Linux platforms.
func (b *Builder) Build(plan *buildfile.BuildPlan, contextDir string, opts *Options) (digest.Digest, error) {
	return "", errNotSupported
}
