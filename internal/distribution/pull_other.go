//go:build !linux
// +build !linux

package distribution

import (
	"context"
	"fmt"
	"io"
	"runtime"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"

	"cubo/internal/image"
)

var errNotSupported = fmt.Errorf("distribution operations are only supported on Linux (current OS: %s)", runtime.GOOS)

// PullOptions configures Pull.
type PullOptions struct {
	Quiet    bool
	Platform *v1.Platform
	Output   io.Writer
}

// DefaultPullOptions returns the default pull options.
func DefaultPullOptions() *PullOptions {
	return &PullOptions{}
}

// Pull is not supported on non-Linux platforms.
func Pull(ctx context.Context, ref string, store *image.Store, opts *PullOptions) (digest.Digest, error) {
	return "", errNotSupported
}
