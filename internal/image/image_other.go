//go:build !linux
// +build !linux

package image

import (
	"fmt"
	"io"
	"runtime"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

var errNotSupported = fmt.Errorf("image store is only supported on Linux (current OS: %s)", runtime.GOOS)

// Store stub for non-Linux platforms.
type Store struct{}

// NewStore returns an error on non-Linux platforms.
func NewStore(rootDir string) (*Store, error) {
	return nil, errNotSupported
}

func (s *Store) Exists(ref string) bool { return false }

func (s *Store) PutBlob(ref string, expectedDigest digest.Digest, r io.Reader) error {
	return errNotSupported
}

func (s *Store) OpenBlob(ref string, dgst digest.Digest) (io.ReadCloser, error) {
	return nil, errNotSupported
}

func (s *Store) HasBlob(ref string, dgst digest.Digest) bool { return false }

func (s *Store) PutConfig(ref string, config *ocispec.Image) (digest.Digest, error) {
	return "", errNotSupported
}

func (s *Store) PutManifest(ref string, manifest *ocispec.Manifest) error {
	return errNotSupported
}

func (s *Store) Get(ref string) (*Image, error) {
	return nil, errNotSupported
}

func (s *Store) List() ([]Summary, error) {
	return nil, errNotSupported
}

func (s *Store) Remove(ref string, force bool, inUse func(blueprint string) bool) error {
	return errNotSupported
}
