// Package image implements Cubo's content-addressed image store: one
// directory per reference, holding a manifest, a config, and the layer
// blobs it references.
package image

import (
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Image is a fully resolved image: its manifest, config, and the tags
// currently pointing at it.
type Image struct {
	// ID is the image id for display: the first 12 hex chars of the
	// config's digest.
	ID string

	// ConfigDigest is the full digest of the config blob.
	ConfigDigest digest.Digest

	// RepoTags lists every reference string currently resolving to this
	// image ("alpine:latest", "alpine:3.18", ...).
	RepoTags []string

	Size         int64
	Created      time.Time
	Architecture string
	OS           string

	Manifest *ocispec.Manifest
	Config   *ocispec.Image

	// Dir is the image's on-disk directory (<root>/images/<sanitized-ref>).
	Dir string
}

// Summary is the lightweight view used by `cubo blueprint`.
type Summary struct {
	ID      string
	RepoTag string
	Size    int64
	Created time.Time
}

// indexEntry maps one tag reference to the sanitized directory holding it.
// Several tags can point at the same directory (and therefore the same
// config digest) when an image is pulled under multiple names.
type indexEntry struct {
	Ref          string        `json:"ref"`
	Dir          string        `json:"dir"`
	ConfigDigest digest.Digest `json:"configDigest"`
}

// imageIndex is the top-level <root>/images/index.json: Cubo's equivalent
// of the teacher's shared repositories.json, now keyed by sanitized
// directory rather than pointing into one shared blobs/ tree.
type imageIndex struct {
	Entries []indexEntry `json:"entries"`
}

// DefaultImagesDir is the directory name for image storage under the root.
const DefaultImagesDir = "images"

// sanitizeRef turns a reference string into a filesystem-safe directory
// name, replacing "/", ":" and "@" with "_" while keeping the original string
// recoverable from the index (manifest.json also keeps it in an
// annotation, per §4.3).
func sanitizeRef(ref string) string {
	out := make([]byte, 0, len(ref))
	for i := 0; i < len(ref); i++ {
		switch ref[i] {
		case '/', ':', '@':
			out = append(out, '_')
		default:
			out = append(out, ref[i])
		}
	}
	return string(out)
}
