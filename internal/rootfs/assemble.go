//go:build linux
// +build linux

package rootfs

import (
	"fmt"
	"io"
	"os"

	"cubo/internal/image"
)

// Assemble builds destDir from every layer of img, in manifest order, by
// opening each blob through store, gzip-sniffing and tar-decoding it into
// LayerEvents, and replaying those events on top of whatever previous
// layers already extracted. A later layer's whiteouts only affect what's
// already on disk — they never reach back and remove entries from a layer
// not yet applied, since each layer is decoded and applied in full before
// the next one starts.
func Assemble(store *image.Store, ref string, img *image.Image, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create rootfs directory: %w", err)
	}

	if len(img.Manifest.Layers) == 0 {
		return AssembleMinimal(destDir)
	}

	for i, layer := range img.Manifest.Layers {
		blob, err := store.OpenBlob(ref, layer.Digest)
		if err != nil {
			return fmt.Errorf("open layer %d (%s): %w", i, layer.Digest, err)
		}

		applyErr := ApplyLayer(blob, destDir)
		blob.Close()
		if applyErr != nil {
			return fmt.Errorf("apply layer %d (%s): %w", i, layer.Digest, applyErr)
		}
	}

	return nil
}

// ApplyLayer decodes a single (possibly gzip-compressed) tar layer stream
// and replays it on top of whatever is already extracted into destDir. It
// is the same decode-then-apply path Assemble uses per layer, exported so
// a caller holding one already-fetched blob — a build step's cached layer,
// for instance — can extract it without re-deriving the full image
// manifest.
func ApplyLayer(r io.Reader, destDir string) error {
	events, err := DecodeLayer(r)
	if err != nil {
		return fmt.Errorf("decode layer: %w", err)
	}
	return applyEvents(events, destDir)
}
