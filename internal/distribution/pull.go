//go:build linux
// +build linux

package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/singleflight"

	"cubo/internal/image"
)

// pullGroup collapses concurrent Pull calls for the same canonical
// reference made within one process into a single download, so they share
// one in-flight fetch instead of downloading the same layers twice into the
// same store directory. Separate cubo invocations do not share it.
var pullGroup singleflight.Group

// PullOptions configures Pull.
type PullOptions struct {
	// Quiet suppresses progress output.
	Quiet bool
	// Platform overrides the host's default platform selection.
	Platform *v1.Platform
	// Output is where progress messages are written (default: os.Stdout).
	Output io.Writer
}

// DefaultPullOptions returns the default pull options.
func DefaultPullOptions() *PullOptions {
	return &PullOptions{Platform: nil, Output: nil}
}

// Pull resolves ref against its registry, downloads its manifest and
// layers (following a manifest list to the host's platform), and stores
// everything under store's reference directory for ref. Returns the
// digest of the config blob (the image id), matching the teacher's
// Pull's convention of returning the identity of what was actually
// stored.
//
// Grounded on §4.2's prose directly: the teacher's internal/distribution
// delegated this whole operation to go-containerregistry's remote
// package, which is exactly the abstraction this rewrite replaces with
// the hand-written Client in client.go.
func Pull(ctx context.Context, ref string, store *image.Store, opts *PullOptions) (digest.Digest, error) {
	if opts == nil {
		opts = DefaultPullOptions()
	}
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	parsed, err := image.ParseReference(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	canonical := parsed.String()

	v, err, _ := pullGroup.Do(canonical, func() (interface{}, error) {
		return pullLocked(ctx, parsed, canonical, store, opts, output)
	})
	if err != nil {
		return "", err
	}
	return v.(digest.Digest), nil
}

// pullLocked does the actual fetch-manifest/fetch-layers/store-config work
// for one canonical reference. Callers reach it only through pullGroup.Do,
// which ensures at most one of these runs per reference at a time within
// this process.
func pullLocked(ctx context.Context, parsed image.Reference, canonical string, store *image.Store, opts *PullOptions, output io.Writer) (digest.Digest, error) {
	client := NewClient()
	if opts.Platform != nil {
		client.Platform = *opts.Platform
	}

	if !opts.Quiet {
		fmt.Fprintf(output, "Pulling %s...\n", canonical)
	}

	token, err := client.ResolveAuth(ctx, parsed)
	if err != nil {
		return "", fmt.Errorf("resolve registry auth: %w", err)
	}

	manifest, _, err := client.FetchManifest(ctx, parsed, token)
	if err != nil {
		return "", fmt.Errorf("fetch manifest for %s: %w", canonical, err)
	}

	if !opts.Quiet {
		fmt.Fprintf(output, "Downloading %d layer(s)...\n", len(manifest.Layers))
	}

	for i, layer := range manifest.Layers {
		if store.HasBlob(canonical, layer.Digest) {
			if !opts.Quiet {
				fmt.Fprintf(output, "  layer %d: %s (exists)\n", i+1, shortDigest(layer.Digest))
			}
			continue
		}

		if !opts.Quiet {
			fmt.Fprintf(output, "  layer %d: %s (%s)\n", i+1, shortDigest(layer.Digest), sizeString(layer.Size))
		}

		if err := fetchAndStoreBlob(ctx, client, parsed, layer.Digest, token, store); err != nil {
			return "", fmt.Errorf("download layer %d (%s): %w", i+1, layer.Digest, err)
		}
	}

	if !store.HasBlob(canonical, manifest.Config.Digest) {
		if !opts.Quiet {
			fmt.Fprintf(output, "Downloading config: %s\n", shortDigest(manifest.Config.Digest))
		}
		if err := fetchAndStoreBlob(ctx, client, parsed, manifest.Config.Digest, token, store); err != nil {
			return "", fmt.Errorf("download config: %w", err)
		}
	}

	config, err := loadStoredConfig(store, canonical, manifest.Config.Digest)
	if err != nil {
		return "", err
	}
	if _, err := store.PutConfig(canonical, config); err != nil {
		return "", fmt.Errorf("write config.json: %w", err)
	}

	if err := store.PutManifest(canonical, manifest); err != nil {
		return "", fmt.Errorf("store manifest: %w", err)
	}

	if !opts.Quiet {
		fmt.Fprintf(output, "Pulled: %s\n", canonical)
	}

	return manifest.Config.Digest, nil
}

// fetchAndStoreBlob streams dgst from the registry directly into the
// store's digest-verifying writer, retrying once if the downloaded bytes
// fail digest verification. A mismatch only surfaces after the pipe has
// already carried the bad bytes into the store's own verifying writer, so
// there is nothing to rewind: the one permitted retry re-runs the whole
// fetch against a fresh pipe and a fresh store write.
func fetchAndStoreBlob(ctx context.Context, client *Client, ref image.Reference, dgst digest.Digest, tok *Token, store *image.Store) error {
	err := fetchAndStoreBlobOnce(ctx, client, ref, dgst, tok, store)
	if err != nil && errors.Is(err, ErrCorrupt) {
		err = fetchAndStoreBlobOnce(ctx, client, ref, dgst, tok, store)
	}
	return err
}

func fetchAndStoreBlobOnce(ctx context.Context, client *Client, ref image.Reference, dgst digest.Digest, tok *Token, store *image.Store) error {
	pr, pw := io.Pipe()

	fetchErrCh := make(chan error, 1)
	go func() {
		fetchErrCh <- client.FetchBlob(ctx, ref, dgst, tok, pw)
		pw.Close()
	}()

	storeErr := store.PutBlob(ref.String(), dgst, pr)
	fetchErr := <-fetchErrCh

	if fetchErr != nil {
		pr.CloseWithError(fetchErr)
		return fetchErr
	}
	return storeErr
}

// loadStoredConfig reads back the config blob just written (PutBlob keys
// it by digest only; PutConfig additionally wants the parsed struct to
// also write config.json and recompute the digest from its own encoding,
// so we round-trip through the stored bytes rather than keep two paths
// for "store a config").
func loadStoredConfig(store *image.Store, ref string, dgst digest.Digest) (*ocispec.Image, error) {
	rc, err := store.OpenBlob(ref, dgst)
	if err != nil {
		return nil, fmt.Errorf("reopen downloaded config: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read downloaded config: %w", err)
	}

	var config ocispec.Image
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse downloaded config: %w", err)
	}
	return &config, nil
}
