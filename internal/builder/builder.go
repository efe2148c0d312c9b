//go:build linux
// +build linux

// Package builder executes a buildfile.BuildPlan against a build context
// directory, producing a new image in the image store one layer per step.
//
// Grounded conceptually on taboola-shmocker (the one example repo that is
// itself an image builder) for the shape of a step-execution pipeline
// producing layers, but Cubo does not adopt BuildKit/containerd: Run steps
// execute through this module's own Runtime (§4.8) rather than an external
// build daemon.
package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cubo/internal/buildfile"
	"cubo/internal/distribution"
	"cubo/internal/image"
	"cubo/internal/rootfs"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Options configures a Build invocation.
type Options struct {
	// Tag is the reference the finished image is stored under.
	Tag string

	// NoCache disables cache-key reuse; every step is executed fresh.
	NoCache bool

	// Output receives progress lines, mirroring the teacher's pull
	// progress reporting. Defaults to io.Discard when nil.
	Output io.Writer
}

// Builder executes BuildPlans against an image store, keeping per-step
// cache entries in a sibling directory so a later build with an identical
// (parent digest, step) prefix can reuse layers instead of re-executing.
// A cached layer is reused only when its blob is already stored under the
// build's tag; otherwise the step runs again.
type Builder struct {
	Images    *image.Store
	StateRoot string // scratch directory for Run-step scratch containers
	CacheDir  string // <root>/build-cache
}

// New returns a Builder rooted at rootDir (the same root the image store
// and container store use).
func New(images *image.Store, rootDir string) *Builder {
	return &Builder{
		Images:    images,
		StateRoot: filepath.Join(rootDir, "build-scratch"),
		CacheDir:  filepath.Join(rootDir, "build-cache"),
	}
}

// buildState accumulates the in-progress image across steps.
type buildState struct {
	config       ocispec.Image
	layers       []ocispec.Descriptor
	diffIDs      []digest.Digest
	parentDigest string // cache-chain key, not an OCI digest
}

// Build executes plan against contextDir and stores the resulting image
// under opts.Tag. It returns the digest of the finished config (the image
// id), matching distribution.Pull's return convention.
func (b *Builder) Build(plan *buildfile.BuildPlan, contextDir string, opts *Options) (digest.Digest, error) {
	if opts == nil {
		opts = &Options{}
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	if err := os.MkdirAll(b.StateRoot, 0755); err != nil {
		return "", fmt.Errorf("create build scratch dir: %w", err)
	}
	if err := os.MkdirAll(b.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("create build cache dir: %w", err)
	}

	base, err := b.resolveBase(plan.Base)
	if err != nil {
		return "", fmt.Errorf("resolve base image %s: %w", plan.Base, err)
	}

	bs := buildState{
		config:       *base.Config,
		layers:       append([]ocispec.Descriptor(nil), base.Manifest.Layers...),
		diffIDs:      append([]digest.Digest(nil), base.Config.RootFS.DiffIDs...),
		parentDigest: base.ConfigDigest.String(),
	}

	scratch, err := os.MkdirTemp(b.StateRoot, "build-*")
	if err != nil {
		return "", fmt.Errorf("create build workdir: %w", err)
	}
	defer os.RemoveAll(scratch)

	rootfsDir := filepath.Join(scratch, "rootfs")
	if err := rootfs.Assemble(b.Images, plan.Base, base, rootfsDir); err != nil {
		return "", fmt.Errorf("assemble base rootfs: %w", err)
	}

	for i, step := range plan.Steps {
		fmt.Fprintf(out, "Step %d/%d : %s\n", i+1, len(plan.Steps), describeStep(step))

		key, err := cacheKey(bs.parentDigest, step, contextDir)
		if err != nil {
			return "", fmt.Errorf("compute cache key for step %d: %w", i+1, err)
		}

		if !opts.NoCache {
			if entry, ok := b.lookupCache(key); ok && (entry.Digest == "" || b.Images.HasBlob(opts.Tag, entry.Digest)) {
				fmt.Fprintf(out, " ---> using cache\n")
				applyConfigStep(&bs.config, step)
				if entry.Digest != "" {
					if err := b.applyCachedLayer(opts.Tag, entry, rootfsDir); err != nil {
						return "", fmt.Errorf("apply cached layer for step %d: %w", i+1, err)
					}
					bs.layers = append(bs.layers, entry.Descriptor())
					bs.diffIDs = append(bs.diffIDs, entry.DiffID)
				}
				bs.parentDigest = key
				continue
			}
		}

		layer, err := b.executeStep(step, rootfsDir, contextDir, opts.Tag, &bs.config)
		if err != nil {
			return "", fmt.Errorf("step %d (%s): %w", i+1, step.Kind, err)
		}
		applyConfigStep(&bs.config, step)

		if layer != nil {
			bs.layers = append(bs.layers, layer.Descriptor())
			bs.diffIDs = append(bs.diffIDs, layer.DiffID)
			b.saveCache(key, layer)
		} else {
			b.saveCache(key, &layerResult{})
		}
		bs.parentDigest = key
	}

	for _, l := range base.Manifest.Layers {
		if b.Images.HasBlob(opts.Tag, l.Digest) {
			continue
		}
		blob, err := b.Images.OpenBlob(plan.Base, l.Digest)
		if err != nil {
			return "", fmt.Errorf("open base layer %s: %w", l.Digest, err)
		}
		err = b.Images.PutBlob(opts.Tag, l.Digest, blob)
		blob.Close()
		if err != nil {
			return "", fmt.Errorf("copy base layer %s: %w", l.Digest, err)
		}
	}

	bs.config.RootFS = ocispec.RootFS{Type: "layers", DiffIDs: bs.diffIDs}
	now := buildTimestamp()
	bs.config.Created = &now
	bs.config.History = append(bs.config.History, ocispec.History{
		Created:   &now,
		CreatedBy: "cubo build",
	})

	configSize, err := configSize(&bs.config)
	if err != nil {
		return "", fmt.Errorf("measure image config: %w", err)
	}
	configDigest, err := b.Images.PutConfig(opts.Tag, &bs.config)
	if err != nil {
		return "", fmt.Errorf("store image config: %w", err)
	}

	manifest := &ocispec.Manifest{
		SchemaVersion: 2,
		MediaType:     ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageConfig,
			Digest:    configDigest,
			Size:      configSize,
		},
		Layers: bs.layers,
	}
	if err := b.Images.PutManifest(opts.Tag, manifest); err != nil {
		return "", fmt.Errorf("store image manifest: %w", err)
	}

	fmt.Fprintf(out, "Successfully built %s\n", shortDigest(configDigest))
	return configDigest, nil
}

// applyCachedLayer extracts a cache-hit step's previously stored layer blob
// onto rootfsDir, so the rootfs a later step runs against reflects the
// cached step's effect exactly as it would have if the step had just been
// executed. Without this, a cache hit would record the layer in the
// manifest while leaving rootfsDir untouched, and anything after it (a RUN
// step reading a cached COPY's files, for instance) would run against a
// stale filesystem.
func (b *Builder) applyCachedLayer(tag string, entry *layerResult, rootfsDir string) error {
	blob, err := b.Images.OpenBlob(tag, entry.Digest)
	if err != nil {
		return fmt.Errorf("open cached layer blob: %w", err)
	}
	defer blob.Close()

	return rootfs.ApplyLayer(blob, rootfsDir)
}

func (b *Builder) resolveBase(ref string) (*image.Image, error) {
	if img, err := b.Images.Get(ref); err == nil {
		return img, nil
	}
	if _, err := distribution.Pull(context.Background(), ref, b.Images, distribution.DefaultPullOptions()); err != nil {
		return nil, fmt.Errorf("pull base image: %w", err)
	}
	return b.Images.Get(ref)
}

func describeStep(s buildfile.Step) string {
	switch s.Kind {
	case buildfile.StepRun:
		return "RUN " + s.Run
	case buildfile.StepCopy:
		return fmt.Sprintf("COPY %s %s", s.CopySrc, s.CopyDest)
	case buildfile.StepEnv:
		return fmt.Sprintf("ENV %s=%s", s.EnvKey, s.EnvVal)
	case buildfile.StepWorkdir:
		return "WORKDIR " + s.Workdir
	case buildfile.StepExpose:
		return "EXPOSE " + s.Expose
	case buildfile.StepCmd:
		data, _ := json.Marshal(s.Cmd)
		return "CMD " + string(data)
	default:
		return s.Kind.String()
	}
}

// applyConfigStep folds a step's effect into the accumulated image config.
// Env is additive with last-write-wins per key; the other scalar fields are
// simply overwritten by the most recent step that sets them, per §4.6's
// tie-break rule.
func applyConfigStep(cfg *ocispec.Image, s buildfile.Step) {
	switch s.Kind {
	case buildfile.StepEnv:
		setEnv(cfg, s.EnvKey, s.EnvVal)
	case buildfile.StepWorkdir:
		cfg.Config.WorkingDir = s.Workdir
	case buildfile.StepExpose:
		if cfg.Config.ExposedPorts == nil {
			cfg.Config.ExposedPorts = make(map[string]struct{})
		}
		cfg.Config.ExposedPorts[s.Expose] = struct{}{}
	case buildfile.StepCmd:
		cfg.Config.Cmd = append([]string(nil), s.Cmd...)
	}
}

func setEnv(cfg *ocispec.Image, key, val string) {
	entry := key + "=" + val
	for i, e := range cfg.Config.Env {
		if envKey(e) == key {
			cfg.Config.Env[i] = entry
			return
		}
	}
	cfg.Config.Env = append(cfg.Config.Env, entry)
}

func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}

func configSize(cfg *ocispec.Image) (int64, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func shortDigest(d digest.Digest) string {
	s := d.Encoded()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// buildTimestamp stands in for time.Now at the single place a build needs
// "now": config/history creation time.
func buildTimestamp() time.Time {
	return time.Now().UTC()
}
