//go:build linux
// +build linux

package builder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"cubo/internal/buildfile"
	"cubo/pkg/fileutil"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fileEntry is one hashed file within a COPY source set.
type fileEntry struct {
	rel string
	sum string
}

// canonicalStep is the JSON shape hashed into a cache key: only the fields
// that affect a step's result, in a stable field order.
type canonicalStep struct {
	Parent  string   `json:"parent"`
	Kind    string   `json:"kind"`
	Run     string   `json:"run,omitempty"`
	CopySrc string   `json:"copySrc,omitempty"`
	CopyDst string   `json:"copyDst,omitempty"`
	EnvKey  string   `json:"envKey,omitempty"`
	EnvVal  string   `json:"envVal,omitempty"`
	Workdir string   `json:"workdir,omitempty"`
	Expose  string   `json:"expose,omitempty"`
	Cmd     []string `json:"cmd,omitempty"`
	Content string   `json:"content,omitempty"` // COPY source content hash
}

// cacheKey hashes (parent digest, step kind, step arguments, and — for
// COPY — the content hash of the source set) into a single cache key, per
// §4.6 step 3. Grounded on the teacher's general content-addressing idiom
// used throughout internal/image: sha256 over a canonical encoding.
func cacheKey(parent string, step buildfile.Step, contextDir string) (string, error) {
	cs := canonicalStep{
		Parent:  parent,
		Kind:    step.Kind.String(),
		Run:     step.Run,
		CopySrc: step.CopySrc,
		CopyDst: step.CopyDest,
		EnvKey:  step.EnvKey,
		EnvVal:  step.EnvVal,
		Workdir: step.Workdir,
		Expose:  step.Expose,
		Cmd:     step.Cmd,
	}

	if step.Kind == buildfile.StepCopy {
		hash, err := hashCopySource(contextDir, step.CopySrc)
		if err != nil {
			return "", fmt.Errorf("hash copy source %s: %w", step.CopySrc, err)
		}
		cs.Content = hash
	}

	data, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

// hashCopySource walks pattern (a file or directory under contextDir) and
// hashes the relative path plus content of every file found, in sorted
// order, so the hash is independent of directory-walk ordering.
func hashCopySource(contextDir, pattern string) (string, error) {
	root := filepath.Join(contextDir, filepath.Clean(pattern))

	var entries []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(contextDir, path)
		if err != nil {
			return err
		}
		entries = append(entries, fileEntry{rel: rel, sum: sha256Hex(data)})
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s %s\n", e.rel, e.sum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// layerResult describes a layer produced by executing one step.
type layerResult struct {
	Digest digest.Digest `json:"digest"`
	DiffID digest.Digest `json:"diffId"`
	Size   int64         `json:"size"`
}

func (l *layerResult) Descriptor() ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageLayerGzip,
		Digest:    l.Digest,
		Size:      l.Size,
	}
}

func (b *Builder) cachePath(key string) string {
	return filepath.Join(b.CacheDir, key+".json")
}

func (b *Builder) lookupCache(key string) (*layerResult, bool) {
	data, err := os.ReadFile(b.cachePath(key))
	if err != nil {
		return nil, false
	}
	var entry layerResult
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (b *Builder) saveCache(key string, layer *layerResult) {
	data, err := json.Marshal(layer)
	if err != nil {
		return
	}
	_ = fileutil.AtomicWriteFile(b.cachePath(key), data, 0644)
}
