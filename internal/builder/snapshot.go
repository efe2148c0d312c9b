//go:build linux
// +build linux

package builder

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// snapshotRootfs hardlinks every regular file in rootfsDir into a fresh
// temp directory, giving a cheap, same-filesystem "before" picture to diff
// against after a step runs. Grounded on §4.6 step 5's "hardlink snapshot"
// approach: os.Link costs no extra disk space and works because a step
// never rewrites a file in place without first removing it (the rootfs
// assembler and copyFile both os.Remove before creating).
func (b *Builder) snapshotRootfs(rootfsDir string) (string, error) {
	snapshot, err := os.MkdirTemp(b.StateRoot, "snapshot-*")
	if err != nil {
		return "", err
	}

	err = filepath.WalkDir(rootfsDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(rootfsDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(snapshot, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Link(path, target); err != nil {
				// Cross-device or special file: fall back to a copy so the
				// snapshot stays complete even when a hardlink can't be made.
				return copyFile(path, target, info.Mode())
			}
			return nil
		}
	})
	if err != nil {
		os.RemoveAll(snapshot)
		return "", err
	}
	return snapshot, nil
}

// diffAndPackage compares rootfsDir against its pre-step snapshot, tars the
// delta (new/changed files as regular entries, deletions as OCI whiteout
// entries), gzip-compresses it, and stores it in the image store under tag.
// The digest of the compressed tar is the layer digest; the digest of the
// uncompressed tar is the diff-id, per §4.6 steps 5-6.
func (b *Builder) diffAndPackage(snapshot, rootfsDir, tag string) (*layerResult, error) {
	tmp, err := os.CreateTemp(b.StateRoot, "layer-*.tar.gz")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	defer tmp.Close()

	diffHasher := sha256.New()
	tw, gzw, err := newDiffWriters(tmp, diffHasher)
	if err != nil {
		return nil, err
	}

	empty := true
	if err := walkDiff(snapshot, rootfsDir, func(hdr *tar.Header, body io.Reader) error {
		empty = false
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if body != nil {
			if _, err := io.Copy(tw, body); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		tw.Close()
		gzw.Close()
		return nil, fmt.Errorf("diff rootfs: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if empty {
		return nil, nil
	}

	diffID := digest.NewDigest(digest.SHA256, diffHasher)

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	layerHasher := sha256.New()
	size, err := io.Copy(layerHasher, f)
	if err != nil {
		return nil, err
	}
	layerDigest := digest.NewDigest(digest.SHA256, layerHasher)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := b.Images.PutBlob(tag, layerDigest, f); err != nil {
		return nil, fmt.Errorf("store layer blob: %w", err)
	}

	return &layerResult{Digest: layerDigest, DiffID: diffID, Size: size}, nil
}

// newDiffWriters returns a tar.Writer that feeds both a gzip-compressed
// stream (into tmp) and, uncompressed, into diffHasher — giving the layer
// digest and diff-id from a single walk.
func newDiffWriters(tmp *os.File, diffHasher io.Writer) (*tar.Writer, *gzip.Writer, error) {
	gzw := gzip.NewWriter(tmp)
	tw := tar.NewWriter(io.MultiWriter(gzw, diffHasher))
	return tw, gzw, nil
}

// walkDiff compares oldDir (pre-step snapshot) against newDir (post-step
// rootfs) and invokes emit once per delta entry: a tar header (and body
// reader, for regular files) for anything added or changed, and an OCI
// whiteout header for anything removed.
func walkDiff(oldDir, newDir string, emit func(hdr *tar.Header, body io.Reader) error) error {
	seen := make(map[string]bool)

	err := filepath.WalkDir(newDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(newDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		seen[rel] = true

		info, err := d.Info()
		if err != nil {
			return err
		}

		oldPath := filepath.Join(oldDir, rel)
		if unchanged(oldPath, path, info) {
			return nil
		}

		return emitCreate(path, rel, info, emit)
	})
	if err != nil {
		return err
	}

	return filepath.WalkDir(oldDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(oldDir, path)
		if err != nil {
			return err
		}
		if rel == "." || seen[rel] {
			return nil
		}
		// rel existed before the step and is gone now: emit a whiteout,
		// unless an ancestor directory was also removed — that ancestor's
		// own whiteout already covers this entire subtree.
		if ancestorRemoved(rel, seen) {
			return nil
		}
		return emit(whiteoutHeader(rel), nil)
	})
}

func ancestorRemoved(rel string, seen map[string]bool) bool {
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if !seen[dir] {
			return true
		}
	}
	return false
}

func unchanged(oldPath, newPath string, newInfo fs.FileInfo) bool {
	oldInfo, err := os.Lstat(oldPath)
	if err != nil {
		return false
	}
	if oldInfo.IsDir() != newInfo.IsDir() {
		return false
	}
	if oldInfo.IsDir() {
		return true // directory presence is enough; contents are diffed per-entry
	}
	if oldInfo.Mode() != newInfo.Mode() || oldInfo.Size() != newInfo.Size() {
		return false
	}
	return os.SameFile(oldInfo, newInfo)
}

func emitCreate(path, rel string, info fs.FileInfo, emit func(hdr *tar.Header, body io.Reader) error) error {
	if info.IsDir() {
		hdr := &tar.Header{Name: rel + "/", Typeflag: tar.TypeDir, Mode: int64(info.Mode().Perm())}
		return emit(hdr, nil)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(path)
		if err != nil {
			return err
		}
		hdr := &tar.Header{Name: rel, Typeflag: tar.TypeSymlink, Linkname: link, Mode: int64(info.Mode().Perm())}
		return emit(hdr, nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	hdr := &tar.Header{Name: rel, Typeflag: tar.TypeReg, Mode: int64(info.Mode().Perm()), Size: info.Size()}
	return emit(hdr, f)
}

func whiteoutHeader(rel string) *tar.Header {
	dir, base := filepath.Split(rel)
	return &tar.Header{Name: filepath.Join(dir, ".wh."+base), Typeflag: tar.TypeReg}
}
