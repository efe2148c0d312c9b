//go:build linux
// +build linux

// Package rootfs assembles a container's root filesystem directly from OCI
// image layers into a single accumulating directory — no overlayfs, no
// mounts. A layer's tar entries are first decoded into a []LayerEvent, then
// applyEvents walks that list against the target directory. Keeping decode
// and apply separate means the filesystem-mutation logic can be exercised
// with synthetic event streams, without constructing real tar archives.
package rootfs

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// whiteoutPrefix marks a tar entry as a deletion marker for an OCI layer,
// per the OCI image spec's whiteout convention.
const whiteoutPrefix = ".wh."

// opaqueWhiteout marks a directory as opaque: entries below it from earlier
// layers should be hidden once this layer is applied.
const opaqueWhiteout = ".wh..wh..opq"

// EventKind distinguishes what a LayerEvent does to the target directory.
type EventKind int

const (
	// EventCreate materializes a file, directory, symlink, hardlink, or fifo.
	EventCreate EventKind = iota
	// EventDelete removes Path (and anything below it) from the accumulated
	// rootfs, per a ".wh.<name>" tar entry.
	EventDelete
	// EventOpaque clears everything previously extracted under Path before
	// continuing to apply this layer's remaining events, per a
	// ".wh..wh..opq" tar entry.
	EventOpaque
)

// LayerEvent is one decoded instruction from a layer's tar stream. Kept
// self-contained (no tar.Reader, no open file handles) so a test can build
// a []LayerEvent by hand and feed it straight to applyEvents.
type LayerEvent struct {
	Kind EventKind

	// Path is the cleaned, slash-separated path relative to the rootfs
	// root (never absolute, never containing "..").
	Path string

	Typeflag byte // tar.TypeDir, TypeReg, TypeSymlink, TypeLink, TypeFifo
	Mode     os.FileMode
	Linkname string // symlink target, or hardlink source path (relative)
	Data     []byte // regular file content, for Typeflag == tar.TypeReg
}

// DecodeLayer reads a (possibly gzip-compressed) tar stream and decodes it
// into an ordered list of LayerEvents, without touching any filesystem.
//
// Grounded on the teacher's internal/snapshot/layer.go: newTarReader's
// gzip magic-byte sniff is kept verbatim, as is extractTar's path-traversal
// guard (filepath.Clean + reject ".." or absolute paths). What changes is
// the output — events, not direct filesystem mutation — and whiteout
// entries become EventDelete/EventOpaque instead of overlayfs char-device
// nodes and xattrs.
func DecodeLayer(r io.Reader) ([]LayerEvent, error) {
	tr, err := newTarReader(r)
	if err != nil {
		return nil, fmt.Errorf("open layer tar stream: %w", err)
	}

	var events []LayerEvent
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}

		cleanName := filepath.Clean(header.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return nil, fmt.Errorf("invalid path in layer tar: %s", header.Name)
		}

		baseName := filepath.Base(cleanName)
		if baseName == opaqueWhiteout {
			events = append(events, LayerEvent{
				Kind: EventOpaque,
				Path: filepath.Dir(cleanName),
			})
			continue
		}
		if strings.HasPrefix(baseName, whiteoutPrefix) {
			deleted := strings.TrimPrefix(baseName, whiteoutPrefix)
			events = append(events, LayerEvent{
				Kind: EventDelete,
				Path: filepath.Join(filepath.Dir(cleanName), deleted),
			})
			continue
		}

		ev := LayerEvent{
			Kind:     EventCreate,
			Path:     cleanName,
			Typeflag: header.Typeflag,
			Mode:     os.FileMode(header.Mode),
			Linkname: header.Linkname,
		}

		switch header.Typeflag {
		case tar.TypeDir, tar.TypeSymlink, tar.TypeLink, tar.TypeFifo:
			// no content to buffer
		case tar.TypeReg, tar.TypeRegA:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read file content for %s: %w", cleanName, err)
			}
			ev.Data = data
		default:
			// Device nodes and anything else are skipped, matching the
			// teacher: containers get a minimal /dev from tmpfs, not from
			// image layers.
			continue
		}

		events = append(events, ev)
	}

	return events, nil
}

// applyEvents replays events against destDir in order. A Create event
// overwrites whatever is already at Path; a Delete removes it; an Opaque
// clears everything under Path so later Create events in the same layer
// start from empty.
func applyEvents(events []LayerEvent, destDir string) error {
	for _, ev := range events {
		target, err := safeJoin(destDir, ev.Path)
		if err != nil {
			return err
		}

		switch ev.Kind {
		case EventDelete:
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("apply whiteout for %s: %w", ev.Path, err)
			}

		case EventOpaque:
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("apply opaque marker for %s: %w", ev.Path, err)
			}
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("recreate opaque directory %s: %w", ev.Path, err)
			}

		case EventCreate:
			if err := applyCreate(destDir, target, ev); err != nil {
				return fmt.Errorf("apply %s: %w", ev.Path, err)
			}
		}
	}
	return nil
}

func applyCreate(destDir, target string, ev LayerEvent) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	switch ev.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, ev.Mode)

	case tar.TypeReg, tar.TypeRegA:
		os.Remove(target)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, ev.Mode)
		if err != nil {
			return err
		}
		_, werr := f.Write(ev.Data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		return werr

	case tar.TypeSymlink:
		os.Remove(target)
		return os.Symlink(ev.Linkname, target)

	case tar.TypeLink:
		linkTarget, err := safeJoin(destDir, filepath.Clean(ev.Linkname))
		if err != nil {
			return err
		}
		os.Remove(target)
		return os.Link(linkTarget, target)

	case tar.TypeFifo:
		os.Remove(target)
		return mkfifo(target, uint32(ev.Mode))

	default:
		return nil
	}
}

// mkfifo creates a named pipe at path. Grounded on the teacher's
// internal/snapshot/overlay.go, which wraps the same syscall identically.
func mkfifo(path string, mode uint32) error {
	return unix.Mkfifo(path, mode)
}

// safeJoin joins destDir and rel, rejecting any result that escapes destDir.
func safeJoin(destDir, rel string) (string, error) {
	target := filepath.Join(destDir, rel)
	cleanDest := filepath.Clean(destDir)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes rootfs: %s", rel)
	}
	return target, nil
}

// newTarReader opens tr over r, auto-detecting gzip compression by sniffing
// the first two bytes for the gzip magic number. Kept verbatim from the
// teacher's internal/snapshot/layer.go — a small, correct, teacher-native
// idiom with nothing to change.
func newTarReader(r io.Reader) (*tar.Reader, error) {
	buf := make([]byte, 2)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	mr := io.MultiReader(strings.NewReader(string(buf[:n])), r)

	if n >= 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		gz, err := gzip.NewReader(mr)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return tar.NewReader(gz), nil
	}

	return tar.NewReader(mr), nil
}
