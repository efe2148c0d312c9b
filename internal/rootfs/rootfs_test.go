//go:build linux
// +build linux

package rootfs

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildTar(t *testing.T, entries []tar.Header, contents map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, h := range entries {
		hdr := h
		data := contents[h.Name]
		hdr.Size = int64(len(data))
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", h.Name, err)
		}
		if len(data) > 0 {
			if _, err := tw.Write(data); err != nil {
				t.Fatalf("write %s: %v", h.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeLayerRegularFilesAndDirs(t *testing.T) {
	data := buildTar(t, []tar.Header{
		{Name: "etc", Typeflag: tar.TypeDir, Mode: 0755},
		{Name: "etc/hostname", Typeflag: tar.TypeReg, Mode: 0644},
	}, map[string][]byte{
		"etc/hostname": []byte("box\n"),
	})

	events, err := DecodeLayer(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeLayer: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Kind != EventCreate || string(events[1].Data) != "box\n" {
		t.Errorf("events[1] = %+v, want create with data 'box\\n'", events[1])
	}
}

func TestDecodeLayerWhiteouts(t *testing.T) {
	data := buildTar(t, []tar.Header{
		{Name: "var/.wh.secret", Typeflag: tar.TypeReg, Mode: 0644},
		{Name: "var/cache/.wh..wh..opq", Typeflag: tar.TypeReg, Mode: 0644},
	}, nil)

	events, err := DecodeLayer(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeLayer: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != EventDelete || events[0].Path != filepath.Join("var", "secret") {
		t.Errorf("events[0] = %+v, want delete var/secret", events[0])
	}
	if events[1].Kind != EventOpaque || events[1].Path != filepath.Join("var", "cache") {
		t.Errorf("events[1] = %+v, want opaque var/cache", events[1])
	}
}

func TestDecodeLayerRejectsPathTraversal(t *testing.T) {
	data := buildTar(t, []tar.Header{
		{Name: "../etc/passwd", Typeflag: tar.TypeReg, Mode: 0644},
	}, nil)

	if _, err := DecodeLayer(bytes.NewReader(data)); err == nil {
		t.Fatal("DecodeLayer should reject a path-traversal entry")
	}
}

func TestApplyEventsWhiteoutRemovesLowerLayerFile(t *testing.T) {
	dest := t.TempDir()

	lowerEvents := []LayerEvent{
		{Kind: EventCreate, Path: "var", Typeflag: tar.TypeDir, Mode: 0755},
		{Kind: EventCreate, Path: "var/secret", Typeflag: tar.TypeReg, Mode: 0644, Data: []byte("x")},
	}
	if err := applyEvents(lowerEvents, dest); err != nil {
		t.Fatalf("apply lower layer: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "var", "secret")); err != nil {
		t.Fatalf("expected var/secret to exist after lower layer: %v", err)
	}

	upperEvents := []LayerEvent{
		{Kind: EventDelete, Path: filepath.Join("var", "secret")},
	}
	if err := applyEvents(upperEvents, dest); err != nil {
		t.Fatalf("apply whiteout: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "var", "secret")); !os.IsNotExist(err) {
		t.Fatalf("expected var/secret removed, stat err = %v", err)
	}
}

func TestApplyEventsOpaqueClearsDirectory(t *testing.T) {
	dest := t.TempDir()

	lowerEvents := []LayerEvent{
		{Kind: EventCreate, Path: "cache", Typeflag: tar.TypeDir, Mode: 0755},
		{Kind: EventCreate, Path: "cache/old.txt", Typeflag: tar.TypeReg, Mode: 0644, Data: []byte("stale")},
	}
	if err := applyEvents(lowerEvents, dest); err != nil {
		t.Fatalf("apply lower layer: %v", err)
	}

	upperEvents := []LayerEvent{
		{Kind: EventOpaque, Path: "cache"},
		{Kind: EventCreate, Path: "cache/new.txt", Typeflag: tar.TypeReg, Mode: 0644, Data: []byte("fresh")},
	}
	if err := applyEvents(upperEvents, dest); err != nil {
		t.Fatalf("apply opaque layer: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "cache", "old.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected cache/old.txt removed by opaque marker, stat err = %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(dest, "cache", "new.txt")); err != nil || string(data) != "fresh" {
		t.Fatalf("cache/new.txt = %q, %v; want \"fresh\", nil", data, err)
	}
}

func TestApplyEventsSymlink(t *testing.T) {
	dest := t.TempDir()

	events := []LayerEvent{
		{Kind: EventCreate, Path: "bin", Typeflag: tar.TypeDir, Mode: 0755},
		{Kind: EventCreate, Path: "bin/sh", Typeflag: tar.TypeReg, Mode: 0755, Data: []byte("#!/bin/true")},
		{Kind: EventCreate, Path: "bin/shell", Typeflag: tar.TypeSymlink, Linkname: "sh"},
	}
	if err := applyEvents(events, dest); err != nil {
		t.Fatalf("apply events: %v", err)
	}

	target, err := os.Readlink(filepath.Join(dest, "bin", "shell"))
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "sh" {
		t.Errorf("symlink target = %q, want \"sh\"", target)
	}
}
