//go:build linux
// +build linux

package builder

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"cubo/internal/buildfile"
	"cubo/internal/runtime"
	"cubo/internal/state"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// executeStep runs one step against rootfsDir and returns the resulting
// layer, or nil for steps that produce no filesystem delta. Build calls it
// for every step; config-only steps fall through to the default case.
func (b *Builder) executeStep(step buildfile.Step, rootfsDir, contextDir, tag string, cfg *ocispec.Image) (*layerResult, error) {
	switch step.Kind {
	case buildfile.StepRun:
		return b.executeRun(step, rootfsDir, tag, cfg)
	case buildfile.StepCopy:
		return b.executeCopy(step, rootfsDir, contextDir, tag)
	default:
		// Env/Workdir/Expose/Cmd are config-only: no rootfs delta.
		return nil, nil
	}
}

// executeRun snapshots rootfsDir, executes the command through the
// runtime's chroot-based process launcher, then diffs the rootfs against
// the snapshot to produce a layer. Grounded on §4.6 step 4's "spawn a
// container with the scratch rootfs" instruction and internal/runtime's
// existing Run/RunOptions plumbing.
func (b *Builder) executeRun(step buildfile.Step, rootfsDir, tag string, cfg *ocispec.Image) (*layerResult, error) {
	snapshot, err := b.snapshotRootfs(rootfsDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot rootfs before run: %w", err)
	}
	defer os.RemoveAll(snapshot)

	stateDir, err := os.MkdirTemp(b.StateRoot, "state-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch state dir: %w", err)
	}
	defer os.RemoveAll(stateDir)

	stateStore, err := state.NewStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("create scratch state store: %w", err)
	}

	runConfig := &runtime.ContainerConfig{
		ID:         runtime.GenerateContainerID(),
		Command:    []string{"/bin/sh", "-c", step.Run},
		Env:        append([]string(nil), cfg.Config.Env...),
		WorkingDir: cfg.Config.WorkingDir,
		Rootfs:     rootfsDir,
	}

	exitCode, err := runtime.Run(runConfig, &runtime.RunOptions{StateStore: stateStore})
	if err != nil {
		return nil, fmt.Errorf("execute run step: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("command %q exited with status %d", step.Run, exitCode)
	}

	return b.diffAndPackage(snapshot, rootfsDir, tag)
}

// executeCopy walks CopySrc under contextDir and copies each file into
// CopyDest under rootfsDir, creating intermediate directories and
// preserving file mode, per §4.6 step 4.
func (b *Builder) executeCopy(step buildfile.Step, rootfsDir, contextDir, tag string) (*layerResult, error) {
	snapshot, err := b.snapshotRootfs(rootfsDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot rootfs before copy: %w", err)
	}
	defer os.RemoveAll(snapshot)

	srcRoot := filepath.Join(contextDir, filepath.Clean(step.CopySrc))
	info, err := os.Stat(srcRoot)
	if err != nil {
		return nil, fmt.Errorf("stat copy source: %w", err)
	}

	if !info.IsDir() {
		dest, err := destPath(rootfsDir, step.CopyDest, filepath.Base(srcRoot))
		if err != nil {
			return nil, err
		}
		if err := copyFile(srcRoot, dest, info.Mode()); err != nil {
			return nil, err
		}
		return b.diffAndPackage(snapshot, rootfsDir, tag)
	}

	err = filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		target := filepath.Join(rootfsDir, filepath.Clean(step.CopyDest), rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, fi.Mode())
	})
	if err != nil {
		return nil, fmt.Errorf("copy %s: %w", step.CopySrc, err)
	}

	return b.diffAndPackage(snapshot, rootfsDir, tag)
}

func destPath(rootfsDir, copyDest, base string) (string, error) {
	target := filepath.Join(rootfsDir, filepath.Clean(copyDest))
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, base)
	}
	return target, nil
}

func copyFile(src, dest string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open copy source: %w", err)
	}
	defer in.Close()

	os.Remove(dest)
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create copy destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write copy destination: %w", err)
	}
	return out.Close()
}
