//go:build linux
// +build linux

package builder

import (
	"os"
	"path/filepath"
	"testing"

	"cubo/internal/buildfile"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestCacheKeyStableForIdenticalStep(t *testing.T) {
	dir := t.TempDir()
	step := buildfile.Step{Kind: buildfile.StepRun, Run: "echo hi"}

	k1, err := cacheKey("parent", step, dir)
	if err != nil {
		t.Fatalf("cacheKey: %v", err)
	}
	k2, err := cacheKey("parent", step, dir)
	if err != nil {
		t.Fatalf("cacheKey: %v", err)
	}
	if k1 != k2 {
		t.Errorf("cacheKey not stable: %q != %q", k1, k2)
	}
}

func TestCacheKeyChangesWithParent(t *testing.T) {
	dir := t.TempDir()
	step := buildfile.Step{Kind: buildfile.StepRun, Run: "echo hi"}

	k1, _ := cacheKey("parentA", step, dir)
	k2, _ := cacheKey("parentB", step, dir)
	if k1 == k2 {
		t.Error("cacheKey should differ when parent digest differs")
	}
}

func TestCacheKeyCopyStepReflectsContent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.txt"), []byte("v1"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	step := buildfile.Step{Kind: buildfile.StepCopy, CopySrc: "app.txt", CopyDest: "/app.txt"}

	before, err := cacheKey("parent", step, dir)
	if err != nil {
		t.Fatalf("cacheKey: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "app.txt"), []byte("v2"), 0644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}
	after, err := cacheKey("parent", step, dir)
	if err != nil {
		t.Fatalf("cacheKey: %v", err)
	}

	if before == after {
		t.Error("cacheKey should change when COPY source content changes")
	}
}

func TestApplyConfigStepEnvLastWriteWins(t *testing.T) {
	cfg := &ocispec.Image{}
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepEnv, EnvKey: "PORT", EnvVal: "8080"})
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepEnv, EnvKey: "HOST", EnvVal: "0.0.0.0"})
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepEnv, EnvKey: "PORT", EnvVal: "9090"})

	if len(cfg.Config.Env) != 2 {
		t.Fatalf("Env = %v, want 2 entries", cfg.Config.Env)
	}
	want := map[string]string{"PORT": "9090", "HOST": "0.0.0.0"}
	for _, kv := range cfg.Config.Env {
		key := envKey(kv)
		if kv != key+"="+want[key] {
			t.Errorf("Env entry %q, want %s=%s", kv, key, want[key])
		}
	}
}

func TestApplyConfigStepWorkdirAndCmdOverwrite(t *testing.T) {
	cfg := &ocispec.Image{}
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepWorkdir, Workdir: "/tmp"})
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepWorkdir, Workdir: "/app"})
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepCmd, Cmd: []string{"old"}})
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepCmd, Cmd: []string{"new", "arg"}})

	if cfg.Config.WorkingDir != "/app" {
		t.Errorf("WorkingDir = %q, want /app", cfg.Config.WorkingDir)
	}
	if len(cfg.Config.Cmd) != 2 || cfg.Config.Cmd[0] != "new" {
		t.Errorf("Cmd = %v, want [new arg]", cfg.Config.Cmd)
	}
}

func TestApplyConfigStepExposeAccumulates(t *testing.T) {
	cfg := &ocispec.Image{}
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepExpose, Expose: "80/tcp"})
	applyConfigStep(cfg, buildfile.Step{Kind: buildfile.StepExpose, Expose: "443/tcp"})

	if len(cfg.Config.ExposedPorts) != 2 {
		t.Fatalf("ExposedPorts = %v, want 2 entries", cfg.Config.ExposedPorts)
	}
	if _, ok := cfg.Config.ExposedPorts["80/tcp"]; !ok {
		t.Error("missing 80/tcp")
	}
}
