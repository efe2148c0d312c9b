package config

import (
	"path/filepath"
	"testing"
)

func clearRootEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{RootDirEnvVar, "XDG_STATE_HOME", "XDG_DATA_HOME"} {
		t.Setenv(k, "")
	}
}

func TestResolveRootFlagTakesPrecedence(t *testing.T) {
	clearRootEnv(t)
	t.Setenv(RootDirEnvVar, "/from/env")

	got := ResolveRoot("/from/flag")
	if got != "/from/flag" {
		t.Errorf("ResolveRoot = %q, want %q", got, "/from/flag")
	}
}

func TestResolveRootEnvVarOverridesXDG(t *testing.T) {
	clearRootEnv(t)
	t.Setenv(RootDirEnvVar, "/from/env")
	t.Setenv("XDG_STATE_HOME", "/from/xdg-state")

	got := ResolveRoot("")
	if got != "/from/env" {
		t.Errorf("ResolveRoot = %q, want %q", got, "/from/env")
	}
}

func TestResolveRootPrefersXDGStateOverXDGData(t *testing.T) {
	clearRootEnv(t)
	t.Setenv("XDG_STATE_HOME", "/from/xdg-state")
	t.Setenv("XDG_DATA_HOME", "/from/xdg-data")

	want := filepath.Join("/from/xdg-state", DefaultRootDirName)
	if got := ResolveRoot(""); got != want {
		t.Errorf("ResolveRoot = %q, want %q", got, want)
	}
}

func TestResolveRootFallsBackToXDGData(t *testing.T) {
	clearRootEnv(t)
	t.Setenv("XDG_DATA_HOME", "/from/xdg-data")

	want := filepath.Join("/from/xdg-data", DefaultRootDirName)
	if got := ResolveRoot(""); got != want {
		t.Errorf("ResolveRoot = %q, want %q", got, want)
	}
}

func TestResolveRootFallsBackToHomeLocalState(t *testing.T) {
	clearRootEnv(t)
	t.Setenv("HOME", "/home/tester")

	want := filepath.Join("/home/tester", ".local", "state", DefaultRootDirName)
	if got := ResolveRoot(""); got != want {
		t.Errorf("ResolveRoot = %q, want %q", got, want)
	}
}
