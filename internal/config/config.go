// Package config resolves cubo's on-disk root directory.
//
// The root directory holds containers/, images/, volumes/ and is the single
// location cubo touches outside of rootfs bind mounts. Resolution follows
// the XDG base directory conventions rather than a single hardcoded system
// path, since cubo is meant to run rootless by default.
package config

import (
	"os"
	"path/filepath"
)

// RootDirEnvVar overrides root directory resolution entirely when set.
const RootDirEnvVar = "CUBO_ROOT"

// DefaultRootDirName is the leaf directory name created under whichever
// base directory resolution settles on.
const DefaultRootDirName = "cubo"

// ResolveRoot determines the root directory to use, given an explicit
// --root-dir flag value (empty if not passed). Precedence, highest first:
//
//  1. flagValue (the --root-dir CLI flag)
//  2. $CUBO_ROOT
//  3. $XDG_STATE_HOME/cubo
//  4. $XDG_DATA_HOME/cubo
//  5. $HOME/.local/state/cubo
//  6. /tmp/cubo (last-resort fallback when HOME is unset)
func ResolveRoot(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(RootDirEnvVar); v != "" {
		return v
	}
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return filepath.Join(v, DefaultRootDirName)
	}
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, DefaultRootDirName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "state", DefaultRootDirName)
	}
	return filepath.Join(os.TempDir(), DefaultRootDirName)
}
