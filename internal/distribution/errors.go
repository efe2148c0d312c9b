package distribution

import "errors"

// Sentinel errors callers can match against with errors.Is.
var (
	// ErrAuth means the registry rejected or required credentials cubo
	// doesn't have.
	ErrAuth = errors.New("registry authentication failed")

	// ErrNotFound means the registry has no such repository, tag, digest,
	// or blob.
	ErrNotFound = errors.New("not found in registry")

	// ErrCorrupt means downloaded content didn't match its expected
	// digest.
	ErrCorrupt = errors.New("downloaded content failed digest verification")
)
