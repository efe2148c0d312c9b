// Package cubo_errors provides the sentinel error taxonomy shared across
// cubo's components.
//
// Components wrap one of the category sentinels below with %w so the CLI
// layer can recover the taxonomy with errors.Is and map it to an exit code,
// without components needing to know about exit codes themselves.
package cubo_errors

import "errors"

// Category sentinels. Most errors the CLI surfaces wrap one of these via
// fmt.Errorf("...: %w", ErrX); the rest carry only one of the specific
// sentinels below.
var (
	// ErrUsage indicates malformed user input: a bad reference, bad
	// volume/port syntax, or a build file missing FROM. Exit code 2.
	ErrUsage = errors.New("usage error")

	// ErrNotFound indicates no such container or image. Exit code 1.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a name collision, or a destructive operation
	// refused because force was not requested. Exit code 1.
	ErrConflict = errors.New("conflict")

	// ErrRuntime indicates a fork/exec, chroot, or namespace-unshare
	// failure, or a permission problem (not root). Exit maps it to 126
	// (ExitContainerStartFailed) in every case; ExitRuntimeConfiguration
	// (125) is defined but Exit does not return it.
	ErrRuntime = errors.New("runtime error")

	// ErrRegistry indicates an auth, not-found, transport, or digest-
	// mismatch failure talking to an image registry. Exit code 1.
	ErrRegistry = errors.New("registry error")

	// ErrCorrupt indicates a corrupt or unparseable on-disk bundle that
	// reconciliation could not repair. Exit code 1.
	ErrCorrupt = errors.New("corrupt state")
)

// Specific sentinels name a precise condition that callers can check with
// errors.Is. They do not wrap a category sentinel, so an error carrying
// only one of them maps to ExitGeneric in Exit.
var (
	ErrContainerNotFound = errors.New("container not found")
	ErrAmbiguousID       = errors.New("multiple containers match prefix")
	ErrShortIDTooShort   = errors.New("container ID prefix must be at least 3 characters")
	ErrContainerRunning  = errors.New("container is running")
	ErrContainerStopped  = errors.New("container is not running")
	ErrNameInUse         = errors.New("name already in use by a non-removed container")
	ErrImageInUse        = errors.New("image is referenced by a non-removed container")
	ErrImageNotFound     = errors.New("image not found")
	ErrDigestMismatch    = errors.New("blob digest mismatch")
	ErrMissingRootfs     = errors.New("rootfs path is required")
	ErrInvalidRootfs     = errors.New("invalid rootfs path")
)

// Exit codes, matching SPEC_FULL.md §6.
const (
	ExitSuccess              = 0
	ExitGeneric              = 1
	ExitUsage                = 2
	ExitRuntimeConfiguration = 125
	ExitContainerStartFailed = 126
	ExitCommandNotFound      = 127
)

// Exit maps an error returned by a component to the process exit code the
// CLI layer should use. A nil error maps to ExitSuccess.
func Exit(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch {
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrRuntime):
		return ExitContainerStartFailed
	default:
		return ExitGeneric
	}
}
