// Package buildfile parses Cubo build files into a normalized BuildPlan,
// accepting two surface syntaxes — a line-based text grammar and a TOML
// structured grammar — that both produce the exact same plan shape.
package buildfile

import "fmt"

// StepKind identifies what a Step does when the builder executes it.
type StepKind int

const (
	StepRun StepKind = iota
	StepCopy
	StepEnv
	StepWorkdir
	StepExpose
	StepCmd
)

func (k StepKind) String() string {
	switch k {
	case StepRun:
		return "RUN"
	case StepCopy:
		return "COPY"
	case StepEnv:
		return "ENV"
	case StepWorkdir:
		return "WORKDIR"
	case StepExpose:
		return "EXPOSE"
	case StepCmd:
		return "CMD"
	default:
		return "UNKNOWN"
	}
}

// Step is one instruction in a BuildPlan. Only the fields relevant to Kind
// are populated.
type Step struct {
	Kind StepKind

	// Run holds the shell command for a StepRun.
	Run string

	// CopySrc/CopyDest hold the source glob and destination path for a
	// StepCopy.
	CopySrc  string
	CopyDest string

	// EnvKey/EnvVal hold one KEY=VALUE pair for a StepEnv.
	EnvKey string
	EnvVal string

	// Workdir holds the path for a StepWorkdir.
	Workdir string

	// Expose holds a "port/proto" string for a StepExpose.
	Expose string

	// Cmd holds the argv override for a StepCmd.
	Cmd []string
}

// BuildPlan is the normalized output of both ParseText and ParseStructured:
// a base image reference and an ordered list of steps. The image builder
// folds the steps into a final accumulated config as it executes them.
type BuildPlan struct {
	Base  string
	Steps []Step
}

// ParseError reports a build-file problem with line/key context, per §4.5.
type ParseError struct {
	Line    int    // 1-indexed; 0 if not applicable (e.g. a TOML key error)
	Key     string // TOML key path, when Line is not applicable
	Message string
}

func (e *ParseError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("build file line %d: %s", e.Line, e.Message)
	case e.Key != "":
		return fmt.Sprintf("build file key %q: %s", e.Key, e.Message)
	default:
		return e.Message
	}
}
