package buildfile

import (
	"bufio"
	"encoding/json"
	"strings"
)

// ParseText parses the line-based build-file grammar: one logical line per
// instruction, `\`-continuation across physical lines, `#`-comments, and a
// case-insensitive instruction keyword as the first token.
//
// Grounded on the teacher's internal/cli/run.go flag parsers
// (parseVolumeSpec, parsePortMapping, parseMemoryString): all three are
// hand-rolled strings.Split/switch state machines rather than grammar
// libraries, and this line scanner follows the same idiom rather than
// reaching for a parser-generator or external grammar library.
func ParseText(src string) (*BuildPlan, error) {
	lines, err := joinContinuations(src)
	if err != nil {
		return nil, err
	}

	plan := &BuildPlan{}
	sawInstruction := false

	for _, l := range lines {
		text := strings.TrimSpace(l.text)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		keyword := strings.ToUpper(fields[0])
		rest := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

		if keyword != "FROM" && keyword != "BASE" {
			if !sawInstruction && plan.Base == "" {
				return nil, &ParseError{Line: l.line, Message: "FROM must be the first instruction"}
			}
		}

		switch keyword {
		case "FROM", "BASE":
			if rest == "" {
				return nil, &ParseError{Line: l.line, Message: "FROM requires a base image reference"}
			}
			plan.Base = rest
			sawInstruction = true

		case "RUN":
			if rest == "" {
				return nil, &ParseError{Line: l.line, Message: "RUN requires a command"}
			}
			plan.Steps = append(plan.Steps, Step{Kind: StepRun, Run: rest})
			sawInstruction = true

		case "COPY":
			src, dest, ok := splitCopyArgs(rest)
			if !ok {
				return nil, &ParseError{Line: l.line, Message: "COPY requires <src> <dest>"}
			}
			plan.Steps = append(plan.Steps, Step{Kind: StepCopy, CopySrc: src, CopyDest: dest})
			sawInstruction = true

		case "ENV":
			key, val, err := parseEnvInstruction(rest)
			if err != nil {
				return nil, &ParseError{Line: l.line, Message: err.Error()}
			}
			plan.Steps = append(plan.Steps, Step{Kind: StepEnv, EnvKey: key, EnvVal: val})
			sawInstruction = true

		case "WORKDIR":
			if rest == "" {
				return nil, &ParseError{Line: l.line, Message: "WORKDIR requires a path"}
			}
			plan.Steps = append(plan.Steps, Step{Kind: StepWorkdir, Workdir: rest})
			sawInstruction = true

		case "EXPOSE":
			if rest == "" {
				return nil, &ParseError{Line: l.line, Message: "EXPOSE requires a port"}
			}
			plan.Steps = append(plan.Steps, Step{Kind: StepExpose, Expose: rest})
			sawInstruction = true

		case "CMD":
			cmd, err := parseCmdInstruction(rest)
			if err != nil {
				return nil, &ParseError{Line: l.line, Message: err.Error()}
			}
			plan.Steps = append(plan.Steps, Step{Kind: StepCmd, Cmd: cmd})
			sawInstruction = true

		default:
			return nil, &ParseError{Line: l.line, Message: "unknown instruction " + fields[0]}
		}
	}

	if plan.Base == "" {
		return nil, &ParseError{Message: "build file has no FROM instruction"}
	}

	return plan, nil
}

type sourceLine struct {
	text string
	line int // the physical line number the logical line started on
}

// joinContinuations scans src into logical lines, joining any physical line
// ending in "\" with the line that follows it.
func joinContinuations(src string) ([]sourceLine, error) {
	scanner := bufio.NewScanner(strings.NewReader(src))
	var lines []sourceLine
	var current strings.Builder
	startLine := 0
	physicalLine := 0
	inContinuation := false

	for scanner.Scan() {
		physicalLine++
		raw := scanner.Text()

		if !inContinuation {
			startLine = physicalLine
		}

		trimmed := strings.TrimRight(raw, " \t")
		if strings.HasSuffix(trimmed, "\\") {
			current.WriteString(strings.TrimSuffix(trimmed, "\\"))
			current.WriteString(" ")
			inContinuation = true
			continue
		}

		current.WriteString(raw)
		lines = append(lines, sourceLine{text: current.String(), line: startLine})
		current.Reset()
		inContinuation = false
	}

	if inContinuation {
		lines = append(lines, sourceLine{text: current.String(), line: startLine})
	}

	return lines, scanner.Err()
}

func splitCopyArgs(rest string) (src, dest string, ok bool) {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func parseEnvInstruction(rest string) (key, val string, err error) {
	if rest == "" {
		return "", "", errEmptyEnv
	}
	if idx := strings.Index(rest, "="); idx != -1 {
		return rest[:idx], rest[idx+1:], nil
	}
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return "", "", errMalformedEnv
	}
	return fields[0], strings.TrimSpace(fields[1]), nil
}

func parseCmdInstruction(rest string) ([]string, error) {
	if rest == "" {
		return nil, errEmptyCmd
	}
	if json.Valid([]byte(rest)) {
		var argv []string
		if err := json.Unmarshal([]byte(rest), &argv); err == nil {
			return argv, nil
		}
	}
	return []string{"/bin/sh", "-c", rest}, nil
}

type textError string

func (e textError) Error() string { return string(e) }

const (
	errEmptyEnv     = textError("ENV requires a key")
	errMalformedEnv = textError("malformed ENV, expected KEY VALUE or KEY=VALUE")
	errEmptyCmd     = textError("CMD requires a value")
)
