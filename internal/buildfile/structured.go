package buildfile

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// tomlDocument mirrors §4.5's structured grammar: `[image].base`, a
// `[config]` block of scalar workdir/expose/env plus `[[config.run]]`/
// `[[config.copy]]` arrays of tables, and an optional `[config.cmd].command`
// array.
//
// go-toml/v2 is a new dependency the teacher never needed — added because
// TOML's [section]/[[array-of-tables]] syntax is an exact match for this
// grammar's shape, and it's the natural "structured table document" library
// the Go ecosystem offers for it.
type tomlDocument struct {
	Image struct {
		Base string `toml:"base"`
	} `toml:"image"`
	Config struct {
		Workdir string            `toml:"workdir"`
		Expose  []string          `toml:"expose"`
		Env     map[string]string `toml:"env"`
		Run     []struct {
			Command string `toml:"command"`
		} `toml:"run"`
		Copy []struct {
			Src  string `toml:"src"`
			Dest string `toml:"dest"`
		} `toml:"copy"`
		Cmd struct {
			Command []string `toml:"command"`
		} `toml:"cmd"`
	} `toml:"config"`
}

// ParseStructured parses the TOML structured build-file grammar into a
// BuildPlan equivalent in shape to what ParseText produces, so a build can
// be authored in whichever syntax the caller prefers.
func ParseStructured(src []byte) (*BuildPlan, error) {
	var doc tomlDocument
	if err := toml.Unmarshal(src, &doc); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("parse TOML build file: %v", err)}
	}

	if doc.Image.Base == "" {
		return nil, &ParseError{Key: "image.base", Message: "missing base image reference"}
	}

	plan := &BuildPlan{Base: doc.Image.Base}

	for _, r := range doc.Config.Run {
		if r.Command == "" {
			return nil, &ParseError{Key: "config.run", Message: "run step missing command"}
		}
		plan.Steps = append(plan.Steps, Step{Kind: StepRun, Run: r.Command})
	}

	for _, c := range doc.Config.Copy {
		if c.Src == "" || c.Dest == "" {
			return nil, &ParseError{Key: "config.copy", Message: "copy step requires src and dest"}
		}
		plan.Steps = append(plan.Steps, Step{Kind: StepCopy, CopySrc: c.Src, CopyDest: c.Dest})
	}

	for key, val := range doc.Config.Env {
		plan.Steps = append(plan.Steps, Step{Kind: StepEnv, EnvKey: key, EnvVal: val})
	}

	if doc.Config.Workdir != "" {
		plan.Steps = append(plan.Steps, Step{Kind: StepWorkdir, Workdir: doc.Config.Workdir})
	}

	for _, port := range doc.Config.Expose {
		plan.Steps = append(plan.Steps, Step{Kind: StepExpose, Expose: port})
	}

	if len(doc.Config.Cmd.Command) > 0 {
		plan.Steps = append(plan.Steps, Step{Kind: StepCmd, Cmd: doc.Config.Cmd.Command})
	}

	return plan, nil
}
