package buildfile

import "testing"

func TestParseTextBasicPlan(t *testing.T) {
	src := `# a comment
FROM alpine:latest
RUN apk add --no-cache curl
COPY ./app /app
ENV PORT=8080
WORKDIR /app
EXPOSE 8080/tcp
CMD ["/app/server"]
`
	plan, err := ParseText(src)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if plan.Base != "alpine:latest" {
		t.Errorf("Base = %q, want alpine:latest", plan.Base)
	}
	if len(plan.Steps) != 6 {
		t.Fatalf("got %d steps, want 6", len(plan.Steps))
	}
	if plan.Steps[3].Kind != StepWorkdir || plan.Steps[3].Workdir != "/app" {
		t.Errorf("step 3 = %+v, want workdir /app", plan.Steps[3])
	}
	last := plan.Steps[len(plan.Steps)-1]
	if last.Kind != StepCmd || len(last.Cmd) != 1 || last.Cmd[0] != "/app/server" {
		t.Errorf("last step = %+v, want CMD [/app/server]", last)
	}
}

func TestParseTextContinuationLine(t *testing.T) {
	src := "FROM alpine\nRUN apk add \\\n    curl wget\n"
	plan, err := ParseText(src)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Run != "apk add      curl wget" {
		t.Errorf("steps = %+v", plan.Steps)
	}
}

func TestParseTextRawCmdWrapsInShell(t *testing.T) {
	plan, err := ParseText("FROM alpine\nCMD echo hello\n")
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	cmd := plan.Steps[0].Cmd
	want := []string{"/bin/sh", "-c", "echo hello"}
	if len(cmd) != len(want) {
		t.Fatalf("Cmd = %v, want %v", cmd, want)
	}
	for i := range want {
		if cmd[i] != want[i] {
			t.Fatalf("Cmd = %v, want %v", cmd, want)
		}
	}
}

func TestParseTextRequiresFromFirst(t *testing.T) {
	if _, err := ParseText("RUN echo hi\nFROM alpine\n"); err == nil {
		t.Fatal("expected error when FROM is not first")
	}
}

func TestParseTextRejectsUnknownInstruction(t *testing.T) {
	if _, err := ParseText("FROM alpine\nFROBNICATE x\n"); err == nil {
		t.Fatal("expected error for unknown instruction")
	}
}

func TestParseTextRejectsMissingFrom(t *testing.T) {
	if _, err := ParseText("RUN echo hi\n"); err == nil {
		t.Fatal("expected error when FROM is absent entirely")
	}
}

func TestParseStructuredBasicPlan(t *testing.T) {
	src := []byte(`
[image]
base = "alpine:latest"

[config]
workdir = "/app"
expose = ["8080/tcp"]

[config.env]
PORT = "8080"

[[config.run]]
command = "apk add --no-cache curl"

[[config.copy]]
src = "./app"
dest = "/app"

[config.cmd]
command = ["/app/server"]
`)
	plan, err := ParseStructured(src)
	if err != nil {
		t.Fatalf("ParseStructured: %v", err)
	}
	if plan.Base != "alpine:latest" {
		t.Errorf("Base = %q, want alpine:latest", plan.Base)
	}

	var sawRun, sawCopy, sawEnv, sawWorkdir, sawExpose, sawCmd bool
	for _, s := range plan.Steps {
		switch s.Kind {
		case StepRun:
			sawRun = s.Run == "apk add --no-cache curl"
		case StepCopy:
			sawCopy = s.CopySrc == "./app" && s.CopyDest == "/app"
		case StepEnv:
			sawEnv = s.EnvKey == "PORT" && s.EnvVal == "8080"
		case StepWorkdir:
			sawWorkdir = s.Workdir == "/app"
		case StepExpose:
			sawExpose = s.Expose == "8080/tcp"
		case StepCmd:
			sawCmd = len(s.Cmd) == 1 && s.Cmd[0] == "/app/server"
		}
	}
	if !(sawRun && sawCopy && sawEnv && sawWorkdir && sawExpose && sawCmd) {
		t.Errorf("plan missing expected steps: %+v", plan.Steps)
	}
}

func TestParseStructuredRequiresBase(t *testing.T) {
	if _, err := ParseStructured([]byte(`[config]
workdir = "/app"
`)); err == nil {
		t.Fatal("expected error when image.base is missing")
	}
}
