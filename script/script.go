// Package script runs Python scripts through an external interpreter and
// captures their declared outputs via sentinel stdout lines of the form
// __OUTPUT__<VAR>__:<value>.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clearpipe/pipeline"
)

// DefaultTimeout caps a single script invocation. Scripts own no retry or
// cancellation semantics beyond this wall-clock limit.
const DefaultTimeout = 5 * time.Minute

var sentinelPattern = regexp.MustCompile(`^__OUTPUT__([A-Za-z_][A-Za-z0-9_]*)__:(.*)$`)

// Runner executes Python scripts. The zero value runs "python3" with
// DefaultTimeout in the process working directory.
type Runner struct {
	Python  string        // interpreter binary
	WorkDir string        // working directory for script processes
	Timeout time.Duration // wall-clock limit per script
	Log     *slog.Logger
}

var _ pipeline.ScriptRunner = (*Runner)(nil)

// Run executes the script and parses its sentinel outputs. A non-zero exit
// is not an error: it comes back in ScriptResult.ExitCode so the caller can
// surface the script's own message. Errors are reserved for not being able
// to run the script at all (or the timeout expiring).
func (r *Runner) Run(ctx context.Context, s pipeline.Script) (*pipeline.ScriptResult, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path, cleanup, err := r.materialize(s)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	python := r.Python
	if python == "" {
		python = "python3"
	}

	cmd := exec.CommandContext(ctx, python, path)
	cmd.Dir = r.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("script: %q timed out after %s", s.Name, timeout)
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("script: run %q: %w", s.Name, runErr)
		}
	}

	outputs, cleaned := ParseOutputs(stdout.String())
	if r.Log != nil {
		r.Log.Debug("script finished", "name", s.Name, "exit", exitCode, "outputs", len(outputs))
	}

	return &pipeline.ScriptResult{
		Stdout:   cleaned,
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Outputs:  outputs,
	}, nil
}

// materialize decides what file the interpreter runs. Inline bodies, and
// on-disk scripts that need variables injected, go through a temp file.
func (r *Runner) materialize(s pipeline.Script) (string, func(), error) {
	noop := func() {}

	body := s.Body
	if body == "" {
		if s.Path == "" {
			return "", noop, errors.New("script: neither body nor path given")
		}
		if len(s.Variables) == 0 {
			return s.Path, noop, nil
		}
		raw, err := os.ReadFile(s.Path)
		if err != nil {
			return "", noop, fmt.Errorf("script: read %s: %w", s.Path, err)
		}
		body = string(raw)
	}

	tmp, err := os.CreateTemp("", "clearpipe-*.py")
	if err != nil {
		return "", noop, fmt.Errorf("script: temp file: %w", err)
	}
	if _, err := tmp.WriteString(InjectVariables(body, s.Variables)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("script: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("script: close temp file: %w", err)
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

// InjectVariables prepends top-level assignments so the script sees its data
// variables as plain Python names. Keys are emitted in sorted order so the
// generated file is stable.
func InjectVariables(body string, vars map[string]string) string {
	if len(vars) == 0 {
		return body
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, strconv.Quote(vars[k]))
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

// ParseOutputs extracts __OUTPUT__<VAR>__:<value> lines from stdout and
// returns the named values plus stdout with those lines stripped.
func ParseOutputs(stdout string) (map[string]string, string) {
	outputs := make(map[string]string)
	var kept []string
	for _, line := range strings.Split(stdout, "\n") {
		if m := sentinelPattern.FindStringSubmatch(line); m != nil {
			outputs[m[1]] = strings.TrimSpace(m[2])
			continue
		}
		kept = append(kept, line)
	}
	return outputs, strings.Join(kept, "\n")
}
