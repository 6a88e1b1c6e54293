// Package dispatcher implements the three task-executor adapters: shell,
// python (via the taskworker subprocess) and email. Each adapter takes a
// fully resolved task description and returns a Result shaped like an
// ExecutionLog row, never an error for task-level failures — only
// programmer/infra errors (e.g. a malformed sandbox path) are returned as
// Go errors, so the scheduler always has a log row to persist.
package dispatcher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vektorhq/taskd/internal/model"
)

// Result is what every adapter produces, mapping directly onto the mutable
// fields of an in-flight ExecutionLog row.
type Result struct {
	Command  string
	ExitCode *int
	Stdout   string
	Stderr   string
	Status   model.LogStatus
}

// ShellTask describes a shell job_type dispatch.
type ShellTask struct {
	Command         string
	Cwd             string // absolute, already validated to be inside the sandbox
	Env             map[string]string
	TimeoutSeconds  int
	RunInBackground bool
}

// PythonTask describes a python job_type dispatch.
type PythonTask struct {
	Module         string
	Function       string
	Args           []any
	Kwargs         map[string]any
	TimeoutSeconds int
}

// EmailTask describes an email job_type dispatch.
type EmailTask struct {
	To              []string
	CC              []string
	BCC             []string
	Subject         string
	TemplateName    string
	TemplateContext map[string]any
	Body            string
	BodyType        string // "plain" or "html"; forced to "html" when TemplateName is set
	ImagePaths      []string
}

// Sandbox validates that a candidate working directory lies within root,
// rejecting ".." traversal and absolute escapes the way the source
// system's work_dir confinement check does. Callers run it before
// dispatch; the shell adapter itself does not re-check ShellTask.Cwd.
func Sandbox(root, relative string) (string, error) {
	if strings.Contains(relative, "..") {
		return "", fmt.Errorf("dispatcher: path %q escapes sandbox (contains '..')", relative)
	}
	if filepath.IsAbs(relative) {
		return "", fmt.Errorf("dispatcher: path %q must be relative to the sandbox", relative)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("dispatcher: resolve sandbox root: %w", err)
	}

	candidate := rootAbs
	if relative != "" {
		candidate = filepath.Join(rootAbs, relative)
	}

	candidate = filepath.Clean(candidate)
	if candidate != rootAbs && !strings.HasPrefix(candidate, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("dispatcher: path %q escapes sandbox %q", candidate, rootAbs)
	}

	return candidate, nil
}
