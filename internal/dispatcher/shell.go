package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/vektorhq/taskd/internal/model"
)

// defaultShellTimeout applies when a ShellTask or WorkflowStep doesn't set
// one explicitly.
const defaultShellTimeout = 60 * time.Second

// Shell runs a ShellTask. The command string is parsed with POSIX
// shell-quoting rules into an argv list and executed directly — no shell is
// invoked, so there is no command-injection surface from substituted
// template values landing inside the string.
func Shell(ctx context.Context, t ShellTask) Result {
	argv, err := shellquote.Split(t.Command)
	if err != nil {
		return Result{Command: t.Command, Status: model.LogFailed, Stderr: fmt.Sprintf("parse command: %v", err)}
	}
	if len(argv) == 0 {
		return Result{Command: t.Command, Status: model.LogFailed, Stderr: "empty command"}
	}

	timeout := defaultShellTimeout
	if t.TimeoutSeconds > 0 {
		timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = t.Cwd
	cmd.Env = mergeEnv(t.Env)

	// Run the command in its own process group so a timeout kill takes any
	// children it spawned with it, rather than only the immediate process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if t.RunInBackground {
		if err := cmd.Start(); err != nil {
			return Result{Command: t.Command, Status: model.LogFailed, Stderr: fmt.Sprintf("start: %v", err)}
		}
		go cmd.Wait()

		exitCode := 0
		return Result{Command: t.Command, ExitCode: &exitCode, Status: model.LogCompleted, Stdout: "started in background"}
	}

	runErr := cmd.Run()

	exitCode := 0
	status := model.LogCompleted
	if runErr != nil {
		status = model.LogFailed
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			stderr.WriteString(runErr.Error())
			exitCode = -1
		}
	}

	return Result{
		Command:  t.Command,
		ExitCode: &exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Status:   status,
	}
}

// mergeEnv combines the current process environment with task-specific
// overrides; per the design decision on shell vs python kwargs handling,
// only the "env" map is ever threaded through for shell steps.
func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
