package dispatcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

const defaultPythonTimeout = 60 * time.Second

type pythonPayload struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// Python runs a PythonTask by shelling out to workerBinary (the taskworker
// command), isolating the engine from the target function's faults and
// resource exhaustion the same way the source system isolates scheduler and
// task by running python_job_wrapper.py as a subprocess.
func Python(ctx context.Context, workerBinary string, t PythonTask) Result {
	target := t.Module + ":" + t.Function

	payload, err := json.Marshal(pythonPayload{Args: t.Args, Kwargs: t.Kwargs})
	if err != nil {
		return Result{
			Command: target,
			Status:  model.LogFailed,
			Stderr:  fmt.Sprintf("serialize args/kwargs: %v", err),
		}
	}

	encoded := base64.StdEncoding.EncodeToString(payload)

	timeout := defaultPythonTimeout
	if t.TimeoutSeconds > 0 {
		timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, workerBinary, target, encoded)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

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
		Command:  target,
		ExitCode: &exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Status:   status,
	}
}
