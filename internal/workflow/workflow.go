// Package workflow implements the Workflow Runner (C5): ordered,
// DAG-free step execution through the execution dispatcher, parameter
// substitution, per-step failure policy, and WorkflowRun lifecycle
// tracking.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vektorhq/taskd/internal/dispatcher"
	"github.com/vektorhq/taskd/internal/model"
)

// Storer is the subset of the persistent store the runner depends on.
type Storer interface {
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	CreateWorkflowRun(ctx context.Context, workflowID string) (*model.WorkflowRun, error)
	UpdateWorkflowRun(ctx context.Context, run model.WorkflowRun) error
	CreateLog(ctx context.Context, jobID, workflowRunID, command string) (*model.ExecutionLog, error)
	UpdateLog(ctx context.Context, entry model.ExecutionLog) error
}

// Runner executes Workflow definitions, grounded on the same dispatcher
// adapters a standalone JobDefinition uses.
type Runner struct {
	store        Storer
	workDir      string
	workerBinary string
	log          *slog.Logger
}

func New(store Storer, workDir, workerBinary string, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: store, workDir: workDir, workerBinary: workerBinary, log: log}
}

// placeholderPattern matches "{{ params.NAME }}", tolerant of internal
// whitespace around the identifier.
var placeholderPattern = regexp.MustCompile(`\{\{\s*params\.([A-Za-z0-9_]+)\s*\}\}`)

func substituteParams(target string, params map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(target, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		val, ok := params[sub[1]]
		if !ok {
			return match // unknown names leave the placeholder intact
		}
		return fmt.Sprint(val)
	})
}

var sanitizeTokenPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeToken(name string) string {
	token := sanitizeTokenPattern.ReplaceAllString(name, "_")
	token = strings.Trim(token, "_")
	if token == "" {
		token = "workflow"
	}
	return token
}

// Run executes one full pass of wf's steps in ascending step order, using
// runParams for {{ params.NAME }} substitution. The workflow's own cwd
// (work_dir/<sanitized-name>) is the only cwd shell steps ever use,
// regardless of anything a step itself might otherwise request.
func (r *Runner) Run(ctx context.Context, workflowID string, runParams map[string]any) error {
	wf, err := r.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow %q: %w", workflowID, err)
	}
	if wf == nil {
		r.log.Error("run_workflow: workflow not found", "id", workflowID)
		return fmt.Errorf("workflow %q not found", workflowID)
	}

	token := sanitizeToken(wf.Name)
	workflowCwd := filepath.Join(r.workDir, token)
	if err := os.MkdirAll(workflowCwd, 0o755); err != nil {
		return fmt.Errorf("create workflow cwd %q: %w", workflowCwd, err)
	}

	run, err := r.store.CreateWorkflowRun(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("create workflow run for %q: %w", wf.ID, err)
	}
	run.Status = model.RunRunning
	if err := r.store.UpdateWorkflowRun(ctx, *run); err != nil {
		r.log.Error("update workflow run to RUNNING", "run_id", run.ID, "error", err)
	}

	finalStatus := model.RunCompleted

stepLoop:
	for _, step := range wf.Steps {
		run.CurrentStep = step.StepOrder
		if err := r.store.UpdateWorkflowRun(ctx, *run); err != nil {
			r.log.Error("update workflow run current_step", "run_id", run.ID, "error", err)
		}

		status := r.runStep(ctx, token, workflowCwd, run.ID, step, runParams)

		switch {
		case status == model.LogFailed && step.OnFailure == model.OnFailureStop:
			finalStatus = model.RunFailed
			break stepLoop
		case status == model.LogFailed:
			// on_failure=continue: keep going, run still completes.
		}
	}

	now := time.Now().UTC()
	run.Status = finalStatus
	run.EndTime = &now
	if err := r.store.UpdateWorkflowRun(ctx, *run); err != nil {
		r.log.Error("update workflow run to terminal status", "run_id", run.ID, "error", err)
	}

	if finalStatus == model.RunFailed {
		return fmt.Errorf("workflow %q run %q failed", wf.ID, run.ID)
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, token, workflowCwd, runID string, step model.WorkflowStep, params map[string]any) model.LogStatus {
	jobID := fmt.Sprintf("%s_%d_%s", token, step.StepOrder, sanitizeToken(step.Name))
	target := substituteParams(step.Target, params)

	var result dispatcher.Result

	switch step.JobType {
	case model.JobShell:
		env := map[string]string{}
		if raw, ok := step.Kwargs["env"]; ok {
			if m, ok := raw.(map[string]any); ok {
				for k, v := range m {
					env[k] = fmt.Sprint(v)
				}
			}
		}

		logEntry, err := r.store.CreateLog(ctx, jobID, runID, target)
		if err != nil {
			r.log.Error("create log for step", "job_id", jobID, "error", err)
			return model.LogFailed
		}

		result = dispatcher.Shell(ctx, dispatcher.ShellTask{
			Command:         target,
			Cwd:             workflowCwd,
			Env:             env,
			TimeoutSeconds:  step.TimeoutSeconds,
			RunInBackground: step.RunInBackground,
		})
		r.finishLog(ctx, logEntry, result)

	case model.JobPython:
		module, function, _ := strings.Cut(target, ":")

		logEntry, err := r.store.CreateLog(ctx, jobID, runID, target)
		if err != nil {
			r.log.Error("create log for step", "job_id", jobID, "error", err)
			return model.LogFailed
		}

		result = dispatcher.Python(ctx, r.workerBinary, dispatcher.PythonTask{
			Module:         module,
			Function:       function,
			Args:           step.Args,
			Kwargs:         step.Kwargs,
			TimeoutSeconds: step.TimeoutSeconds,
		})
		r.finishLog(ctx, logEntry, result)

	default:
		r.log.Error("unknown step job_type, skipping", "job_id", jobID, "job_type", step.JobType)
		return model.LogFailed
	}

	return result.Status
}

func (r *Runner) finishLog(ctx context.Context, entry *model.ExecutionLog, result dispatcher.Result) {
	now := time.Now().UTC()
	entry.Command = result.Command
	entry.ExitCode = result.ExitCode
	entry.Stdout = result.Stdout
	entry.Stderr = result.Stderr
	entry.Status = result.Status
	entry.EndTime = &now

	if err := r.store.UpdateLog(ctx, *entry); err != nil {
		r.log.Error("update log for step", "log_id", entry.ID, "error", err)
	}
}

// ParamInt is a small convenience used by callers parsing raw run_params
// JSON values (numbers decode as float64) back into an int where a step
// needs one, e.g. for retry-count style bookkeeping specific to a task.
func ParamInt(params map[string]any, name string, fallback int) int {
	raw, ok := params[name]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}
