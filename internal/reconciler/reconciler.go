// Package reconciler implements the Configuration Reconciler (C6):
// declarative-file seeding, store-to-engine synchronization, and a
// filesystem watch that triggers incremental sync (never a re-seed) on
// modification.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vektorhq/taskd/internal/dispatcher"
	"github.com/vektorhq/taskd/internal/model"
	"github.com/vektorhq/taskd/internal/scheduler"
	"github.com/vektorhq/taskd/internal/workflow"
)

// workflowEntryPrefix marks engine entries installed for a Workflow's own
// cron schedule, exempting them from the orphan-deletion sweep over
// JobDefinition ids (which never carry this prefix).
const workflowEntryPrefix = "workflow_"

// Storer is the subset of the persistent store the reconciler depends on.
type Storer interface {
	ListJobs(ctx context.Context, skip, limit int) ([]model.JobDefinition, error)
	UpsertJob(ctx context.Context, job model.JobDefinition) (*model.JobDefinition, error)
	GetJob(ctx context.Context, id string) (*model.JobDefinition, error)
	ListWorkflows(ctx context.Context, skip, limit int) ([]model.Workflow, error)
	CreateLog(ctx context.Context, jobID, workflowRunID, command string) (*model.ExecutionLog, error)
	UpdateLog(ctx context.Context, entry model.ExecutionLog) error
}

// Reconciler keeps the scheduling engine in step with the store. Its
// emailCfg is threaded through from process configuration so email
// JobDefinitions can be turned into dispatcher.EmailTask closures.
type Reconciler struct {
	store        Storer
	engine       *scheduler.Engine
	runner       *workflow.Runner
	emailCfg     dispatcher.EmailConfig
	workerBinary string
	workDir      string

	deleteOrphans bool
	log           *slog.Logger
}

func New(store Storer, engine *scheduler.Engine, runner *workflow.Runner, emailCfg dispatcher.EmailConfig, workerBinary, workDir string, deleteOrphans bool, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store:         store,
		engine:        engine,
		runner:        runner,
		emailCfg:      emailCfg,
		workerBinary:  workerBinary,
		workDir:       workDir,
		deleteOrphans: deleteOrphans,
		log:           log,
	}
}

// Seed reads the declarative file and upserts each valid entry, honoring
// replace_existing: an id already present in the store is left untouched
// unless its entry requested a replace.
func (r *Reconciler) Seed(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	jobs, replace, err := LoadDeclarativeFile(path)
	if err != nil {
		return fmt.Errorf("load declarative file: %w", err)
	}

	for i, job := range jobs {
		existing, err := r.store.GetJob(ctx, job.ID)
		if err != nil {
			r.log.Error("check existing job during seed", "id", job.ID, "error", err)
			continue
		}
		if existing != nil && !replace[i] {
			continue
		}

		if _, err := r.store.UpsertJob(ctx, job); err != nil {
			r.log.Error("seed job", "id", job.ID, "error", err)
			continue
		}
		r.log.Info("seeded job definition", "id", job.ID)
	}

	return nil
}

// Sync enumerates store entries and installs/updates the in-memory
// schedule, then (if enabled) deletes engine entries for JobDefinition ids
// no longer present in the store.
func (r *Reconciler) Sync(ctx context.Context) error {
	jobs, err := r.store.ListJobs(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("list jobs for sync: %w", err)
	}

	present := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		present[job.ID] = struct{}{}

		entry, err := r.buildJobEntry(job)
		if err != nil {
			r.log.Error("unknown or invalid job definition, skipping", "id", job.ID, "error", err)
			continue
		}

		if err := r.engine.AddOrReplace(ctx, entry); err != nil {
			r.log.Error("install job entry", "id", job.ID, "error", err)
		}
	}

	workflows, err := r.store.ListWorkflows(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("list workflows for sync: %w", err)
	}

	for _, wf := range workflows {
		if strings.TrimSpace(wf.Schedule) == "" {
			continue
		}

		entryID := workflowEntryPrefix + wf.ID
		entry := &scheduler.Entry{
			ID: entryID,
			TriggerConfig: model.Trigger{
				Type:           model.TriggerCron,
				CronExpression: wf.Schedule,
			},
			MaxInstances:  1,
			Coalesce:      true,
			Paused:        !wf.IsEnabled,
			WorkflowEntry: true,
		}

		wfID := wf.ID
		entry.Task = func(taskCtx context.Context, rc scheduler.RetryContext) error {
			return r.runner.Run(taskCtx, wfID, nil)
		}

		if err := r.engine.AddOrReplace(ctx, entry); err != nil {
			r.log.Error("install workflow entry", "id", entryID, "error", err)
		}
	}

	if r.deleteOrphans {
		r.pruneOrphans(ctx, present)
	}

	return nil
}

// pruneOrphans removes engine entries whose id is absent from the store
// and whose id neither carries the workflow-entry prefix nor contains
// "_retry_".
func (r *Reconciler) pruneOrphans(ctx context.Context, present map[string]struct{}) {
	for _, id := range r.engine.EntryIDs() {
		if strings.HasPrefix(id, workflowEntryPrefix) {
			continue
		}
		if strings.Contains(id, "_retry_") {
			continue
		}
		if _, ok := present[id]; ok {
			continue
		}

		if err := r.engine.Remove(ctx, id); err != nil && err != scheduler.ErrNotFound {
			r.log.Error("prune orphaned entry", "id", id, "error", err)
		}
	}
}

// buildJobEntry rebuilds a scheduler.Entry (including its Task closure)
// from a JobDefinition row — this is how the engine's transient schedule
// structure is reconstructed from durable data after every restart.
func (r *Reconciler) buildJobEntry(job model.JobDefinition) (*scheduler.Entry, error) {
	entry := &scheduler.Entry{
		ID:               job.ID,
		TriggerConfig:    job.Trigger,
		MaxInstances:     job.MaxInstances,
		Coalesce:         job.Coalesce,
		MisfireGraceTime: time.Duration(job.MisfireGraceTime) * time.Second,
		Paused:           !job.IsEnabled,
	}

	switch job.JobType {
	case model.JobShell:
		entry.Task = r.shellTask(job)
	case model.JobPython:
		entry.Task = r.pythonTask(job)
	case model.JobEmail:
		entry.Task = r.emailTask(job)
	default:
		return nil, fmt.Errorf("unknown job_type %q", job.JobType)
	}

	return entry, nil
}

// finishLog records a dispatch's outcome against its ExecutionLog row the
// same way workflow.Runner.runStep does, so a standalone JobDefinition's
// history is queryable through the same timeline as workflow steps.
func (r *Reconciler) finishLog(ctx context.Context, entry *model.ExecutionLog, result dispatcher.Result) {
	now := time.Now().UTC()
	entry.Command = result.Command
	entry.ExitCode = result.ExitCode
	entry.Stdout = result.Stdout
	entry.Stderr = result.Stderr
	entry.Status = result.Status
	entry.EndTime = &now

	if err := r.store.UpdateLog(ctx, *entry); err != nil {
		r.log.Error("update log for job", "log_id", entry.ID, "error", err)
	}
}

func (r *Reconciler) shellTask(job model.JobDefinition) scheduler.TaskFunc {
	return func(ctx context.Context, rc scheduler.RetryContext) error {
		cwd, err := dispatcher.Sandbox(r.workDir, job.Cwd)
		if err != nil {
			r.log.Error("shell job cwd rejected", "id", job.ID, "error", err)
			return err
		}

		logEntry, err := r.store.CreateLog(ctx, job.ID, "", job.Func)
		if err != nil {
			r.log.Error("create log for job", "id", job.ID, "error", err)
			return err
		}

		result := dispatcher.Shell(ctx, dispatcher.ShellTask{
			Command: job.Func,
			Cwd:     cwd,
			Env:     job.Env,
		})
		r.finishLog(ctx, logEntry, result)

		if result.Status == model.LogFailed {
			return fmt.Errorf("job %q failed: %s", job.ID, result.Stderr)
		}
		return nil
	}
}

func (r *Reconciler) pythonTask(job model.JobDefinition) scheduler.TaskFunc {
	module, function, _ := strings.Cut(job.Func, ":")

	return func(ctx context.Context, rc scheduler.RetryContext) error {
		logEntry, err := r.store.CreateLog(ctx, job.ID, "", job.Func)
		if err != nil {
			r.log.Error("create log for job", "id", job.ID, "error", err)
			return err
		}

		result := dispatcher.Python(ctx, r.workerBinary, dispatcher.PythonTask{
			Module:   module,
			Function: function,
			Args:     job.Args,
			Kwargs:   job.Kwargs,
		})
		r.finishLog(ctx, logEntry, result)

		if result.Status == model.LogFailed {
			return fmt.Errorf("job %q failed: %s", job.ID, result.Stderr)
		}
		return nil
	}
}

func (r *Reconciler) emailTask(job model.JobDefinition) scheduler.TaskFunc {
	return func(ctx context.Context, rc scheduler.RetryContext) error {
		task := dispatcher.EmailTask{
			Subject: fmt.Sprint(job.Kwargs["subject"]),
		}
		if to, ok := job.Kwargs["to"].([]any); ok {
			for _, v := range to {
				task.To = append(task.To, fmt.Sprint(v))
			}
		}
		if s, ok := job.Kwargs["template_name"].(string); ok {
			task.TemplateName = s
		}
		if ctxMap, ok := job.Kwargs["template_context"].(map[string]any); ok {
			task.TemplateContext = ctxMap
		}
		if s, ok := job.Kwargs["body"].(string); ok {
			task.Body = s
		}
		if s, ok := job.Kwargs["body_type"].(string); ok {
			task.BodyType = s
		}
		if paths, ok := job.Kwargs["image_paths"].([]any); ok {
			for _, v := range paths {
				task.ImagePaths = append(task.ImagePaths, fmt.Sprint(v))
			}
		}

		logEntry, err := r.store.CreateLog(ctx, job.ID, "", task.Subject)
		if err != nil {
			r.log.Error("create log for job", "id", job.ID, "error", err)
			return err
		}

		result := dispatcher.Email(r.emailCfg, task)
		r.finishLog(ctx, logEntry, result)

		if result.Status == model.LogFailed {
			return fmt.Errorf("job %q failed: %s", job.ID, result.Stderr)
		}
		return nil
	}
}

// Watch subscribes to modifications of path and invokes Sync on every
// write event until ctx is done. A full re-seed is never triggered by the
// watch — the declarative file is source-of-truth only for initial
// seeding and manual reseeds, per the sync/seed split.
func (r *Reconciler) Watch(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch declarative file %q: %w", path, err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				r.log.Info("declarative file changed, syncing", "path", path)
				if err := r.Sync(ctx); err != nil {
					r.log.Error("sync after file change", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Error("file watcher error", "error", err)
			}
		}
	}()

	return nil
}

// RunPeriodicSync reconciles the store into the engine on a fixed cadence
// until ctx is done, catching externally made store edits that bypassed
// the watched file.
func (r *Reconciler) RunPeriodicSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sync(ctx); err != nil {
				r.log.Error("periodic sync", "error", err)
			}
		}
	}
}
