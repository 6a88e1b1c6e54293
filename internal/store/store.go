// Package store defines the Persistent Store (C1) contract: the five
// entity tables (job definitions, workflows, workflow steps, workflow
// runs, execution logs) plus the scheduler-owned schedule entries table,
// behind one interface so the scheduling engine, workflow runner,
// reconciler and HTTP control plane depend on an abstraction rather than
// the sqlite3 adapter directly.
package store

import (
	"context"
	"errors"

	"github.com/vektorhq/taskd/internal/config"
	"github.com/vektorhq/taskd/internal/model"
	"github.com/vektorhq/taskd/internal/scheduler"
	"github.com/vektorhq/taskd/internal/store/sqlite3"
)

// JobStorer is the JobDefinition CRUD contract.
type JobStorer interface {
	GetJob(ctx context.Context, id string) (*model.JobDefinition, error)
	ListJobs(ctx context.Context, skip, limit int) ([]model.JobDefinition, error)
	UpsertJob(ctx context.Context, job model.JobDefinition) (*model.JobDefinition, error)
	DeleteJob(ctx context.Context, id string) error
}

// WorkflowStorer is the Workflow (with its steps, replaced as a unit)
// CRUD contract.
type WorkflowStorer interface {
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, skip, limit int) ([]model.Workflow, error)
	UpsertWorkflow(ctx context.Context, wf model.Workflow) (*model.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// RunStorer is the WorkflowRun lifecycle contract.
type RunStorer interface {
	CreateWorkflowRun(ctx context.Context, workflowID string) (*model.WorkflowRun, error)
	GetWorkflowRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	UpdateWorkflowRun(ctx context.Context, run model.WorkflowRun) error
	ListWorkflowRuns(ctx context.Context, workflowID string, skip, limit int) ([]model.WorkflowRun, error)
}

// LogStorer is the append-only ExecutionLog contract plus the aggregate
// views the control plane's dashboard and timeline endpoints need.
type LogStorer interface {
	CreateLog(ctx context.Context, jobID, workflowRunID, command string) (*model.ExecutionLog, error)
	UpdateLog(ctx context.Context, entry model.ExecutionLog) error
	GetLog(ctx context.Context, id string) (*model.ExecutionLog, error)
	ListLogs(ctx context.Context, skip, limit int) ([]model.ExecutionLog, error)
	ListLogsByJob(ctx context.Context, jobID string, skip, limit int) ([]model.ExecutionLog, error)
	DashboardSummary(ctx context.Context) (*sqlite3.DashboardSummary, error)
	Timeline(ctx context.Context, entryRows []scheduler.EntryState) ([]sqlite3.TimelinePoint, error)
}

// Store is the full Persistent Store contract: every entity storer plus
// the scheduler's own EntryStore, so a single value satisfies every
// dependency in cmd/taskd's wiring.
type Store interface {
	JobStorer
	WorkflowStorer
	RunStorer
	LogStorer
	scheduler.EntryStore

	Close()
}

var _ Store = (*sqlite3.SQLite)(nil)

// New builds the configured Store. Only a sqlite3 backend is supported;
// the source platform's Postgres/memory backends have no equivalent here
// since schedule-entry persistence is specific to this domain.
func New(ctx context.Context, cfg config.Store) (Store, error) {
	if cfg.SQLite == nil {
		return nil, errors.New("no store configured")
	}

	return sqlite3.New(ctx, cfg.SQLite)
}

