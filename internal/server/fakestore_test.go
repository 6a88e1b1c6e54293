package server

import (
	"context"
	"sync"

	"github.com/vektorhq/taskd/internal/model"
	"github.com/vektorhq/taskd/internal/scheduler"
	"github.com/vektorhq/taskd/internal/store/sqlite3"
)

// fakeStore is an in-memory implementation of store.Store, standing in for
// the sqlite3 backend across the handler tests in this package.
type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]model.JobDefinition
	workflows map[string]model.Workflow
	runs      map[string]model.WorkflowRun
	logs      map[string]model.ExecutionLog
	entries   map[string]scheduler.EntryState

	deleteJobErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[string]model.JobDefinition{},
		workflows: map[string]model.Workflow{},
		runs:      map[string]model.WorkflowRun{},
		logs:      map[string]model.ExecutionLog{},
		entries:   map[string]scheduler.EntryState{},
	}
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*model.JobDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (f *fakeStore) ListJobs(_ context.Context, _, _ int) ([]model.JobDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.JobDefinition, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeStore) UpsertJob(_ context.Context, job model.JobDefinition) (*model.JobDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return &job, nil
}

func (f *fakeStore) DeleteJob(_ context.Context, id string) error {
	if f.deleteJobErr != nil {
		return f.deleteJobErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, nil
	}
	return &wf, nil
}

func (f *fakeStore) ListWorkflows(_ context.Context, _, _ int) ([]model.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Workflow, 0, len(f.workflows))
	for _, wf := range f.workflows {
		out = append(out, wf)
	}
	return out, nil
}

func (f *fakeStore) UpsertWorkflow(_ context.Context, wf model.Workflow) (*model.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[wf.ID] = wf
	return &wf, nil
}

func (f *fakeStore) DeleteWorkflow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workflows, id)
	return nil
}

func (f *fakeStore) CreateWorkflowRun(_ context.Context, workflowID string) (*model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := model.WorkflowRun{ID: "run1", WorkflowID: workflowID, Status: model.RunPending}
	f.runs[run.ID] = run
	return &run, nil
}

func (f *fakeStore) GetWorkflowRun(_ context.Context, id string) (*model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (f *fakeStore) UpdateWorkflowRun(_ context.Context, run model.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) ListWorkflowRuns(_ context.Context, workflowID string, _, _ int) ([]model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.WorkflowRun
	for _, run := range f.runs {
		if run.WorkflowID == workflowID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateLog(_ context.Context, jobID, workflowRunID, command string) (*model.ExecutionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := model.ExecutionLog{ID: "log1", JobID: jobID, WorkflowRunID: workflowRunID, Command: command, Status: model.LogRunning}
	f.logs[entry.ID] = entry
	return &entry, nil
}

func (f *fakeStore) UpdateLog(_ context.Context, entry model.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[entry.ID] = entry
	return nil
}

func (f *fakeStore) GetLog(_ context.Context, id string) (*model.ExecutionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.logs[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (f *fakeStore) ListLogs(_ context.Context, _, _ int) ([]model.ExecutionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ExecutionLog, 0, len(f.logs))
	for _, l := range f.logs {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeStore) ListLogsByJob(_ context.Context, jobID string, _, _ int) ([]model.ExecutionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExecutionLog
	for _, l := range f.logs {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) DashboardSummary(_ context.Context) (*sqlite3.DashboardSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &sqlite3.DashboardSummary{TotalDefinitions: len(f.jobs) + len(f.workflows)}, nil
}

func (f *fakeStore) Timeline(_ context.Context, _ []scheduler.EntryState) ([]sqlite3.TimelinePoint, error) {
	return nil, nil
}

func (f *fakeStore) ListEntries(_ context.Context) ([]scheduler.EntryState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduler.EntryState, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) SaveEntry(_ context.Context, state scheduler.EntryState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[state.ID] = state
	return nil
}

func (f *fakeStore) DeleteEntry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
	return nil
}

func (f *fakeStore) Close() {}
