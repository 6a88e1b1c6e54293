package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/vektorhq/taskd/internal/model"
)

func TestSubstituteParamsLeavesUnknownNamesIntact(t *testing.T) {
	got := substituteParams("echo hello {{ params.name }} and {{params.missing}}", map[string]any{"name": "world"})
	want := "echo hello world and {{params.missing}}"
	if got != want {
		t.Fatalf("substituteParams() = %q, want %q", got, want)
	}
}

func TestSubstituteParamsToleratesWhitespace(t *testing.T) {
	got := substituteParams("{{params.x}}-{{  params.x  }}", map[string]any{"x": 5})
	if got != "5-5" {
		t.Fatalf("substituteParams() = %q, want %q", got, "5-5")
	}
}

func TestSanitizeTokenStripsUnsafeChars(t *testing.T) {
	cases := map[string]string{
		"My Workflow!":  "My_Workflow",
		"  leading  ":   "leading",
		"///":           "workflow",
		"already_fine1": "already_fine1",
	}
	for in, want := range cases {
		if got := sanitizeToken(in); got != want {
			t.Errorf("sanitizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

// fakeStorer is an in-memory workflow.Storer for exercising Run without a
// real database.
type fakeStorer struct {
	mu  sync.Mutex
	wf  *model.Workflow
	run *model.WorkflowRun
	log map[string]*model.ExecutionLog
}

func newFakeStorer(wf *model.Workflow) *fakeStorer {
	return &fakeStorer{wf: wf, log: map[string]*model.ExecutionLog{}}
}

func (f *fakeStorer) GetWorkflow(_ context.Context, id string) (*model.Workflow, error) {
	if f.wf == nil || f.wf.ID != id {
		return nil, nil
	}
	return f.wf, nil
}

func (f *fakeStorer) CreateWorkflowRun(_ context.Context, workflowID string) (*model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = &model.WorkflowRun{ID: ulid.Make().String(), WorkflowID: workflowID, Status: model.RunPending}
	return f.run, nil
}

func (f *fakeStorer) UpdateWorkflowRun(_ context.Context, run model.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = &run
	return nil
}

func (f *fakeStorer) CreateLog(_ context.Context, jobID, workflowRunID, command string) (*model.ExecutionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := &model.ExecutionLog{ID: ulid.Make().String(), JobID: jobID, WorkflowRunID: workflowRunID, Command: command, Status: model.LogRunning}
	f.log[entry.ID] = entry
	return entry, nil
}

func (f *fakeStorer) UpdateLog(_ context.Context, entry model.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log[entry.ID] = &entry
	return nil
}

func TestRunCompletesWithParameterSubstitution(t *testing.T) {
	wf := &model.Workflow{
		ID:   "w1",
		Name: "W1",
		Steps: []model.WorkflowStep{
			{StepOrder: 1, Name: "greet", JobType: model.JobShell, Target: "echo hello {{ params.name }}", OnFailure: model.OnFailureStop},
		},
	}

	store := newFakeStorer(wf)
	runner := New(store, t.TempDir(), "taskworker", nil)

	if err := runner.Run(context.Background(), "w1", map[string]any{"name": "world"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if store.run.Status != model.RunCompleted {
		t.Fatalf("run status = %v, want COMPLETED", store.run.Status)
	}
	if store.run.EndTime == nil {
		t.Fatal("expected EndTime to be set on completion")
	}

	var found *model.ExecutionLog
	for _, l := range store.log {
		found = l
	}
	if found == nil {
		t.Fatal("expected one log row for the single step")
	}
	if found.Stdout != "hello world\n" {
		t.Fatalf("stdout = %q, want %q", found.Stdout, "hello world\n")
	}
}

func TestRunStopsOnFailureAndSkipsLaterSteps(t *testing.T) {
	wf := &model.Workflow{
		ID:   "w2",
		Name: "W2",
		Steps: []model.WorkflowStep{
			{StepOrder: 1, Name: "boom", JobType: model.JobShell, Target: "false", OnFailure: model.OnFailureStop},
			{StepOrder: 2, Name: "reached", JobType: model.JobShell, Target: "echo reached", OnFailure: model.OnFailureStop},
		},
	}

	store := newFakeStorer(wf)
	runner := New(store, t.TempDir(), "taskworker", nil)

	err := runner.Run(context.Background(), "w2", nil)
	if err == nil {
		t.Fatal("expected Run to return an error when the final status is FAILED")
	}

	if store.run.Status != model.RunFailed {
		t.Fatalf("run status = %v, want FAILED", store.run.Status)
	}
	if len(store.log) != 1 {
		t.Fatalf("expected exactly 1 log row (step 2 never runs), got %d", len(store.log))
	}
}

func TestRunContinuesPastFailureWhenPolicyIsContinue(t *testing.T) {
	wf := &model.Workflow{
		ID:   "w3",
		Name: "W3",
		Steps: []model.WorkflowStep{
			{StepOrder: 1, Name: "boom", JobType: model.JobShell, Target: "false", OnFailure: model.OnFailureContinue},
			{StepOrder: 2, Name: "reached", JobType: model.JobShell, Target: "echo reached", OnFailure: model.OnFailureStop},
		},
	}

	store := newFakeStorer(wf)
	runner := New(store, t.TempDir(), "taskworker", nil)

	if err := runner.Run(context.Background(), "w3", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if store.run.Status != model.RunCompleted {
		t.Fatalf("run status = %v, want COMPLETED (continue past step 1's failure)", store.run.Status)
	}
	if len(store.log) != 2 {
		t.Fatalf("expected 2 log rows (both steps ran), got %d", len(store.log))
	}
}

func TestRunMissingWorkflowReturnsError(t *testing.T) {
	store := newFakeStorer(nil)
	runner := New(store, t.TempDir(), "taskworker", nil)

	if err := runner.Run(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected an error for a missing workflow")
	}
}

func TestParamInt(t *testing.T) {
	params := map[string]any{
		"as_float":  float64(3),
		"as_int":    7,
		"as_string": "9",
		"as_bad":    "not-a-number",
	}

	cases := []struct {
		name     string
		fallback int
		want     int
	}{
		{"as_float", 0, 3},
		{"as_int", 0, 7},
		{"as_string", 0, 9},
		{"as_bad", 42, 42},
		{"missing", 11, 11},
	}

	for _, c := range cases {
		if got := ParamInt(params, c.name, c.fallback); got != c.want {
			t.Errorf("ParamInt(%q) = %d, want %d", c.name, got, c.want)
		}
	}
}
