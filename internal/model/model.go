// Package model holds the domain types shared across the store, scheduling
// engine, execution dispatcher, workflow runner and HTTP control plane.
package model

import (
	"time"
)

// TriggerType discriminates the trigger variants a JobDefinition or the
// scheduler's internal schedule entries can carry.
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerDate     TriggerType = "date"
)

// JobType discriminates the task variants a JobDefinition or WorkflowStep
// can run.
type JobType string

const (
	JobShell  JobType = "shell"
	JobPython JobType = "python"
	JobEmail  JobType = "email"
)

// OnFailure controls what a WorkflowRun does when one of its steps fails.
type OnFailure string

const (
	OnFailureStop     OnFailure = "stop"
	OnFailureContinue OnFailure = "continue"
)

// RunStatus is the lifecycle state of a WorkflowRun.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// LogStatus is the lifecycle state of an ExecutionLog row.
type LogStatus string

const (
	LogRunning   LogStatus = "RUNNING"
	LogCompleted LogStatus = "COMPLETED"
	LogFailed    LogStatus = "FAILED"
)

// Trigger is the tagged-union trigger configuration attached to a
// JobDefinition. Exactly one of the type-specific fields is meaningful,
// selected by Type.
type Trigger struct {
	Type TriggerType `json:"type"`

	// Cron fields (Type == TriggerCron). Per §3/§4.2 each field accepts its
	// own cron-like expression ("*", "N", "N-M", "*/S", or a comma
	// separated list of those); an empty field defaults to the
	// finest-granularity wildcard except Second, which defaults to "0"
	// (fire-on-the-minute). Day and DayOfWeek, when both non-default, are
	// intersected rather than unioned.
	Year      string `json:"year,omitempty"`
	Month     string `json:"month,omitempty"`
	Day       string `json:"day,omitempty"`
	Week      string `json:"week,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	Hour      string `json:"hour,omitempty"`
	Minute    string `json:"minute,omitempty"`
	Second    string `json:"second,omitempty"`

	// CronExpression is a whitespace-separated shorthand combining the
	// discrete fields above into one string — 5 fields ("minute hour day
	// month day_of_week", the Workflow.Schedule format) or 6 fields
	// (leading second). When set it takes precedence over the discrete
	// fields above rather than combining with them.
	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`

	// Interval fields (Type == TriggerInterval). StartAnchor is set once at
	// creation time and persisted so a restart reconstructs the same phase
	// rather than resetting the grid to the restart instant.
	Weeks       int       `json:"weeks,omitempty"`
	Days        int       `json:"days,omitempty"`
	Hours       int       `json:"hours,omitempty"`
	Minutes     int       `json:"minutes,omitempty"`
	Seconds     int       `json:"seconds,omitempty"`
	StartAnchor time.Time `json:"start_anchor,omitempty"`

	// Date field (Type == TriggerDate). RFC3339.
	RunDate time.Time `json:"run_date,omitempty"`
}

// JobDefinition is a standalone scheduled unit of work.
type JobDefinition struct {
	ID                string            `json:"id"`
	Description       string            `json:"description"`
	IsEnabled         bool              `json:"is_enabled"`
	JobType           JobType           `json:"job_type"`
	Trigger           Trigger           `json:"trigger"`
	Func              string            `json:"func"`   // shell: command string; python: "module:function"; email: unused (target is in Kwargs)
	Args              []any             `json:"args"`
	Kwargs            map[string]any    `json:"kwargs"`
	Cwd               string            `json:"cwd"`
	Env               map[string]string `json:"env"`
	MaxInstances      int               `json:"max_instances"`
	Coalesce          bool              `json:"coalesce"`
	MisfireGraceTime  int               `json:"misfire_grace_time"` // seconds
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// WorkflowStep is a single ordered step of a Workflow.
type WorkflowStep struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	StepOrder       int            `json:"step_order"`
	Name            string         `json:"name"`
	JobType         JobType        `json:"job_type"` // shell or python
	Target          string         `json:"target"`   // shell: command; python: "module:function"
	Args            []any          `json:"args"`
	Kwargs          map[string]any `json:"kwargs"`
	OnFailure       OnFailure      `json:"on_failure"`
	TimeoutSeconds  int            `json:"timeout"`
	RunInBackground bool           `json:"run_in_background"`
}

// Workflow is a named, ordered sequence of WorkflowStep, optionally
// scheduled by a 5-field cron-style Schedule string.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schedule    string         `json:"schedule"` // 5 whitespace separated fields, empty disables scheduling
	IsEnabled   bool           `json:"is_enabled"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowRun records one execution of a Workflow.
type WorkflowRun struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Status     RunStatus  `json:"status"`
	CurrentStep int       `json:"current_step"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// ExecutionLog records one dispatched task, whether it came from a standalone
// JobDefinition or a single WorkflowStep inside a WorkflowRun.
type ExecutionLog struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id,omitempty"`
	WorkflowRunID string     `json:"workflow_run_id,omitempty"`
	Command       string     `json:"command"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	Stdout        string     `json:"stdout"`
	Stderr        string     `json:"stderr"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        LogStatus  `json:"status"`
}

// IsStepLog reports whether this log belongs to a workflow step dispatch
// rather than a standalone job, distinguishing the two the same way the
// timeline query does: a step log always carries its parent run's id.
func (e ExecutionLog) IsStepLog() bool {
	return e.WorkflowRunID != ""
}
