package scheduler

import (
	"context"
	"time"

	"github.com/vektorhq/taskd/internal/model"
	"github.com/vektorhq/taskd/internal/trigger"
)

// RetryContext is threaded explicitly through a failing entry's retry
// chain instead of being smuggled through task kwargs the way the source
// system carries retry_count. Attempt 0 is the original, never-retried
// dispatch.
type RetryContext struct {
	OriginalID string
	Attempt    int
}

// MaxRetries and RetryDelay mirror the source system's scheduler_instance.py
// constants exactly.
const (
	MaxRetries = 3
	RetryDelay = 30 * time.Second
)

// TaskFunc is the function pointer a schedule Entry carries. It is built by
// whoever installs the entry (the reconciler, for JobDefinition and
// Workflow rows) from the registry of named task adapters, rather than
// resolved dynamically at dispatch time.
type TaskFunc func(ctx context.Context, rc RetryContext) error

// Entry is one schedule in the engine's priority structure.
type Entry struct {
	ID               string
	TriggerConfig    model.Trigger
	trig             trigger.Trigger
	NextFireTime     time.Time
	Paused           bool
	MaxInstances     int
	Coalesce         bool
	MisfireGraceTime time.Duration
	RunningCount     int
	Task             TaskFunc

	// WorkflowEntry marks entries installed for a Workflow's own schedule
	// (id prefixed "workflow_"), exempting them from the reconciler's
	// orphan-deletion sweep over JobDefinition ids.
	WorkflowEntry bool

	heapIndex int
}

func newTrigger(cfg model.Trigger) (trigger.Trigger, error) {
	return trigger.New(cfg)
}
