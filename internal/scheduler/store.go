package scheduler

import (
	"context"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

// EntryState is the durable record of a schedule entry's timing state —
// the scheduler-owned table the persistent store exposes alongside
// JobDefinition/Workflow so process restart can resume every schedule from
// exactly where it left off instead of recomputing fire times from "now".
type EntryState struct {
	ID           string
	TriggerBlob  model.Trigger
	NextFireTime time.Time
	Paused       bool
	JobState     string // opaque, reserved for adapter-specific resume hints
}

// EntryStore is the persistence contract the engine depends on. The
// sqlite3 store package implements this alongside its job/workflow tables.
type EntryStore interface {
	ListEntries(ctx context.Context) ([]EntryState, error)
	SaveEntry(ctx context.Context, state EntryState) error
	DeleteEntry(ctx context.Context, id string) error
}
