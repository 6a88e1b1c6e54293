// Package scheduler implements the scheduling engine (C3): a single
// scheduling loop driving a priority structure of schedule entries, with
// misfire, coalesce and max_instances handling, backed by an explicit
// RetryContext rather than kwargs-threaded retry state so retries never
// introduce a cycle back into the original entry's id.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

func dateTriggerConfig(at time.Time) model.Trigger {
	return model.Trigger{Type: model.TriggerDate, RunDate: at}
}

var ErrNotFound = errors.New("scheduler: entry not found")

// Engine is a constructor-created scheduler instance — the source system's
// module-level global BackgroundScheduler becomes an explicit value here so
// a process can run more than one, and tests can spin up isolated engines.
type Engine struct {
	store EntryStore
	log   *slog.Logger

	mu       sync.Mutex
	entries  map[string]*Entry
	queue    entryHeap
	restored map[string]EntryState

	wake chan struct{}
	done chan struct{}
}

// New builds an Engine bound to store for schedule-state persistence.
func New(store EntryStore, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		store:   store,
		log:     log,
		entries: make(map[string]*Entry),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start loads persisted schedule state and launches the scheduling loop.
// Entries installed later via AddOrReplace adopt their persisted timing
// state (if any) on first install, then run the loop until ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	states, err := e.store.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: load persisted entries: %w", err)
	}

	e.mu.Lock()
	e.restored = make(map[string]EntryState, len(states))
	for _, s := range states {
		e.restored[s.ID] = s
	}
	e.mu.Unlock()

	go e.loop(ctx)

	return nil
}

func (e *Engine) Stop() {
	close(e.done)
}

// AddOrReplace installs entry, adopting persisted NextFireTime/Paused state
// from a prior run if one is on record for this id, computing a fresh
// next-fire time from the trigger otherwise.
func (e *Engine) AddOrReplace(ctx context.Context, entry *Entry) error {
	trig, err := newTrigger(entry.TriggerConfig)
	if err != nil {
		return err
	}
	entry.trig = trig

	e.mu.Lock()
	if state, ok := e.restored[entry.ID]; ok {
		entry.NextFireTime = state.NextFireTime
		entry.Paused = state.Paused
		delete(e.restored, entry.ID)
	}
	if entry.NextFireTime.IsZero() {
		next, ok := trig.Next(time.Now())
		if !ok {
			e.mu.Unlock()
			return fmt.Errorf("scheduler: entry %q trigger never fires", entry.ID)
		}
		entry.NextFireTime = next
	}

	if existing, ok := e.entries[entry.ID]; ok {
		heap.Remove(&e.queue, existing.heapIndex)
	}
	e.entries[entry.ID] = entry
	heap.Push(&e.queue, entry)
	e.mu.Unlock()

	if err := e.persist(ctx, entry); err != nil {
		e.log.Error("persist schedule entry", "id", entry.ID, "error", err)
	}

	e.signal()

	return nil
}

// EntryIDs returns the ids of every entry currently installed, used by the
// reconciler's orphan-deletion sweep.
func (e *Engine) EntryIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.entries))
	for id := range e.entries {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns the current timing state of every installed entry, used
// by the control plane's timeline view to report future fire times without
// reaching back into the store.
func (e *Engine) Snapshot() []EntryState {
	e.mu.Lock()
	defer e.mu.Unlock()

	states := make([]EntryState, 0, len(e.entries))
	for _, entry := range e.entries {
		states = append(states, EntryState{
			ID:           entry.ID,
			TriggerBlob:  entry.TriggerConfig,
			NextFireTime: entry.NextFireTime,
			Paused:       entry.Paused,
		})
	}
	return states
}

// Remove deletes an entry and its persisted state.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	existing, ok := e.entries[id]
	if ok {
		heap.Remove(&e.queue, existing.heapIndex)
		delete(e.entries, id)
	}
	e.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	if err := e.store.DeleteEntry(ctx, id); err != nil {
		e.log.Error("delete persisted schedule entry", "id", id, "error", err)
	}

	e.signal()

	return nil
}

// Pause marks an entry paused: it stays in the due set and keeps advancing
// its next fire time, but never dispatches while paused.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.mutate(ctx, id, func(entry *Entry) { entry.Paused = true })
}

// Resume clears an entry's paused flag.
func (e *Engine) Resume(ctx context.Context, id string) error {
	return e.mutate(ctx, id, func(entry *Entry) { entry.Paused = false })
}

// ModifyNextRun forces an entry's next fire time, used by "run now".
func (e *Engine) ModifyNextRun(ctx context.Context, id string, instant time.Time) error {
	return e.mutate(ctx, id, func(entry *Entry) {
		entry.NextFireTime = instant
	})
}

func (e *Engine) mutate(ctx context.Context, id string, fn func(*Entry)) error {
	e.mu.Lock()
	entry, ok := e.entries[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	e.mu.Unlock()

	fn(entry)

	e.mu.Lock()
	heap.Fix(&e.queue, entry.heapIndex)
	e.mu.Unlock()

	if err := e.persist(ctx, entry); err != nil {
		e.log.Error("persist schedule entry", "id", id, "error", err)
	}

	e.signal()

	return nil
}

func (e *Engine) persist(ctx context.Context, entry *Entry) error {
	return e.store.SaveEntry(ctx, EntryState{
		ID:           entry.ID,
		TriggerBlob:  entry.TriggerConfig,
		NextFireTime: entry.NextFireTime,
		Paused:       entry.Paused,
	})
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// loop is the single scheduling goroutine: sleep until the earliest fire
// time or a wake signal, then dispatch the due set.
func (e *Engine) loop(ctx context.Context) {
	for {
		e.mu.Lock()
		var wait time.Duration
		if e.queue.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(e.queue[0].NextFireTime)
			if wait < 0 {
				wait = 0
			}
		}
		e.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.done:
			timer.Stop()
			return
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}

		e.tick(ctx)
	}
}

// tick processes every entry currently due, per the algorithm in 4.3: for
// paused entries just advance; for the rest, apply misfire/coalesce/
// max_instances policy before dispatching.
func (e *Engine) tick(ctx context.Context) {
	now := time.Now()

	var due []*Entry
	e.mu.Lock()
	for e.queue.Len() > 0 && !e.queue[0].NextFireTime.After(now) {
		due = append(due, e.queue[0])
		heap.Pop(&e.queue)
	}
	e.mu.Unlock()

	for _, entry := range due {
		e.processDue(ctx, entry, now)
	}
}

func (e *Engine) processDue(ctx context.Context, entry *Entry, now time.Time) {
	plannedFire := entry.NextFireTime

	// Advance next_fire_time first; re-inserted regardless of what happens
	// below, since a paused or misfired entry must still make progress.
	//
	// coalesce=true collapses every fire this entry missed into the single
	// dispatch below by jumping straight to the first fire time after now,
	// per §4.3 step 3b ("if coalesce is true, dispatch once"). coalesce=false
	// instead advances one fire at a time from the fire that was actually
	// due, so an entry that is still behind becomes due again on the very
	// next tick — "dispatch k times" collapsing into k ticks of this
	// function, each bounded by misfire grace and max_instances exactly as
	// a real dispatch would be.
	advanceFrom := plannedFire
	if entry.Coalesce {
		advanceFrom = now
	}
	next, ok := entry.trig.Next(advanceFrom)
	e.mu.Lock()
	if ok {
		entry.NextFireTime = next
		heap.Push(&e.queue, entry)
	} else {
		delete(e.entries, entry.ID)
	}
	e.mu.Unlock()

	if err := e.persist(ctx, entry); err != nil {
		e.log.Error("persist schedule entry", "id", entry.ID, "error", err)
	}

	if entry.Paused {
		return
	}

	if entry.MisfireGraceTime > 0 && now.Sub(plannedFire) > entry.MisfireGraceTime {
		e.log.Warn("misfire: skipping dispatch", "id", entry.ID, "planned", plannedFire, "now", now)
		return
	}

	// A single planned dispatch is all this function ever issues per call;
	// coalesce's "collapse k missed fires into one" already happened above
	// when next_fire_time was advanced straight to now instead of one step
	// at a time, so this dispatch is that one representative.
	e.mu.Lock()
	running := entry.RunningCount
	e.mu.Unlock()

	if entry.MaxInstances > 0 && running >= entry.MaxInstances {
		e.log.Warn("max instances reached: skipping dispatch", "id", entry.ID, "running", running)
		return
	}

	e.mu.Lock()
	entry.RunningCount++
	e.mu.Unlock()

	go e.dispatch(ctx, entry)
}

func (e *Engine) dispatch(ctx context.Context, entry *Entry) {
	defer func() {
		e.mu.Lock()
		entry.RunningCount--
		e.mu.Unlock()
	}()

	err := entry.Task(ctx, RetryContext{OriginalID: entry.ID, Attempt: 0})
	if err == nil {
		return
	}

	e.log.Error("task failed", "id", entry.ID, "error", err)
	e.scheduleRetry(ctx, entry, 1)
}

// scheduleRetry installs a one-shot entry firing RetryDelay from now,
// distinct from the original so the schedule graph never cycles back onto
// itself; attempt keeps climbing until MaxRetries is exceeded.
func (e *Engine) scheduleRetry(ctx context.Context, original *Entry, attempt int) {
	if attempt > MaxRetries {
		e.log.Error("giving up after max retries", "id", original.ID, "retries", MaxRetries)
		return
	}

	retryID := fmt.Sprintf("%s_retry_%d", original.ID, attempt)
	fireAt := time.Now().Add(RetryDelay)

	retryEntry := &Entry{
		ID:            retryID,
		TriggerConfig: dateTriggerConfig(fireAt),
		NextFireTime:  fireAt,
		MaxInstances:  1,
	}
	retryEntry.Task = func(taskCtx context.Context, rc RetryContext) error {
		rc = RetryContext{OriginalID: original.ID, Attempt: attempt}
		if err := original.Task(taskCtx, rc); err != nil {
			e.log.Error("retry attempt failed", "id", original.ID, "attempt", attempt, "error", err)
			e.scheduleRetry(taskCtx, original, attempt+1)
			return err
		}
		return nil
	}

	if err := e.AddOrReplace(ctx, retryEntry); err != nil {
		e.log.Error("install retry entry", "id", retryID, "error", err)
		return
	}

	e.log.Info("scheduled retry", "id", retryID, "at", fireAt)
}
