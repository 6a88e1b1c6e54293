package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

// fakeStore is an in-memory EntryStore, standing in for the sqlite3-backed
// store in unit tests — the engine only needs the interface, never a real
// database.
type fakeStore struct {
	mu    sync.Mutex
	saved map[string]EntryState
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]EntryState)}
}

func (f *fakeStore) ListEntries(_ context.Context) ([]EntryState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]EntryState, 0, len(f.saved))
	for _, s := range f.saved {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) SaveEntry(_ context.Context, state EntryState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[state.ID] = state
	return nil
}

func (f *fakeStore) DeleteEntry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	return nil
}

func intervalEntry(id string, period time.Duration, task TaskFunc) *Entry {
	return &Entry{
		ID: id,
		TriggerConfig: model.Trigger{
			Type:        model.TriggerInterval,
			Seconds:     int(period.Seconds()),
			StartAnchor: time.Now(),
		},
		MaxInstances: 1,
		Task:         task,
	}
}

func TestAddOrReplaceRejectsExhaustedTrigger(t *testing.T) {
	e := New(newFakeStore(), nil)
	ctx := context.Background()

	entry := &Entry{
		ID:            "once",
		TriggerConfig: model.Trigger{Type: model.TriggerDate, RunDate: time.Now().Add(-time.Hour)},
		Task:          func(context.Context, RetryContext) error { return nil },
	}

	// A date trigger already in the past never fires (see trigger/date.go),
	// so installing it is rejected.
	if err := e.AddOrReplace(ctx, entry); err == nil {
		t.Fatal("expected AddOrReplace to reject a date trigger already in the past")
	}
}

func TestPauseStopsDispatch(t *testing.T) {
	store := newFakeStore()
	e := New(store, nil)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	var calls int32
	var mu sync.Mutex
	task := func(context.Context, RetryContext) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	entry := intervalEntry("job1", 50*time.Millisecond, task)
	if err := e.AddOrReplace(ctx, entry); err != nil {
		t.Fatalf("AddOrReplace: %v", err)
	}

	if err := e.Pause(ctx, "job1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()

	if got != 0 {
		t.Fatalf("expected 0 dispatches while paused, got %d", got)
	}
}

func TestResumeAllowsDispatch(t *testing.T) {
	store := newFakeStore()
	e := New(store, nil)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	done := make(chan struct{}, 1)
	task := func(context.Context, RetryContext) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}

	entry := intervalEntry("job2", 30*time.Millisecond, task)
	if err := e.AddOrReplace(ctx, entry); err != nil {
		t.Fatalf("AddOrReplace: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one dispatch")
	}
}

func TestRemoveUnknownEntryReturnsErrNotFound(t *testing.T) {
	e := New(newFakeStore(), nil)
	if err := e.Remove(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("Remove: got %v, want ErrNotFound", err)
	}
}

func TestEntryIDsAndSnapshotReflectInstalled(t *testing.T) {
	e := New(newFakeStore(), nil)
	ctx := context.Background()

	entry := intervalEntry("job3", time.Hour, func(context.Context, RetryContext) error { return nil })
	if err := e.AddOrReplace(ctx, entry); err != nil {
		t.Fatalf("AddOrReplace: %v", err)
	}

	ids := e.EntryIDs()
	if len(ids) != 1 || ids[0] != "job3" {
		t.Fatalf("EntryIDs() = %v, want [job3]", ids)
	}

	snap := e.Snapshot()
	if len(snap) != 1 || snap[0].ID != "job3" {
		t.Fatalf("Snapshot() = %v, want one entry for job3", snap)
	}
}

func TestStartupRestoresPersistedTimingState(t *testing.T) {
	store := newFakeStore()
	fixedNext := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	store.saved["restored"] = EntryState{
		ID:           "restored",
		TriggerBlob:  model.Trigger{Type: model.TriggerInterval, Seconds: 60, StartAnchor: time.Now()},
		NextFireTime: fixedNext,
		Paused:       true,
	}

	e := New(store, nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	entry := &Entry{
		ID:            "restored",
		TriggerConfig: model.Trigger{Type: model.TriggerInterval, Seconds: 60, StartAnchor: time.Now()},
		Task:          func(context.Context, RetryContext) error { return nil },
	}
	if err := e.AddOrReplace(ctx, entry); err != nil {
		t.Fatalf("AddOrReplace: %v", err)
	}

	snap := e.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap))
	}
	if !snap[0].NextFireTime.Equal(fixedNext) {
		t.Fatalf("NextFireTime = %v, want restored %v", snap[0].NextFireTime, fixedNext)
	}
	if !snap[0].Paused {
		t.Fatal("expected restored entry to keep its persisted paused state")
	}
}

func TestProcessDueCoalesceCollapsesMissedFiresIntoOneDispatch(t *testing.T) {
	e := New(newFakeStore(), nil)
	cfg := model.Trigger{Type: model.TriggerInterval, Seconds: 1, StartAnchor: time.Now().Add(-time.Hour)}
	trig, err := newTrigger(cfg)
	if err != nil {
		t.Fatalf("newTrigger: %v", err)
	}

	var calls int32
	entry := &Entry{
		ID:            "coalesced",
		TriggerConfig: cfg,
		Coalesce:      true,
		MaxInstances:  1,
		Task: func(context.Context, RetryContext) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	}
	entry.trig = trig

	now := time.Now()
	entry.NextFireTime = now.Add(-10 * time.Second) // ten missed 1s fires

	e.processDue(context.Background(), entry, now)

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 dispatch for a coalesced catch-up, got %d", got)
	}
	if !entry.NextFireTime.After(now) {
		t.Fatalf("expected next_fire_time to jump past now, got %v (now=%v)", entry.NextFireTime, now)
	}
}

func TestProcessDueNonCoalesceAdvancesOneFireAtATime(t *testing.T) {
	e := New(newFakeStore(), nil)
	anchor := time.Now().Add(-time.Hour)
	cfg := model.Trigger{Type: model.TriggerInterval, Seconds: 1, StartAnchor: anchor}
	trig, err := newTrigger(cfg)
	if err != nil {
		t.Fatalf("newTrigger: %v", err)
	}

	entry := &Entry{
		ID:            "catchup",
		TriggerConfig: cfg,
		Coalesce:      false,
		MaxInstances:  5,
		Task:          func(context.Context, RetryContext) error { return nil },
	}
	entry.trig = trig

	now := time.Now()
	// A missed fire on the anchor's 1s grid, about 10s before now.
	plannedFire := anchor.Add(3590 * time.Second)
	entry.NextFireTime = plannedFire

	e.processDue(context.Background(), entry, now)

	want := plannedFire.Add(time.Second)
	if !entry.NextFireTime.Equal(want) {
		t.Fatalf("expected next_fire_time to advance a single period from the missed fire, got %v want %v", entry.NextFireTime, want)
	}
}

func TestRetryScheduledOnTaskFailure(t *testing.T) {
	store := newFakeStore()
	e := New(store, nil)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	failing := func(context.Context, RetryContext) error { return context.DeadlineExceeded }
	entry := intervalEntry("flaky", 20*time.Millisecond, failing)
	if err := e.AddOrReplace(ctx, entry); err != nil {
		t.Fatalf("AddOrReplace: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		found := false
		for _, id := range e.EntryIDs() {
			if id == "flaky_retry_1" {
				found = true
				break
			}
		}
		if found {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected a flaky_retry_1 entry to be installed after a task failure")
}
