package sqlite3

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/vektorhq/taskd/internal/model"
	"github.com/vektorhq/taskd/internal/scheduler"
)

type entryRow struct {
	ID           string `db:"id"`
	TriggerBlob  string `db:"trigger_blob"`
	NextFireTime string `db:"next_fire_time"`
	Paused       bool   `db:"paused"`
	JobState     string `db:"job_state"`
}

// ListEntries, SaveEntry and DeleteEntry implement scheduler.EntryStore
// against the schedule_entries table, the scheduler-owned table called for
// in the persistent store layout (id, trigger_blob, next_fire_time, paused,
// job_state) so schedule timing state survives a process restart
// independent of the JobDefinition/Workflow rows it was derived from.
func (s *SQLite) ListEntries(ctx context.Context) ([]scheduler.EntryState, error) {
	query, _, err := s.goqu.From(s.tableEntries).
		Select("id", "trigger_blob", "next_fire_time", "paused", "job_state").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list entries query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	defer rows.Close()

	var result []scheduler.EntryState
	for rows.Next() {
		var row entryRow
		if err := rows.Scan(&row.ID, &row.TriggerBlob, &row.NextFireTime, &row.Paused, &row.JobState); err != nil {
			return nil, fmt.Errorf("scan schedule entry row: %w", err)
		}

		state, err := rowToEntryState(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *state)
	}

	return result, rows.Err()
}

func rowToEntryState(row entryRow) (*scheduler.EntryState, error) {
	var trig model.Trigger
	if err := json.Unmarshal([]byte(row.TriggerBlob), &trig); err != nil {
		return nil, fmt.Errorf("unmarshal trigger blob for entry %q: %w", row.ID, err)
	}

	nextFireTime, err := time.Parse(time.RFC3339, row.NextFireTime)
	if err != nil {
		return nil, fmt.Errorf("parse next_fire_time for entry %q: %w", row.ID, err)
	}

	return &scheduler.EntryState{
		ID:           row.ID,
		TriggerBlob:  trig,
		NextFireTime: nextFireTime,
		Paused:       row.Paused,
		JobState:     row.JobState,
	}, nil
}

func (s *SQLite) SaveEntry(ctx context.Context, state scheduler.EntryState) error {
	trig, err := json.Marshal(state.TriggerBlob)
	if err != nil {
		return fmt.Errorf("marshal trigger blob for entry %q: %w", state.ID, err)
	}

	record := goqu.Record{
		"id":             state.ID,
		"trigger_blob":   string(trig),
		"next_fire_time": state.NextFireTime.UTC().Format(time.RFC3339),
		"paused":         state.Paused,
		"job_state":      state.JobState,
	}

	query, _, err := s.goqu.Insert(s.tableEntries).Rows(record).
		OnConflict(goqu.DoUpdate("id", goqu.Record{
			"trigger_blob":   string(trig),
			"next_fire_time": state.NextFireTime.UTC().Format(time.RFC3339),
			"paused":         state.Paused,
			"job_state":      state.JobState,
		})).ToSQL()
	if err != nil {
		return fmt.Errorf("build save entry query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("save schedule entry %q: %w", state.ID, err)
	}

	return nil
}

func (s *SQLite) DeleteEntry(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableEntries).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete entry query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete schedule entry %q: %w", id, err)
	}

	return nil
}
