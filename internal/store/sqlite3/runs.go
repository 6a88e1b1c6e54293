package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/vektorhq/taskd/internal/model"
)

type workflowRunRow struct {
	ID          string         `db:"id"`
	WorkflowID  string         `db:"workflow_id"`
	Status      string         `db:"status"`
	CurrentStep int            `db:"current_step"`
	StartTime   string         `db:"start_time"`
	EndTime     sql.NullString `db:"end_time"`
}

func rowToRun(row workflowRunRow) (*model.WorkflowRun, error) {
	startTime, err := time.Parse(time.RFC3339, row.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start_time for run %q: %w", row.ID, err)
	}

	var endTime *time.Time
	if row.EndTime.Valid && row.EndTime.String != "" {
		t, err := time.Parse(time.RFC3339, row.EndTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_time for run %q: %w", row.ID, err)
		}
		endTime = &t
	}

	return &model.WorkflowRun{
		ID:          row.ID,
		WorkflowID:  row.WorkflowID,
		Status:      model.RunStatus(row.Status),
		CurrentStep: row.CurrentStep,
		StartTime:   startTime,
		EndTime:     endTime,
	}, nil
}

// CreateWorkflowRun inserts a new run record in PENDING status and returns
// it with a freshly minted id.
func (s *SQLite) CreateWorkflowRun(ctx context.Context, workflowID string) (*model.WorkflowRun, error) {
	run := model.WorkflowRun{
		ID:         ulid.Make().String(),
		WorkflowID: workflowID,
		Status:     model.RunPending,
		StartTime:  time.Now().UTC(),
	}

	query, _, err := s.goqu.Insert(s.tableWfRuns).Rows(goqu.Record{
		"id":           run.ID,
		"workflow_id":  run.WorkflowID,
		"status":       string(run.Status),
		"current_step": run.CurrentStep,
		"start_time":   run.StartTime.Format(time.RFC3339),
	}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build create run query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create workflow run for %q: %w", workflowID, err)
	}

	return &run, nil
}

func (s *SQLite) GetWorkflowRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	query, _, err := s.goqu.From(s.tableWfRuns).
		Select("id", "workflow_id", "status", "current_step", "start_time", "end_time").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get run query: %w", err)
	}

	var row workflowRunRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.WorkflowID, &row.Status,
		&row.CurrentStep, &row.StartTime, &row.EndTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow run %q: %w", id, err)
	}

	return rowToRun(row)
}

// UpdateWorkflowRun persists status/current_step transitions and, once the
// run reaches a terminal status, stamps end_time.
func (s *SQLite) UpdateWorkflowRun(ctx context.Context, run model.WorkflowRun) error {
	record := goqu.Record{
		"status":       string(run.Status),
		"current_step": run.CurrentStep,
	}
	if run.EndTime != nil {
		record["end_time"] = run.EndTime.UTC().Format(time.RFC3339)
	}

	query, _, err := s.goqu.Update(s.tableWfRuns).Set(record).Where(goqu.I("id").Eq(run.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update run query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("update workflow run %q: %w", run.ID, err)
	}

	return nil
}

func (s *SQLite) ListWorkflowRuns(ctx context.Context, workflowID string, skip, limit int) ([]model.WorkflowRun, error) {
	sel := s.goqu.From(s.tableWfRuns).
		Select("id", "workflow_id", "status", "current_step", "start_time", "end_time").
		Where(goqu.I("workflow_id").Eq(workflowID)).
		Order(goqu.I("start_time").Desc()).
		Offset(uint(max(skip, 0)))

	if limit > 0 {
		sel = sel.Limit(uint(limit))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list runs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs for %q: %w", workflowID, err)
	}
	defer rows.Close()

	var result []model.WorkflowRun
	for rows.Next() {
		var row workflowRunRow
		if err := rows.Scan(&row.ID, &row.WorkflowID, &row.Status, &row.CurrentStep,
			&row.StartTime, &row.EndTime); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}

		run, err := rowToRun(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *run)
	}

	return result, rows.Err()
}
