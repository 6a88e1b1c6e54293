package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/vektorhq/taskd/internal/model"
)

type workflowRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Schedule    string `db:"schedule"`
	IsEnabled   bool   `db:"is_enabled"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

type workflowStepRow struct {
	ID              string `db:"id"`
	WorkflowID      string `db:"workflow_id"`
	StepOrder       int    `db:"step_order"`
	Name            string `db:"name"`
	JobType         string `db:"job_type"`
	Target          string `db:"target"`
	Args            string `db:"args"`
	Kwargs          string `db:"kwargs"`
	OnFailure       string `db:"on_failure"`
	Timeout         int64  `db:"timeout"`
	RunInBackground bool   `db:"run_in_background"`
}

func rowToStep(row workflowStepRow) (*model.WorkflowStep, error) {
	var args []any
	if err := json.Unmarshal([]byte(row.Args), &args); err != nil {
		return nil, fmt.Errorf("unmarshal step args for %q: %w", row.ID, err)
	}

	var kwargs map[string]any
	if err := json.Unmarshal([]byte(row.Kwargs), &kwargs); err != nil {
		return nil, fmt.Errorf("unmarshal step kwargs for %q: %w", row.ID, err)
	}

	return &model.WorkflowStep{
		ID:              row.ID,
		WorkflowID:      row.WorkflowID,
		StepOrder:       row.StepOrder,
		Name:            row.Name,
		JobType:         model.JobType(row.JobType),
		Target:          row.Target,
		Args:            args,
		Kwargs:          kwargs,
		OnFailure:       model.OnFailure(row.OnFailure),
		TimeoutSeconds:  int(row.Timeout),
		RunInBackground: row.RunInBackground,
	}, nil
}

func stepToRow(st model.WorkflowStep) (workflowStepRow, error) {
	args, err := json.Marshal(st.Args)
	if err != nil {
		return workflowStepRow{}, fmt.Errorf("marshal step args: %w", err)
	}

	kwargs, err := json.Marshal(st.Kwargs)
	if err != nil {
		return workflowStepRow{}, fmt.Errorf("marshal step kwargs: %w", err)
	}

	return workflowStepRow{
		ID:              st.ID,
		WorkflowID:      st.WorkflowID,
		StepOrder:       st.StepOrder,
		Name:            st.Name,
		JobType:         string(st.JobType),
		Target:          st.Target,
		Args:            string(args),
		Kwargs:          string(kwargs),
		OnFailure:       string(st.OnFailure),
		Timeout:         int64(st.TimeoutSeconds),
		RunInBackground: st.RunInBackground,
	}, nil
}

func (s *SQLite) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	query, _, err := s.goqu.From(s.tableWf).
		Select("id", "name", "description", "schedule", "is_enabled", "created_at", "updated_at").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get workflow query: %w", err)
	}

	var row workflowRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.Name, &row.Description,
		&row.Schedule, &row.IsEnabled, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %q: %w", id, err)
	}

	steps, err := s.listSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	return rowToWorkflow(row, steps)
}

func rowToWorkflow(row workflowRow, steps []model.WorkflowStep) (*model.Workflow, error) {
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %q: %w", row.ID, err)
	}

	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for %q: %w", row.ID, err)
	}

	return &model.Workflow{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Schedule:    row.Schedule,
		IsEnabled:   row.IsEnabled,
		Steps:       steps,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *SQLite) listSteps(ctx context.Context, workflowID string) ([]model.WorkflowStep, error) {
	query, _, err := s.goqu.From(s.tableWfSteps).
		Select("id", "workflow_id", "step_order", "name", "job_type", "target",
			"args", "kwargs", "on_failure", "timeout", "run_in_background").
		Where(goqu.I("workflow_id").Eq(workflowID)).
		Order(goqu.I("step_order").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list steps query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list steps for %q: %w", workflowID, err)
	}
	defer rows.Close()

	var result []model.WorkflowStep
	for rows.Next() {
		var row workflowStepRow
		if err := rows.Scan(&row.ID, &row.WorkflowID, &row.StepOrder, &row.Name, &row.JobType,
			&row.Target, &row.Args, &row.Kwargs, &row.OnFailure, &row.Timeout, &row.RunInBackground); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}

		step, err := rowToStep(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *step)
	}

	return result, rows.Err()
}

func (s *SQLite) ListWorkflows(ctx context.Context, skip, limit int) ([]model.Workflow, error) {
	sel := s.goqu.From(s.tableWf).
		Select("id", "name", "description", "schedule", "is_enabled", "created_at", "updated_at").
		Order(goqu.I("name").Asc()).
		Offset(uint(max(skip, 0)))

	if limit > 0 {
		sel = sel.Limit(uint(limit))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list workflows query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var wfRows []workflowRow
	for rows.Next() {
		var row workflowRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Description, &row.Schedule,
			&row.IsEnabled, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}
		wfRows = append(wfRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]model.Workflow, 0, len(wfRows))
	for _, row := range wfRows {
		steps, err := s.listSteps(ctx, row.ID)
		if err != nil {
			return nil, err
		}

		wf, err := rowToWorkflow(row, steps)
		if err != nil {
			return nil, err
		}
		result = append(result, *wf)
	}

	return result, nil
}

// UpsertWorkflow inserts or replaces a workflow and its step set atomically:
// steps are deleted and reinserted in full so step_order is always
// internally consistent, matching the reconciler's "steps replaced as a
// unit" contract rather than a field-by-field step diff.
func (s *SQLite) UpsertWorkflow(ctx context.Context, wf model.Workflow) (*model.Workflow, error) {
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	wfQuery, _, err := s.goqu.Insert(s.tableWf).Rows(goqu.Record{
		"id":          wf.ID,
		"name":        wf.Name,
		"description": wf.Description,
		"schedule":    wf.Schedule,
		"is_enabled":  wf.IsEnabled,
		"created_at":  wf.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  wf.UpdatedAt.UTC().Format(time.RFC3339),
	}).OnConflict(goqu.DoUpdate("id", goqu.Record{
		"name":        wf.Name,
		"description": wf.Description,
		"schedule":    wf.Schedule,
		"is_enabled":  wf.IsEnabled,
		"updated_at":  wf.UpdatedAt.UTC().Format(time.RFC3339),
	})).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build upsert workflow query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, wfQuery); err != nil {
		return nil, fmt.Errorf("upsert workflow %q: %w", wf.ID, err)
	}

	delQuery, _, err := s.goqu.Delete(s.tableWfSteps).Where(goqu.I("workflow_id").Eq(wf.ID)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build delete steps query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery); err != nil {
		return nil, fmt.Errorf("clear steps for workflow %q: %w", wf.ID, err)
	}

	for i := range wf.Steps {
		wf.Steps[i].WorkflowID = wf.ID
		if wf.Steps[i].StepOrder == 0 {
			wf.Steps[i].StepOrder = i
		}

		row, err := stepToRow(wf.Steps[i])
		if err != nil {
			return nil, err
		}

		insQuery, _, err := s.goqu.Insert(s.tableWfSteps).Rows(goqu.Record{
			"id":                row.ID,
			"workflow_id":       row.WorkflowID,
			"step_order":        row.StepOrder,
			"name":              row.Name,
			"job_type":          row.JobType,
			"target":            row.Target,
			"args":              row.Args,
			"kwargs":            row.Kwargs,
			"on_failure":        row.OnFailure,
			"timeout":           row.Timeout,
			"run_in_background": row.RunInBackground,
		}).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build insert step query: %w", err)
		}

		if _, err := tx.ExecContext(ctx, insQuery); err != nil {
			return nil, fmt.Errorf("insert step %q: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit workflow upsert: %w", err)
	}

	return s.GetWorkflow(ctx, wf.ID)
}

func (s *SQLite) DeleteWorkflow(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableWf).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete workflow query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete workflow %q: %w", id, err)
	}

	return nil
}
