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
	"github.com/vektorhq/taskd/internal/scheduler"
)

type logRow struct {
	ID            string         `db:"id"`
	JobID         string         `db:"job_id"`
	WorkflowRunID string         `db:"workflow_run_id"`
	Command       string         `db:"command"`
	ExitCode      sql.NullInt64  `db:"exit_code"`
	Stdout        string         `db:"stdout"`
	Stderr        string         `db:"stderr"`
	StartTime     string         `db:"start_time"`
	EndTime       sql.NullString `db:"end_time"`
	Status        string         `db:"status"`
}

func rowToLog(row logRow) (*model.ExecutionLog, error) {
	startTime, err := time.Parse(time.RFC3339, row.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start_time for log %q: %w", row.ID, err)
	}

	var endTime *time.Time
	if row.EndTime.Valid && row.EndTime.String != "" {
		t, err := time.Parse(time.RFC3339, row.EndTime.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_time for log %q: %w", row.ID, err)
		}
		endTime = &t
	}

	var exitCode *int
	if row.ExitCode.Valid {
		v := int(row.ExitCode.Int64)
		exitCode = &v
	}

	return &model.ExecutionLog{
		ID:            row.ID,
		JobID:         row.JobID,
		WorkflowRunID: row.WorkflowRunID,
		Command:       row.Command,
		ExitCode:      exitCode,
		Stdout:        row.Stdout,
		Stderr:        row.Stderr,
		StartTime:     startTime,
		EndTime:       endTime,
		Status:        model.LogStatus(row.Status),
	}, nil
}

// CreateLog inserts an append-only execution log row in RUNNING status. The
// id is minted here (a ULID) and returned with the row so the caller can use
// it for the subsequent completion update.
func (s *SQLite) CreateLog(ctx context.Context, jobID, workflowRunID, command string) (*model.ExecutionLog, error) {
	entry := model.ExecutionLog{
		ID:            ulid.Make().String(),
		JobID:         jobID,
		WorkflowRunID: workflowRunID,
		Command:       command,
		StartTime:     time.Now().UTC(),
		Status:        model.LogRunning,
	}

	query, _, err := s.goqu.Insert(s.tableLogs).Rows(goqu.Record{
		"id":              entry.ID,
		"job_id":          entry.JobID,
		"workflow_run_id": entry.WorkflowRunID,
		"command":         entry.Command,
		"start_time":      entry.StartTime.Format(time.RFC3339),
		"status":          string(entry.Status),
	}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build create log query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create execution log: %w", err)
	}

	return &entry, nil
}

// UpdateLog stamps the terminal fields of an execution log: status,
// exit_code, captured stdout/stderr, and end_time.
func (s *SQLite) UpdateLog(ctx context.Context, entry model.ExecutionLog) error {
	record := goqu.Record{
		"status": string(entry.Status),
		"stdout": entry.Stdout,
		"stderr": entry.Stderr,
	}
	if entry.ExitCode != nil {
		record["exit_code"] = *entry.ExitCode
	}
	if entry.EndTime != nil {
		record["end_time"] = entry.EndTime.UTC().Format(time.RFC3339)
	}

	query, _, err := s.goqu.Update(s.tableLogs).Set(record).Where(goqu.I("id").Eq(entry.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update log query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("update execution log %q: %w", entry.ID, err)
	}

	return nil
}

func (s *SQLite) GetLog(ctx context.Context, id string) (*model.ExecutionLog, error) {
	query, _, err := s.goqu.From(s.tableLogs).
		Select("id", "job_id", "workflow_run_id", "command", "exit_code",
			"stdout", "stderr", "start_time", "end_time", "status").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get log query: %w", err)
	}

	var row logRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.JobID, &row.WorkflowRunID,
		&row.Command, &row.ExitCode, &row.Stdout, &row.Stderr, &row.StartTime, &row.EndTime, &row.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution log %q: %w", id, err)
	}

	return rowToLog(row)
}

func (s *SQLite) ListLogs(ctx context.Context, skip, limit int) ([]model.ExecutionLog, error) {
	return s.queryLogs(ctx, nil, skip, limit)
}

func (s *SQLite) ListLogsByJob(ctx context.Context, jobID string, skip, limit int) ([]model.ExecutionLog, error) {
	return s.queryLogs(ctx, goqu.I("job_id").Eq(jobID), skip, limit)
}

func (s *SQLite) queryLogs(ctx context.Context, where goqu.Expression, skip, limit int) ([]model.ExecutionLog, error) {
	sel := s.goqu.From(s.tableLogs).
		Select("id", "job_id", "workflow_run_id", "command", "exit_code",
			"stdout", "stderr", "start_time", "end_time", "status").
		Order(goqu.I("start_time").Desc()).
		Offset(uint(max(skip, 0)))

	if where != nil {
		sel = sel.Where(where)
	}
	if limit > 0 {
		sel = sel.Limit(uint(limit))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list logs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var result []model.ExecutionLog
	for rows.Next() {
		var row logRow
		if err := rows.Scan(&row.ID, &row.JobID, &row.WorkflowRunID, &row.Command, &row.ExitCode,
			&row.Stdout, &row.Stderr, &row.StartTime, &row.EndTime, &row.Status); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}

		entry, err := rowToLog(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *entry)
	}

	return result, rows.Err()
}

// DashboardSummary reports the counts the control plane's summary endpoint
// exposes: total job+workflow definitions, logs currently RUNNING, and
// cumulative COMPLETED/FAILED counts, supplementing the distilled interface
// contract with the same aggregate the source platform's service layer
// computes for its dashboard view.
type DashboardSummary struct {
	TotalDefinitions int
	RunningCount     int
	CompletedCount   int
	FailedCount      int
}

func (s *SQLite) DashboardSummary(ctx context.Context) (*DashboardSummary, error) {
	var summary DashboardSummary

	jobsQuery, _, err := s.goqu.From(s.tableJobs).Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build job count query: %w", err)
	}
	var jobCount int
	if err := s.db.QueryRowContext(ctx, jobsQuery).Scan(&jobCount); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	wfQuery, _, err := s.goqu.From(s.tableWf).Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build workflow count query: %w", err)
	}
	var wfCount int
	if err := s.db.QueryRowContext(ctx, wfQuery).Scan(&wfCount); err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}
	summary.TotalDefinitions = jobCount + wfCount

	for status, dest := range map[model.LogStatus]*int{
		model.LogRunning:   &summary.RunningCount,
		model.LogCompleted: &summary.CompletedCount,
		model.LogFailed:    &summary.FailedCount,
	} {
		query, _, err := s.goqu.From(s.tableLogs).
			Select(goqu.COUNT("*")).
			Where(goqu.I("status").Eq(string(status))).
			ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build log count query: %w", err)
		}
		if err := s.db.QueryRowContext(ctx, query).Scan(dest); err != nil {
			return nil, fmt.Errorf("count logs with status %q: %w", status, err)
		}
	}

	return &summary, nil
}

// TimelinePoint is one entry in the 7-day timeline: either an instantaneous
// "scheduled" future fire time, or a ranged item spanning a log's or
// workflow run's start to end (end defaults to now while still running).
type TimelinePoint struct {
	Kind  string // "scheduled", "log", "workflow_run"
	RefID string
	Start time.Time
	End   *time.Time
}

// Timeline assembles the last-7-days view from three sources: future
// schedule entries (via entryRows, supplied by the scheduler rather than
// this package since next-fire-time lives in the in-memory engine once
// running), workflow runs, and non-workflow execution logs.
func (s *SQLite) Timeline(ctx context.Context, entryRows []scheduler.EntryState) ([]TimelinePoint, error) {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -7)

	var points []TimelinePoint

	for _, e := range entryRows {
		if e.NextFireTime.After(now) {
			points = append(points, TimelinePoint{Kind: "scheduled", RefID: e.ID, Start: e.NextFireTime})
		}
	}

	runQuery, _, err := s.goqu.From(s.tableWfRuns).
		Select("id", "workflow_id", "status", "current_step", "start_time", "end_time").
		Where(goqu.I("start_time").Gte(since.Format(time.RFC3339))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build timeline runs query: %w", err)
	}

	runRows, err := s.db.QueryContext(ctx, runQuery)
	if err != nil {
		return nil, fmt.Errorf("query timeline runs: %w", err)
	}
	for runRows.Next() {
		var row workflowRunRow
		if err := runRows.Scan(&row.ID, &row.WorkflowID, &row.Status, &row.CurrentStep,
			&row.StartTime, &row.EndTime); err != nil {
			runRows.Close()
			return nil, fmt.Errorf("scan timeline run row: %w", err)
		}

		run, err := rowToRun(row)
		if err != nil {
			runRows.Close()
			return nil, err
		}

		end := run.EndTime
		if end == nil {
			now := now
			end = &now
		}
		points = append(points, TimelinePoint{Kind: "workflow_run", RefID: run.ID, Start: run.StartTime, End: end})
	}
	if err := runRows.Err(); err != nil {
		runRows.Close()
		return nil, err
	}
	runRows.Close()

	logQuery, _, err := s.goqu.From(s.tableLogs).
		Select("id", "job_id", "workflow_run_id", "command", "exit_code",
			"stdout", "stderr", "start_time", "end_time", "status").
		Where(
			goqu.I("start_time").Gte(since.Format(time.RFC3339)),
			goqu.I("workflow_run_id").Eq(""),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build timeline logs query: %w", err)
	}

	logRows, err := s.db.QueryContext(ctx, logQuery)
	if err != nil {
		return nil, fmt.Errorf("query timeline logs: %w", err)
	}
	defer logRows.Close()

	for logRows.Next() {
		var row logRow
		if err := logRows.Scan(&row.ID, &row.JobID, &row.WorkflowRunID, &row.Command, &row.ExitCode,
			&row.Stdout, &row.Stderr, &row.StartTime, &row.EndTime, &row.Status); err != nil {
			return nil, fmt.Errorf("scan timeline log row: %w", err)
		}

		entry, err := rowToLog(row)
		if err != nil {
			return nil, err
		}

		end := entry.EndTime
		if end == nil {
			now := now
			end = &now
		}
		points = append(points, TimelinePoint{Kind: "log", RefID: entry.ID, Start: entry.StartTime, End: end})
	}

	return points, logRows.Err()
}
