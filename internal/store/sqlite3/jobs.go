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

type jobRow struct {
	ID                string `db:"id"`
	Description       string `db:"description"`
	IsEnabled         bool   `db:"is_enabled"`
	JobType           string `db:"job_type"`
	TriggerConfig     string `db:"trigger_config"`
	Func              string `db:"func"`
	Args              string `db:"args"`
	Kwargs            string `db:"kwargs"`
	Cwd               string `db:"cwd"`
	Env               string `db:"env"`
	MaxInstances      int    `db:"max_instances"`
	Coalesce          bool   `db:"coalesce"`
	MisfireGraceTime  int64  `db:"misfire_grace_time"`
	CreatedAt         string `db:"created_at"`
	UpdatedAt         string `db:"updated_at"`
}

func jobToRow(j model.JobDefinition) (jobRow, error) {
	trig, err := json.Marshal(j.Trigger)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal trigger: %w", err)
	}

	args, err := json.Marshal(j.Args)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal args: %w", err)
	}

	kwargs, err := json.Marshal(j.Kwargs)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal kwargs: %w", err)
	}

	env, err := json.Marshal(j.Env)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal env: %w", err)
	}

	return jobRow{
		ID:               j.ID,
		Description:      j.Description,
		IsEnabled:        j.IsEnabled,
		JobType:          string(j.JobType),
		TriggerConfig:    string(trig),
		Func:             j.Func,
		Args:             string(args),
		Kwargs:           string(kwargs),
		Cwd:              j.Cwd,
		Env:              string(env),
		MaxInstances:     j.MaxInstances,
		Coalesce:         j.Coalesce,
		MisfireGraceTime: int64(j.MisfireGraceTime),
		CreatedAt:        j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        j.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func rowToJob(row jobRow) (*model.JobDefinition, error) {
	var trig model.Trigger
	if err := json.Unmarshal([]byte(row.TriggerConfig), &trig); err != nil {
		return nil, fmt.Errorf("unmarshal trigger for %q: %w", row.ID, err)
	}

	var args []any
	if err := json.Unmarshal([]byte(row.Args), &args); err != nil {
		return nil, fmt.Errorf("unmarshal args for %q: %w", row.ID, err)
	}

	var kwargs map[string]any
	if err := json.Unmarshal([]byte(row.Kwargs), &kwargs); err != nil {
		return nil, fmt.Errorf("unmarshal kwargs for %q: %w", row.ID, err)
	}

	var env map[string]string
	if err := json.Unmarshal([]byte(row.Env), &env); err != nil {
		return nil, fmt.Errorf("unmarshal env for %q: %w", row.ID, err)
	}

	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %q: %w", row.ID, err)
	}

	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at for %q: %w", row.ID, err)
	}

	return &model.JobDefinition{
		ID:               row.ID,
		Description:      row.Description,
		IsEnabled:        row.IsEnabled,
		JobType:          model.JobType(row.JobType),
		Trigger:          trig,
		Func:             row.Func,
		Args:             args,
		Kwargs:           kwargs,
		Cwd:              row.Cwd,
		Env:              env,
		MaxInstances:     row.MaxInstances,
		Coalesce:         row.Coalesce,
		MisfireGraceTime: int(row.MisfireGraceTime),
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*model.JobDefinition, error) {
	query, _, err := s.goqu.From(s.tableJobs).
		Select("id", "description", "is_enabled", "job_type", "trigger_config", "func",
			"args", "kwargs", "cwd", "env", "max_instances", "coalesce",
			"misfire_grace_time", "created_at", "updated_at").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get job query: %w", err)
	}

	var row jobRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.Description, &row.IsEnabled,
		&row.JobType, &row.TriggerConfig, &row.Func, &row.Args, &row.Kwargs, &row.Cwd,
		&row.Env, &row.MaxInstances, &row.Coalesce, &row.MisfireGraceTime, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}

	return rowToJob(row)
}

func (s *SQLite) ListJobs(ctx context.Context, skip, limit int) ([]model.JobDefinition, error) {
	sel := s.goqu.From(s.tableJobs).
		Select("id", "description", "is_enabled", "job_type", "trigger_config", "func",
			"args", "kwargs", "cwd", "env", "max_instances", "coalesce",
			"misfire_grace_time", "created_at", "updated_at").
		Order(goqu.I("id").Asc()).
		Offset(uint(max(skip, 0)))

	if limit > 0 {
		sel = sel.Limit(uint(limit))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list jobs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []model.JobDefinition
	for rows.Next() {
		var row jobRow
		if err := rows.Scan(&row.ID, &row.Description, &row.IsEnabled, &row.JobType,
			&row.TriggerConfig, &row.Func, &row.Args, &row.Kwargs, &row.Cwd, &row.Env,
			&row.MaxInstances, &row.Coalesce, &row.MisfireGraceTime, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}

		job, err := rowToJob(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *job)
	}

	return result, rows.Err()
}

// UpsertJob inserts a new job or, if id already exists, replaces it
// entirely — id and replace-existing semantics per the declarative
// reconciler's seeding contract.
func (s *SQLite) UpsertJob(ctx context.Context, j model.JobDefinition) (*model.JobDefinition, error) {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	row, err := jobToRow(j)
	if err != nil {
		return nil, err
	}

	query, _, err := s.goqu.Insert(s.tableJobs).Rows(goqu.Record{
		"id":                 row.ID,
		"description":        row.Description,
		"is_enabled":         row.IsEnabled,
		"job_type":           row.JobType,
		"trigger_config":     row.TriggerConfig,
		"func":               row.Func,
		"args":               row.Args,
		"kwargs":             row.Kwargs,
		"cwd":                row.Cwd,
		"env":                row.Env,
		"max_instances":      row.MaxInstances,
		"coalesce":           row.Coalesce,
		"misfire_grace_time": row.MisfireGraceTime,
		"created_at":         row.CreatedAt,
		"updated_at":         row.UpdatedAt,
	}).OnConflict(goqu.DoUpdate("id", goqu.Record{
		"description":        row.Description,
		"is_enabled":         row.IsEnabled,
		"job_type":           row.JobType,
		"trigger_config":     row.TriggerConfig,
		"func":               row.Func,
		"args":               row.Args,
		"kwargs":             row.Kwargs,
		"cwd":                row.Cwd,
		"env":                row.Env,
		"max_instances":      row.MaxInstances,
		"coalesce":           row.Coalesce,
		"misfire_grace_time": row.MisfireGraceTime,
		"updated_at":         row.UpdatedAt,
	})).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build upsert job query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("upsert job %q: %w", j.ID, err)
	}

	return s.GetJob(ctx, j.ID)
}

func (s *SQLite) DeleteJob(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableJobs).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete job query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}

	return nil
}
