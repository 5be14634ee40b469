package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/civ-ci/civ/internals/schemas"
)

const buildColumns = `id, task_id, job_name, build_number, url, status, start_time, end_time, duration_ms, parameters, stages, report, artifacts, created_at`

type CreateBuildParams struct {
	TaskID      string
	JobName     string
	BuildNumber int64
	URL         string
	Status      schemas.BuildStatus
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Parameters  map[string]string
	Stages      json.RawMessage
	Report      string
	Artifacts   []string
}

const createBuild = `
INSERT INTO builds (task_id, job_name, build_number, url, status, start_time, end_time, duration_ms, parameters, stages, report, artifacts, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + buildColumns

// CreateBuild appends one build in a single INSERT. A build may be recorded
// RUNNING and later again with its final status. A second finished build with
// the same job name and a non-negative number fails with ErrDuplicateBuild.
func (q *Queries) CreateBuild(ctx context.Context, arg CreateBuildParams) (Build, error) {
	params, err := encodeParameters(arg.Parameters)
	if err != nil {
		return Build{}, err
	}
	stages := string(arg.Stages)
	if stages == "" || stages == "null" {
		stages = "[]"
	}
	artifacts := arg.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return Build{}, err
	}

	row := q.db.QueryRowContext(ctx, createBuild,
		arg.TaskID,
		arg.JobName,
		arg.BuildNumber,
		arg.URL,
		string(arg.Status),
		nullMillis(arg.StartTime),
		nullMillis(arg.EndTime),
		arg.Duration.Milliseconds(),
		params,
		stages,
		arg.Report,
		string(artifactsJSON),
		toMillis(q.now()),
	)
	build, err := scanBuild(row)
	return build, translateError(err)
}

const getBuild = `SELECT ` + buildColumns + ` FROM builds WHERE id = ?`

func (q *Queries) GetBuild(ctx context.Context, id int64) (Build, error) {
	build, err := scanBuild(q.db.QueryRowContext(ctx, getBuild, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, ErrBuildNotFound
	}
	return build, err
}

const getBuildByNumber = `SELECT ` + buildColumns + ` FROM builds WHERE job_name = ? AND build_number = ? ORDER BY id ASC LIMIT 1`

// GetBuildByNumber returns the first row recorded for the build, which is the
// RUNNING row when one exists.
func (q *Queries) GetBuildByNumber(ctx context.Context, jobName string, number int64) (Build, error) {
	build, err := scanBuild(q.db.QueryRowContext(ctx, getBuildByNumber, jobName, number))
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, ErrBuildNotFound
	}
	return build, err
}

const getFinishedBuild = `SELECT ` + buildColumns + ` FROM builds WHERE job_name = ? AND build_number = ? AND status <> 'RUNNING'`

// GetFinishedBuild returns the row recorded once the build left RUNNING.
func (q *Queries) GetFinishedBuild(ctx context.Context, jobName string, number int64) (Build, error) {
	build, err := scanBuild(q.db.QueryRowContext(ctx, getFinishedBuild, jobName, number))
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, ErrBuildNotFound
	}
	return build, err
}

const listBuildsByTask = `SELECT ` + buildColumns + ` FROM builds WHERE task_id = ? ORDER BY id ASC`

// ListBuildsByTask returns the builds of a task in the order they were
// recorded.
func (q *Queries) ListBuildsByTask(ctx context.Context, taskID string) ([]Build, error) {
	rows, err := q.db.QueryContext(ctx, listBuildsByTask, taskID)
	if err != nil {
		return nil, err
	}
	return collectBuilds(rows)
}

const latestBuildByJob = `
SELECT ` + buildColumns + ` FROM builds
WHERE job_name = ?
ORDER BY COALESCE(start_time, created_at) DESC, id DESC
LIMIT 1`

func (q *Queries) LatestBuildByJob(ctx context.Context, jobName string) (Build, error) {
	build, err := scanBuild(q.db.QueryRowContext(ctx, latestBuildByJob, jobName))
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, ErrBuildNotFound
	}
	return build, err
}

// BuildOutcome narrows ListBuilds to successful or failed builds.
type BuildOutcome string

const (
	OutcomeAny     BuildOutcome = ""
	OutcomeSuccess BuildOutcome = "success"
	OutcomeFailure BuildOutcome = "failure"
)

type ListBuildsParams struct {
	JobName string
	Status  schemas.BuildStatus
	Outcome BuildOutcome
	// Branch matches the "branch" build parameter.
	Branch string
	Since  time.Time
	Limit  int
	Offset int
}

// ListBuilds returns the most recent builds first, by start time when known
// and creation time otherwise.
func (q *Queries) ListBuilds(ctx context.Context, arg ListBuildsParams) ([]Build, error) {
	var where []string
	var args []any
	if arg.JobName != "" {
		where = append(where, "job_name = ?")
		args = append(args, arg.JobName)
	}
	if arg.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(arg.Status))
	}
	switch arg.Outcome {
	case OutcomeSuccess:
		where = append(where, "status = ?")
		args = append(args, string(schemas.BuildStatusSuccess))
	case OutcomeFailure:
		failed := failedStatuses()
		where = append(where, "status IN ("+placeholders(len(failed))+")")
		for _, status := range failed {
			args = append(args, string(status))
		}
	}
	if arg.Branch != "" {
		where = append(where, "json_extract(parameters, '$.branch') = ?")
		args = append(args, arg.Branch)
	}
	if !arg.Since.IsZero() {
		where = append(where, "COALESCE(start_time, created_at) >= ?")
		args = append(args, toMillis(arg.Since))
	}

	query := `SELECT ` + buildColumns + ` FROM builds`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(start_time, created_at) DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(arg.Limit), max(arg.Offset, 0))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectBuilds(rows)
}

func failedStatuses() []schemas.BuildStatus {
	var failed []schemas.BuildStatus
	for _, status := range schemas.BuildStatuses() {
		if status.Failed() {
			failed = append(failed, status)
		}
	}
	return failed
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func collectBuilds(rows *sql.Rows) ([]Build, error) {
	defer rows.Close()
	builds := []Build{}
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, build)
	}
	return builds, rows.Err()
}

func scanBuild(row rowScanner) (Build, error) {
	var build Build
	var status, params, stages, artifacts string
	var startTime, endTime sql.NullInt64
	var durationMs, createdAt int64
	err := row.Scan(
		&build.ID,
		&build.TaskID,
		&build.JobName,
		&build.BuildNumber,
		&build.URL,
		&status,
		&startTime,
		&endTime,
		&durationMs,
		&params,
		&stages,
		&build.Report,
		&artifacts,
		&createdAt,
	)
	if err != nil {
		return Build{}, err
	}

	build.Status = schemas.BuildStatus(status)
	build.StartTime = fromNullMillis(startTime)
	build.EndTime = fromNullMillis(endTime)
	build.Duration = time.Duration(durationMs) * time.Millisecond
	build.CreatedAt = fromMillis(createdAt)
	build.Stages = json.RawMessage(stages)
	if build.Parameters, err = decodeParameters(params); err != nil {
		return Build{}, err
	}
	build.Artifacts = []string{}
	if artifacts != "" {
		if err := json.Unmarshal([]byte(artifacts), &build.Artifacts); err != nil {
			return Build{}, err
		}
	}
	return build, nil
}
