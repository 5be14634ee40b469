package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/civ-ci/civ/internals/schemas"
)

const jobColumns = `name, description, url, last_build_number, last_build_status, created_at, updated_at`

type UpsertJobParams struct {
	Name            string
	Description     string
	URL             string
	LastBuildNumber int64
	LastBuildStatus schemas.BuildStatus
}

// A late callback for an older build must not roll the job back.
const upsertJob = `
INSERT INTO jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
	description = CASE WHEN excluded.description != '' THEN excluded.description ELSE jobs.description END,
	url = CASE WHEN excluded.url != '' THEN excluded.url ELSE jobs.url END,
	last_build_number = CASE WHEN excluded.last_build_number >= jobs.last_build_number THEN excluded.last_build_number ELSE jobs.last_build_number END,
	last_build_status = CASE WHEN excluded.last_build_number >= jobs.last_build_number THEN excluded.last_build_status ELSE jobs.last_build_status END,
	updated_at = excluded.updated_at
RETURNING ` + jobColumns

func (q *Queries) UpsertJob(ctx context.Context, arg UpsertJobParams) (Job, error) {
	now := toMillis(q.now())
	row := q.db.QueryRowContext(ctx, upsertJob,
		arg.Name, arg.Description, arg.URL, arg.LastBuildNumber, string(arg.LastBuildStatus), now, now,
	)
	return scanJob(row)
}

const getJob = `SELECT ` + jobColumns + ` FROM jobs WHERE name = ?`

func (q *Queries) GetJob(ctx context.Context, name string) (Job, error) {
	job, err := scanJob(q.db.QueryRowContext(ctx, getJob, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

const listJobs = `SELECT ` + jobColumns + ` FROM jobs ORDER BY name ASC`

func (q *Queries) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, listJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&job.Name, &job.Description, &job.URL, &job.LastBuildNumber, &status, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}
	job.LastBuildStatus = schemas.BuildStatus(status)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return job, nil
}
