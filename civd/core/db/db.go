package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrBuildNotFound  = errors.New("build not found")
	ErrJobNotFound    = errors.New("job not found")
	ErrDuplicateBuild = errors.New("build already recorded for this job and number")
	ErrImmutableTask  = errors.New("task job name and parameters cannot change")

	ErrInvocationNotFound = errors.New("trigger invocation not found")
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db  DBTX
	now func() time.Time
}

func New(db DBTX) *Queries {
	return &Queries{db: db, now: time.Now}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, now: q.now}
}

// WithClock returns a copy that stamps rows with now.
func (q *Queries) WithClock(now func() time.Time) *Queries {
	return &Queries{db: q.db, now: now}
}

// translateError maps sqlite constraint failures to the package errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: builds."):
		return ErrDuplicateBuild
	case strings.Contains(msg, "task job_name and parameters are immutable"):
		return ErrImmutableTask
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrTaskNotFound
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(t), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(ms sql.NullInt64) time.Time {
	if !ms.Valid {
		return time.Time{}
	}
	return fromMillis(ms.Int64)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
