package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/civ-ci/civ/internals/schemas"
)

const taskColumns = `id, title, job_name, parameters, requested_by, origin, created_at, updated_at`

type CreateTaskParams struct {
	ID         string
	Title      string
	JobName    string
	Parameters map[string]string
	User       string
	Origin     schemas.Origin
}

const createTask = `
INSERT INTO tasks (` + taskColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + taskColumns

func (q *Queries) CreateTask(ctx context.Context, arg CreateTaskParams) (Task, error) {
	params, err := encodeParameters(arg.Parameters)
	if err != nil {
		return Task{}, err
	}
	now := toMillis(q.now())
	row := q.db.QueryRowContext(ctx, createTask,
		arg.ID, arg.Title, arg.JobName, params, arg.User, string(arg.Origin), now, now,
	)
	task, err := scanTask(row)
	return task, translateError(err)
}

const getTask = `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

func (q *Queries) GetTask(ctx context.Context, id string) (Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, getTask, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return task, err
}

type ListTasksParams struct {
	// Title matches as a case insensitive substring.
	Title  string
	User   string
	Limit  int
	Offset int
}

// ListTasks returns tasks newest first.
func (q *Queries) ListTasks(ctx context.Context, arg ListTasksParams) ([]Task, error) {
	var where []string
	var args []any
	if arg.Title != "" {
		where = append(where, "title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(arg.Title)+"%")
	}
	if arg.User != "" {
		where = append(where, "requested_by = ?")
		args = append(args, arg.User)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, clampLimit(arg.Limit), max(arg.Offset, 0))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type UpdateTaskParams struct {
	ID         string
	Title      string
	JobName    string
	Parameters map[string]string
}

const updateTask = `
UPDATE tasks
SET title = ?, job_name = ?, parameters = ?, updated_at = ?
WHERE id = ?
RETURNING ` + taskColumns

// UpdateTask rewrites a task. Only the title may differ from the stored row;
// changing job name or parameters fails with ErrImmutableTask.
func (q *Queries) UpdateTask(ctx context.Context, arg UpdateTaskParams) (Task, error) {
	params, err := encodeParameters(arg.Parameters)
	if err != nil {
		return Task{}, err
	}
	row := q.db.QueryRowContext(ctx, updateTask, arg.Title, arg.JobName, params, toMillis(q.now()), arg.ID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return task, translateError(err)
}

const touchTask = `UPDATE tasks SET updated_at = ? WHERE id = ?`

func (q *Queries) TouchTask(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, touchTask, toMillis(q.now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrTaskNotFound)
}

const deleteTask = `DELETE FROM tasks WHERE id = ?`

// DeleteTask removes a task and, through the foreign key, all its builds.
func (q *Queries) DeleteTask(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, deleteTask, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrTaskNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var params, origin string
	var createdAt, updatedAt int64
	if err := row.Scan(&task.ID, &task.Title, &task.JobName, &params, &task.User, &origin, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	decoded, err := decodeParameters(params)
	if err != nil {
		return Task{}, err
	}
	task.Parameters = decoded
	task.Origin = schemas.Origin(origin)
	task.CreatedAt = fromMillis(createdAt)
	task.UpdatedAt = fromMillis(updatedAt)
	return task, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
