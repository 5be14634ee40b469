package db

import (
	"context"
	"database/sql"
	"errors"
)

type Invocation struct {
	QueueTaskID    string
	TaskID         string
	JenkinsQueueID int64
}

const saveInvocation = `
INSERT INTO trigger_invocations (queue_task_id, task_id, jenkins_queue_id, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (queue_task_id) DO UPDATE SET
	task_id = excluded.task_id,
	jenkins_queue_id = excluded.jenkins_queue_id,
	created_at = excluded.created_at`

// SaveInvocation remembers the Jenkins queue item created for a queued
// trigger.
func (q *Queries) SaveInvocation(ctx context.Context, arg Invocation) error {
	_, err := q.db.ExecContext(ctx, saveInvocation, arg.QueueTaskID, arg.TaskID, arg.JenkinsQueueID, toMillis(q.now()))
	return translateError(err)
}

const getInvocation = `SELECT queue_task_id, task_id, jenkins_queue_id FROM trigger_invocations WHERE queue_task_id = ?`

func (q *Queries) GetInvocation(ctx context.Context, queueTaskID string) (Invocation, error) {
	var inv Invocation
	err := q.db.QueryRowContext(ctx, getInvocation, queueTaskID).Scan(&inv.QueueTaskID, &inv.TaskID, &inv.JenkinsQueueID)
	if errors.Is(err, sql.ErrNoRows) {
		return Invocation{}, ErrInvocationNotFound
	}
	return inv, err
}

const deleteInvocation = `DELETE FROM trigger_invocations WHERE queue_task_id = ?`

func (q *Queries) DeleteInvocation(ctx context.Context, queueTaskID string) error {
	_, err := q.db.ExecContext(ctx, deleteInvocation, queueTaskID)
	return err
}
