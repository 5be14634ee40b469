package tasky

import (
	"context"
	"time"
)

// JobID is the constraint for job identifiers. Callers declare their own
// string type (e.g. `type Jobs string`) and a const per job.
type JobID interface {
	~string
}

type TaskID = string

type RunFunc[T JobID] func(ctx context.Context, task *Task[T]) error

type Job[T JobID] struct {
	ID       T
	Priority int
	Run      RunFunc[T]
}

type JobConfig[T JobID] struct {
	Priority int
	Run      RunFunc[T]
}

func NewJob[T JobID](id T, cfg JobConfig[T]) Job[T] {
	return Job[T]{ID: id, Priority: cfg.Priority, Run: cfg.Run}
}

type Task[T JobID] struct {
	JobID   T
	TaskID  TaskID
	Payload []byte
	// Delay holds the task back from consumers for this long after Enqueue.
	Delay time.Duration
}

func NewTask[T JobID](jobID T, payload []byte) *Task[T] {
	return &Task[T]{JobID: jobID, Payload: payload}
}

type TaskIDGenerator[T JobID] interface {
	Next(jobID T) TaskID
}

type TaskIDGeneratorFunc[T JobID] func(jobID T) TaskID

func (f TaskIDGeneratorFunc[T]) Next(jobID T) TaskID {
	return f(jobID)
}

// OnErrorHandler is called for every failed task and backend error. Returning
// a non-nil error stops the consumer.
type OnErrorHandler[T JobID] func(err error, task *Task[T], payload []byte) error

type QueueConfig[T JobID] struct {
	Jobs      []Job[T]
	Backend   Backend[T]
	TaskIDGen TaskIDGenerator[T]
	OnError   OnErrorHandler[T]
}

type Backend[T JobID] interface {
	Enqueue(ctx context.Context, task *Task[T], job *Job[T]) error
	Dequeue(ctx context.Context) (jobID T, taskID TaskID, payload []byte, err error)
	Ack(ctx context.Context, taskID TaskID) error
	Nack(ctx context.Context, taskID TaskID) error
}
