package core

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/civ-ci/civ/internals/tasky"
	"github.com/civ-ci/civ/internals/tasky/backends/memory"
	taskysqlite3 "github.com/civ-ci/civ/internals/tasky/backends/tasky_sqlite3"
)

type Jobs string

const (
	JobTriggerBuild Jobs = "trigger_jenkins_job"
	JobTrackBuild   Jobs = "track_jenkins_build"
)

// QueueBackend is a tasky backend the daemon can recover and inspect.
type QueueBackend interface {
	tasky.Backend[Jobs]
	RequeueInFlight(ctx context.Context) (int64, error)
	Counts(ctx context.Context) (map[string]int, error)
	Close() error
}

var retryBackoff = tasky.Backoff{
	Base:   5 * time.Second,
	Max:    5 * time.Minute,
	Factor: 2,
	Jitter: 0.2,
}

// NewQueue opens the trigger queue and sets base.TaskQueue and
// base.QueueBackend. The sqlite backend lives under <data_dir>/queue.
func NewQueue(base *BaseServer) (*tasky.Queue[Jobs], error) {
	triggerJob := tasky.NewJob(JobTriggerBuild, tasky.JobConfig[Jobs]{
		Run: base.runTrigger,
	})
	// Recording a finished build goes ahead of polling running ones.
	trackJob := tasky.NewJob(JobTrackBuild, tasky.JobConfig[Jobs]{
		Priority: -1,
		Run:      base.runTrack,
	})

	backend, err := newQueueBackend(base)
	if err != nil {
		return nil, err
	}

	q, err := tasky.NewQueue(tasky.QueueConfig[Jobs]{
		Jobs:    []tasky.Job[Jobs]{triggerJob, trackJob},
		Backend: backend,
		OnError: func(err error, task *tasky.Task[Jobs], payload []byte) error {
			attrs := []any{slog.String("error", err.Error())}
			if task != nil {
				attrs = append(attrs, slog.String("queueTaskId", task.TaskID), slog.String("jobId", string(task.JobID)))
			}
			base.Logger.Error("[QUEUE] Task failed to complete", attrs...)
			return nil
		},
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	base.TaskQueue = q
	base.QueueBackend = backend
	return q, nil
}

func newQueueBackend(base *BaseServer) (QueueBackend, error) {
	qc := base.Config.Queue
	if qc.Backend == "memory" {
		base.Logger.Warn("[QUEUE] Using in-memory queue, pending triggers are lost on restart")
		return memory.New[Jobs](memory.Config{
			RetryDelay: retryBackoff.RetryDelay(),
			RetryMax:   qc.RetryMax,
		}), nil
	}

	queuePath := filepath.Join(base.Config.Server.DataDir, "queue", "queue.db")
	if err := os.MkdirAll(filepath.Dir(queuePath), 0o755); err != nil {
		return nil, err
	}
	backend, err := taskysqlite3.New[Jobs](taskysqlite3.Config{
		Path:         queuePath,
		QueueName:    "civ_queue",
		RetryDelay:   retryBackoff.RetryDelay(),
		RetryMax:     qc.RetryMax,
		PollInterval: qc.PollIntervalDuration(),
	})
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// RunConsumer returns triggers a crashed process left in flight to the queue,
// then works the queue until ctx is cancelled.
func (b *BaseServer) RunConsumer(ctx context.Context) error {
	requeued, err := b.QueueBackend.RequeueInFlight(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		b.Logger.Warn("[QUEUE] Requeued triggers left in flight", slog.Int64("count", requeued))
	}

	consumer := tasky.NewConsumer(b.TaskQueue, tasky.ConsumerOptions{Workers: b.Config.Queue.Workers})
	b.Logger.Info("[QUEUE] Consumer started", slog.Int("workers", b.Config.Queue.Workers))
	return consumer.Run(ctx)
}
