package tasky

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/civ-ci/civ/internals/tasky/generators/simple"
)

var (
	ErrBackendRequired = errors.New("backend is required")
	ErrUnknownJob      = errors.New("unknown job id")
	ErrConsumerRunning = errors.New("consumer already running")
)

type Queue[T JobID] struct {
	jobs      map[T]Job[T]
	backend   Backend[T]
	taskIDGen TaskIDGenerator[T]
	onError   OnErrorHandler[T]
}

func NewQueue[T JobID](cfg QueueConfig[T]) (*Queue[T], error) {
	if cfg.Backend == nil {
		return nil, ErrBackendRequired
	}

	jobs := make(map[T]Job[T], len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if _, exists := jobs[job.ID]; exists {
			return nil, fmt.Errorf("duplicate job id: %v", job.ID)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %v has nil Run handler", job.ID)
		}
		jobs[job.ID] = job
	}

	taskIDGen := cfg.TaskIDGen
	if taskIDGen == nil {
		taskIDGen = simple.New[T]()
	}

	return &Queue[T]{
		jobs:      jobs,
		backend:   cfg.Backend,
		taskIDGen: taskIDGen,
		onError:   cfg.OnError,
	}, nil
}

// Enqueue hands the task to the backend. Once it returns nil the task is
// owned by the backend and will be delivered to a consumer.
func (q *Queue[T]) Enqueue(ctx context.Context, task *Task[T]) (TaskID, error) {
	if task == nil {
		return "", errors.New("task is nil")
	}
	job, exists := q.jobs[task.JobID]
	if !exists {
		return "", fmt.Errorf("%w: %v", ErrUnknownJob, task.JobID)
	}

	if task.TaskID == "" {
		task.TaskID = q.taskIDGen.Next(task.JobID)
		if task.TaskID == "" {
			return "", errors.New("task id generator returned empty id")
		}
	}

	if err := q.backend.Enqueue(ctx, task, &job); err != nil {
		return "", err
	}
	return task.TaskID, nil
}

func (q *Queue[T]) reportError(err error, task *Task[T]) error {
	if err == nil || q.onError == nil {
		return nil
	}
	var payload []byte
	if task != nil {
		payload = task.Payload
	}
	return q.onError(err, task, payload)
}

type ConsumerOptions struct {
	Workers int
}

type Consumer[T JobID] struct {
	queue   *Queue[T]
	options ConsumerOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	errCh   chan error
	stopErr error
}

func NewConsumer[T JobID](queue *Queue[T], options ConsumerOptions) *Consumer[T] {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	return &Consumer[T]{
		queue:   queue,
		options: options,
		errCh:   make(chan error, 1),
	}
}

// Start launches the workers in the background. Use Err to learn when the
// consumer stopped because OnError returned an error.
func (c *Consumer[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrConsumerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		if err := c.Run(runCtx); err != nil {
			c.mu.Lock()
			c.stopErr = err
			c.mu.Unlock()
			select {
			case c.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

func (c *Consumer[T]) Err() <-chan error {
	return c.errCh
}

// Shutdown stops dequeuing and waits for in-flight tasks to return.
func (c *Consumer[T]) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopErr
}

// Run blocks until ctx is cancelled or OnError returns an error.
func (c *Consumer[T]) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once sync.Once
	var runErr error
	report := func(err error, task *Task[T]) {
		if stop := c.queue.reportError(err, task); stop != nil {
			once.Do(func() {
				runErr = stop
				cancel()
			})
		}
	}

	var wg sync.WaitGroup
	wg.Add(c.options.Workers)
	for i := 0; i < c.options.Workers; i++ {
		go func() {
			defer wg.Done()
			c.work(ctx, report)
		}()
	}
	wg.Wait()

	return runErr
}

func (c *Consumer[T]) work(ctx context.Context, report func(error, *Task[T])) {
	backend := c.queue.backend
	for {
		if ctx.Err() != nil {
			return
		}

		jobID, taskID, payload, err := backend.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			report(err, nil)
			continue
		}

		task := &Task[T]{JobID: jobID, TaskID: taskID, Payload: payload}
		job, ok := c.queue.jobs[jobID]
		if !ok {
			report(fmt.Errorf("%w: %v", ErrUnknownJob, jobID), task)
			if ackErr := backend.Ack(context.WithoutCancel(ctx), taskID); ackErr != nil {
				report(ackErr, task)
			}
			continue
		}

		// Finishing the bookkeeping must survive shutdown, otherwise a task
		// that already ran would be stuck in flight.
		bookCtx := context.WithoutCancel(ctx)
		if err := job.Run(ctx, task); err != nil {
			if nackErr := backend.Nack(bookCtx, taskID); nackErr != nil {
				report(errors.Join(err, nackErr), task)
			} else {
				report(err, task)
			}
			continue
		}

		if err := backend.Ack(bookCtx, taskID); err != nil {
			report(err, task)
		}
	}
}
