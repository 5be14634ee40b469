package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	z "github.com/Oudwins/zog"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/jenkins"
	"github.com/civ-ci/civ/internals/schemas"
	"github.com/civ-ci/civ/internals/tasky"
)

// JenkinsClient is the part of *jenkins.Client the daemon depends on. A
// trigger is Invoke followed by AwaitBuild, so a redelivered trigger can wait
// on the queue item an earlier delivery created.
type JenkinsClient interface {
	Invoke(ctx context.Context, jobName string, params map[string]string) (int64, error)
	AwaitBuild(ctx context.Context, jobName string, queueID int64, timeout, pollInterval time.Duration) (*jenkins.BuildHandle, error)
	GetBuildInfo(ctx context.Context, jobName string, number int64) (*jenkins.BuildHandle, error)
	GetPipelineStages(ctx context.Context, jobName string, number int64) ([]jenkins.Stage, error)
	GetStageLog(ctx context.Context, stage jenkins.Stage) (string, error)
	JobURL(jobName string) string
}

// TriggerRequest is the queue payload of JobTriggerBuild.
type TriggerRequest struct {
	TaskID string         `json:"taskId" zog:"taskId"`
	Origin schemas.Origin `json:"origin" zog:"origin"`
	// BuildNumber is set when the build already exists, as with an upstream
	// callback. The task then only records it.
	BuildNumber *int `json:"buildNumber,omitempty" zog:"buildNumber"`
}

var TriggerRequestSchema = z.Struct(z.Shape{
	"TaskID":      z.String().Required().Trim(),
	"Origin":      z.StringLike[schemas.Origin]().Default(schemas.OriginAPI).OneOf(schemas.Origins()),
	"BuildNumber": z.Ptr(z.Int().Required().GTE(1)),
})

// EnqueueTrigger schedules one trigger of the task's job and returns without
// waiting for it. The outcome shows up later as a Build of the task.
func (b *BaseServer) EnqueueTrigger(ctx context.Context, taskID string, origin schemas.Origin, buildNumber *int) (tasky.TaskID, error) {
	req := TriggerRequest{TaskID: taskID, Origin: origin, BuildNumber: buildNumber}
	if errs := TriggerRequestSchema.Validate(&req); errs != nil {
		return "", fmt.Errorf("invalid trigger request: %s", z.Issues.FlattenAndCollect(errs))
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return b.TaskQueue.Enqueue(ctx, tasky.NewTask(JobTriggerBuild, data))
}

func (b *BaseServer) runTrigger(ctx context.Context, task *tasky.Task[Jobs]) error {
	logger := b.Logger.With(slog.String("queueTaskId", task.TaskID), slog.String("jobId", string(task.JobID)))

	req := TriggerRequest{}
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		logger.Error("Failed to unmarshal payload, dropping", slog.String("error", err.Error()))
		return nil
	}
	if errs := TriggerRequestSchema.Validate(&req); errs != nil {
		logger.Error("Invalid payload, dropping", slog.Any("issues", z.Issues.FlattenAndCollect(errs)))
		return nil
	}
	logger = logger.With(slog.String("taskId", req.TaskID), slog.String("origin", req.Origin.String()))

	t, err := b.DB.GetTask(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			logger.Warn("Task no longer exists, nothing to trigger")
			return nil
		}
		return fmt.Errorf("load task %s: %w", req.TaskID, err)
	}
	logger = logger.With(slog.String("job", t.JobName))

	build, err := b.resolveBuild(ctx, logger, task.TaskID, t, req)
	if err == nil {
		var created db.Build
		created, err = b.DB.CreateBuild(ctx, build)
		if err == nil {
			logger.Info("Recorded build",
				slog.Int64("buildId", created.ID),
				slog.Int64("number", created.BuildNumber),
				slog.String("status", created.Status.String()),
			)
			b.afterBuild(ctx, logger, t, created)
			b.forgetInvocation(ctx, logger, task.TaskID)
			if created.Status == schemas.BuildStatusRunning && req.Origin != schemas.OriginUpstreamCallback {
				b.scheduleTracking(ctx, logger, t, created)
			}
			return nil
		}
	}

	// The tracker and a Jenkins webhook can both report the same finished
	// build. Whichever lands second has nothing left to record.
	if errors.Is(err, db.ErrDuplicateBuild) && req.Origin == schemas.OriginUpstreamCallback {
		logger.Info("Build already recorded by an earlier callback")
		b.forgetInvocation(ctx, logger, task.TaskID)
		return nil
	}

	// Shutdown interrupted the remote calls. Leave the task to be redelivered
	// instead of recording a failure the build did not have.
	if ctx.Err() != nil {
		return fmt.Errorf("trigger %s interrupted: %w", t.JobName, err)
	}

	logger.Error("Trigger failed, recording error build", slog.String("error", err.Error()))
	errBuild, writeErr := b.DB.CreateBuild(ctx, errorBuild(t, err))
	if writeErr != nil {
		logger.Error("Failed to record error build", slog.String("error", writeErr.Error()))
		return fmt.Errorf("record error build for task %s: %w", t.ID, writeErr)
	}
	logger.Debug("Recorded error build", slog.Int64("buildId", errBuild.ID))
	b.forgetInvocation(ctx, logger, task.TaskID)
	return nil
}

// resolveBuild asks Jenkins for the build this trigger refers to and turns it
// into the row to insert.
func (b *BaseServer) resolveBuild(ctx context.Context, logger *slog.Logger, queueTaskID string, t db.Task, req TriggerRequest) (db.CreateBuildParams, error) {
	var handle *jenkins.BuildHandle
	var err error
	if req.Origin == schemas.OriginUpstreamCallback && req.BuildNumber != nil {
		handle, err = b.Jenkins.GetBuildInfo(ctx, t.JobName, int64(*req.BuildNumber))
	} else {
		var queueID int64
		queueID, err = b.invocation(ctx, logger, queueTaskID, t)
		if err == nil {
			jc := b.Config.Jenkins
			handle, err = b.Jenkins.AwaitBuild(ctx, t.JobName, queueID, jc.TimeoutDuration(), jc.PollIntervalDuration())
		}
	}
	if err != nil {
		return db.CreateBuildParams{}, err
	}

	params := handle.Parameters
	if len(params) == 0 {
		params = t.Parameters
	}
	build := db.CreateBuildParams{
		TaskID:      t.ID,
		JobName:     t.JobName,
		BuildNumber: handle.Number,
		URL:         handle.URL,
		Status:      handle.Status,
		StartTime:   handle.Timestamp,
		EndTime:     handle.EndTime(),
		Parameters:  params,
		Report:      handle.ReportURL,
		Artifacts:   handle.Artifacts,
	}
	if !handle.Building {
		build.Duration = handle.Duration
	}
	if !handle.Status.Terminal() {
		return build, nil
	}

	stages, err := b.Jenkins.GetPipelineStages(ctx, t.JobName, handle.Number)
	if err != nil {
		return db.CreateBuildParams{}, err
	}
	if build.Stages, err = json.Marshal(stages); err != nil {
		return db.CreateBuildParams{}, err
	}
	return build, nil
}

// invocation returns the Jenkins queue item of this trigger, starting the job
// unless an earlier delivery of the same queue task already did.
func (b *BaseServer) invocation(ctx context.Context, logger *slog.Logger, queueTaskID string, t db.Task) (int64, error) {
	inv, err := b.DB.GetInvocation(ctx, queueTaskID)
	switch {
	case err == nil && inv.TaskID == t.ID:
		logger.Info("Resuming trigger on existing queue item", slog.Int64("queueId", inv.JenkinsQueueID))
		return inv.JenkinsQueueID, nil
	case err != nil && !errors.Is(err, db.ErrInvocationNotFound):
		return 0, fmt.Errorf("load invocation: %w", err)
	}

	queueID, err := b.Jenkins.Invoke(ctx, t.JobName, t.Parameters)
	if err != nil {
		return 0, err
	}
	err = b.DB.SaveInvocation(ctx, db.Invocation{QueueTaskID: queueTaskID, TaskID: t.ID, JenkinsQueueID: queueID})
	if err != nil {
		logger.Warn("Failed to save queue item, a redelivery would start the job again",
			slog.Int64("queueId", queueID),
			slog.String("error", err.Error()),
		)
	}
	return queueID, nil
}

func (b *BaseServer) forgetInvocation(ctx context.Context, logger *slog.Logger, queueTaskID string) {
	if err := b.DB.DeleteInvocation(ctx, queueTaskID); err != nil {
		logger.Warn("Failed to delete queue item", slog.String("error", err.Error()))
	}
}

func (b *BaseServer) afterBuild(ctx context.Context, logger *slog.Logger, t db.Task, build db.Build) {
	_, err := b.DB.UpsertJob(ctx, db.UpsertJobParams{
		Name:            build.JobName,
		URL:             b.Jenkins.JobURL(build.JobName),
		LastBuildNumber: build.BuildNumber,
		LastBuildStatus: build.Status,
	})
	if err != nil {
		logger.Warn("Failed to update job", slog.String("error", err.Error()))
	}
	if err := b.DB.TouchTask(ctx, t.ID); err != nil {
		logger.Warn("Failed to touch task", slog.String("error", err.Error()))
	}
}

func errorBuild(t db.Task, cause error) db.CreateBuildParams {
	return db.CreateBuildParams{
		TaskID:      t.ID,
		JobName:     t.JobName,
		BuildNumber: schemas.NoBuildNumber,
		Status:      schemas.BuildStatusError,
		Parameters:  map[string]string{schemas.ErrorParameterKey: cause.Error()},
	}
}
