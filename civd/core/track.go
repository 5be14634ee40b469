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
	"github.com/civ-ci/civ/internals/schemas"
	"github.com/civ-ci/civ/internals/tasky"
)

// TrackRequest is the queue payload of JobTrackBuild.
type TrackRequest struct {
	TaskID      string `json:"taskId" zog:"taskId"`
	BuildNumber int    `json:"buildNumber" zog:"buildNumber"`
	// Deadline is when tracking gives up, in unix milliseconds.
	Deadline int64 `json:"deadline"`
}

var TrackRequestSchema = z.Struct(z.Shape{
	"TaskID":      z.String().Required().Trim(),
	"BuildNumber": z.Int().Required().GTE(1),
})

// scheduleTracking follows a build recorded as RUNNING until Jenkins reports
// it finished, so its final status gets recorded without a callback.
func (b *BaseServer) scheduleTracking(ctx context.Context, logger *slog.Logger, t db.Task, build db.Build) {
	jc := b.Config.Jenkins
	req := TrackRequest{
		TaskID:      t.ID,
		BuildNumber: int(build.BuildNumber),
		Deadline:    time.Now().Add(jc.TrackTimeoutDuration()).UnixMilli(),
	}
	if _, err := b.enqueueTrack(ctx, req, jc.TrackIntervalDuration()); err != nil {
		logger.Warn("Failed to schedule build tracking", slog.String("error", err.Error()))
	}
}

func (b *BaseServer) enqueueTrack(ctx context.Context, req TrackRequest, delay time.Duration) (tasky.TaskID, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	task := tasky.NewTask(JobTrackBuild, data)
	task.Delay = delay
	return b.TaskQueue.Enqueue(ctx, task)
}

// runTrack checks a RUNNING build once. A finished build is handed to the
// trigger job as a callback, which records it. A build still running is
// checked again after the track interval, until the deadline passes.
func (b *BaseServer) runTrack(ctx context.Context, task *tasky.Task[Jobs]) error {
	logger := b.Logger.With(slog.String("queueTaskId", task.TaskID), slog.String("jobId", string(task.JobID)))

	req := TrackRequest{}
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		logger.Error("Failed to unmarshal payload, dropping", slog.String("error", err.Error()))
		return nil
	}
	if errs := TrackRequestSchema.Validate(&req); errs != nil {
		logger.Error("Invalid payload, dropping", slog.Any("issues", z.Issues.FlattenAndCollect(errs)))
		return nil
	}
	number := int64(req.BuildNumber)
	logger = logger.With(slog.String("taskId", req.TaskID), slog.Int64("number", number))

	t, err := b.DB.GetTask(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			logger.Debug("Task no longer exists, stop tracking")
			return nil
		}
		return fmt.Errorf("load task %s: %w", req.TaskID, err)
	}
	logger = logger.With(slog.String("job", t.JobName))

	_, err = b.DB.GetFinishedBuild(ctx, t.JobName, number)
	switch {
	case err == nil:
		logger.Debug("Build already recorded as finished, stop tracking")
		return nil
	case !errors.Is(err, db.ErrBuildNotFound):
		return fmt.Errorf("load finished build: %w", err)
	}

	handle, err := b.Jenkins.GetBuildInfo(ctx, t.JobName, number)
	switch {
	case err != nil && ctx.Err() != nil:
		return err
	case err != nil:
		logger.Warn("Failed to check build", slog.String("error", err.Error()))
	case !handle.Building:
		logger.Info("Build finished", slog.String("status", handle.Status.String()))
		_, err := b.EnqueueTrigger(ctx, t.ID, schemas.OriginUpstreamCallback, &req.BuildNumber)
		return err
	}

	if time.Now().UnixMilli() >= req.Deadline {
		logger.Warn("Build still running at the tracking deadline, giving up")
		return nil
	}
	_, err = b.enqueueTrack(ctx, req, b.Config.Jenkins.TrackIntervalDuration())
	return err
}
