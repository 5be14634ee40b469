package server

import (
	"errors"
	"log/slog"
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/google/uuid"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/logbuf"
	"github.com/civ-ci/civ/internals/schemas"
)

// HandlerJenkinsCallback records a build Jenkins started on its own, for
// example from an upstream job, or reports that a known build finished.
// Without a task id the build joins the task that already holds a row for it,
// or a new upstream-callback task is created for the job. A build already
// recorded as finished is rejected with 409.
func (s *Server) HandlerJenkinsCallback(w http.ResponseWriter, r *http.Request) {
	var request schemas.CallbackRequest
	if err := decodeJSON(r, &request); err != nil {
		renderError(w, r, http.StatusBadRequest, JsonResponseErrorCodeInvalidJson, "Invalid JSON")
		return
	}
	if issues := schemas.CallbackSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}
	log := logbuf.FromContext(r.Context())
	log.Add(slog.Int("build_number", request.BuildNumber))
	number := int64(request.BuildNumber)

	_, err := s.Base.DB.GetFinishedBuild(r.Context(), request.JobName, number)
	switch {
	case err == nil:
		renderError(w, r, http.StatusConflict, JsonResponseErrorCodeConflict, "Build already recorded")
		return
	case !errors.Is(err, db.ErrBuildNotFound):
		log.Error("load build failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to load build")
		return
	}

	var task db.Task
	if request.TaskID != "" {
		task, err = s.Base.DB.GetTask(r.Context(), request.TaskID)
		switch {
		case errors.Is(err, db.ErrTaskNotFound):
			renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Task not found")
			return
		case err != nil:
			log.Error("load task failed", slog.String("error", err.Error()))
			renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to load task")
			return
		}
		if task.JobName != request.JobName {
			renderError(w, r, http.StatusBadRequest, JsonResponseErrorCodeValidationFailed, "Task belongs to another job")
			return
		}
	} else {
		task, err = s.callbackTask(r, request)
		if err != nil {
			log.Error("resolve callback task failed", slog.String("error", err.Error()))
			renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to create task")
			return
		}
	}

	// The build already exists, so the trigger only records it.
	buildNumber := request.BuildNumber
	s.enqueueAndRender(w, r, task, schemas.OriginUpstreamCallback, &buildNumber)
}

// callbackTask returns the task holding the RUNNING row of the build, or a
// new upstream-callback task when the daemon has not seen the build yet.
func (s *Server) callbackTask(r *http.Request, request schemas.CallbackRequest) (db.Task, error) {
	running, err := s.Base.DB.GetBuildByNumber(r.Context(), request.JobName, int64(request.BuildNumber))
	switch {
	case err == nil:
		return s.Base.DB.GetTask(r.Context(), running.TaskID)
	case !errors.Is(err, db.ErrBuildNotFound):
		return db.Task{}, err
	}
	return s.Base.DB.CreateTask(r.Context(), db.CreateTaskParams{
		ID:      uuid.NewString(),
		Title:   request.JobName,
		JobName: request.JobName,
		Origin:  schemas.OriginUpstreamCallback,
	})
}
