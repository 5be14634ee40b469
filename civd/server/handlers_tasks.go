package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/logbuf"
	"github.com/civ-ci/civ/internals/schemas"
)

func (s *Server) HandlerCreateTask(w http.ResponseWriter, r *http.Request) {
	var request schemas.TaskCreateRequest
	if err := decodeJSON(r, &request); err != nil {
		renderError(w, r, http.StatusBadRequest, JsonResponseErrorCodeInvalidJson, "Invalid JSON")
		return
	}
	if issues := schemas.TaskCreateSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}
	if request.Title == "" {
		request.Title = request.JobName
	}

	task, err := s.Base.DB.CreateTask(r.Context(), db.CreateTaskParams{
		ID:         uuid.NewString(),
		Title:      request.Title,
		JobName:    request.JobName,
		Parameters: request.Parameters,
		User:       request.User,
		Origin:     request.Origin,
	})
	if err != nil {
		logbuf.FromContext(r.Context()).Error("create task failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to create task")
		return
	}
	s.enqueueAndRender(w, r, task, task.Origin, nil)
}

func (s *Server) HandlerRetriggerTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	s.enqueueAndRender(w, r, task, schemas.OriginManual, nil)
}

// enqueueAndRender schedules a trigger of task and answers 202. The build
// itself is recorded later by the queue consumer.
func (s *Server) enqueueAndRender(w http.ResponseWriter, r *http.Request, task db.Task, origin schemas.Origin, buildNumber *int) {
	log := logbuf.FromContext(r.Context())
	log.Add(slog.String("task_id", task.ID), slog.String("job", task.JobName), slog.String("origin", origin.String()))

	queueID, err := s.Base.EnqueueTrigger(r.Context(), task.ID, origin, buildNumber)
	if err != nil {
		log.Error("enqueue trigger failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to enqueue trigger")
		return
	}
	log.Add(slog.String("queue_task_id", queueID))
	RenderJSON(w, r, schemas.TaskTriggerResponse{
		Task:        taskResponse(task),
		QueueTaskID: queueID,
	}, Render.Status(http.StatusAccepted))
}

func (s *Server) HandlerListTasks(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		renderError(w, r, http.StatusBadRequest, JsonResponseErrorCodeValidationFailed, "limit and offset must be non-negative integers")
		return
	}
	query := r.URL.Query()
	tasks, err := s.Base.DB.ListTasks(r.Context(), db.ListTasksParams{
		Title:  strings.TrimSpace(query.Get("title")),
		User:   strings.TrimSpace(query.Get("user")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		logbuf.FromContext(r.Context()).Error("list tasks failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to list tasks")
		return
	}
	response := schemas.TaskListResponse{Tasks: make([]schemas.TaskResponse, 0, len(tasks))}
	for _, task := range tasks {
		response.Tasks = append(response.Tasks, taskResponse(task))
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	builds, err := s.Base.DB.ListBuildsByTask(r.Context(), task.ID)
	if err != nil {
		logbuf.FromContext(r.Context()).Error("list task builds failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to load builds")
		return
	}
	response := taskResponse(task)
	response.Builds = buildResponses(builds)
	RenderJSON(w, r, response)
}

func (s *Server) HandlerUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	var request schemas.TaskUpdateRequest
	if err := decodeJSON(r, &request); err != nil {
		renderError(w, r, http.StatusBadRequest, JsonResponseErrorCodeInvalidJson, "Invalid JSON")
		return
	}
	if issues := schemas.TaskUpdateSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}

	params := db.UpdateTaskParams{
		ID:         task.ID,
		Title:      task.Title,
		JobName:    task.JobName,
		Parameters: task.Parameters,
	}
	if request.Title != nil {
		params.Title = *request.Title
	}
	if request.JobName != nil {
		params.JobName = *request.JobName
	}
	if request.Parameters != nil {
		params.Parameters = request.Parameters
	}

	updated, err := s.Base.DB.UpdateTask(r.Context(), params)
	switch {
	case errors.Is(err, db.ErrImmutableTask):
		renderError(w, r, http.StatusConflict, JsonResponseErrorCodeConflict, "Job name and parameters of a task cannot change")
		return
	case errors.Is(err, db.ErrTaskNotFound):
		renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Task not found")
		return
	case err != nil:
		logbuf.FromContext(r.Context()).Error("update task failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to update task")
		return
	}
	RenderJSON(w, r, taskResponse(updated))
}

func (s *Server) HandlerDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	err := s.Base.DB.DeleteTask(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrTaskNotFound):
		renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Task not found")
		return
	case err != nil:
		logbuf.FromContext(r.Context()).Error("delete task failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to delete task")
		return
	}
	logbuf.FromContext(r.Context()).Add(slog.String("task_id", id))
	RenderJSON(w, r, schemas.TaskDeleteResponse{ID: id})
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (db.Task, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	task, err := s.Base.DB.GetTask(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrTaskNotFound):
		renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Task not found")
		return db.Task{}, false
	case err != nil:
		logbuf.FromContext(r.Context()).Error("load task failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to load task")
		return db.Task{}, false
	}
	return task, true
}
