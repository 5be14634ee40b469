package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/schemas"
)

func TestHandlerVersion(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})
	recorder := doJSON(t, s.Router(), http.MethodGet, "/version", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder.Body.String() != s.Base.Config.Version {
		t.Fatalf("expected version %q, got %q", s.Base.Config.Version, recorder.Body.String())
	}
}

func TestCreateTaskEnqueuesTrigger(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})
	recorder := doJSON(t, s.Router(), http.MethodPost, "/tasks", schemas.TaskCreateRequest{
		JobName:    " team/deploy ",
		Parameters: map[string]string{"branch": "main"},
		User:       "alice",
	})
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	response := decodeBody[schemas.TaskTriggerResponse](t, recorder)
	if response.Task.JobName != "team/deploy" || response.Task.Title != "team/deploy" {
		t.Fatalf("unexpected task %+v", response.Task)
	}
	if response.Task.Origin != schemas.OriginAPI {
		t.Fatalf("expected default origin api, got %q", response.Task.Origin)
	}
	if !strings.HasPrefix(response.QueueTaskID, "trigger_jenkins_job-") {
		t.Fatalf("unexpected queue task id %q", response.QueueTaskID)
	}

	stored, err := s.Base.DB.GetTask(context.Background(), response.Task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.Parameters["branch"] != "main" {
		t.Fatalf("expected parameters to be stored, got %v", stored.Parameters)
	}
	if got := pendingTriggers(t, s); got != 1 {
		t.Fatalf("expected one pending trigger, got %d", got)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})

	recorder := doJSON(t, s.Router(), http.MethodPost, "/tasks", "{not json")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", recorder.Code)
	}
	if body := decodeBody[ErrorResponse](t, recorder); body.Code != JsonResponseErrorCodeInvalidJson {
		t.Fatalf("expected invalid_json, got %q", body.Code)
	}

	recorder = doJSON(t, s.Router(), http.MethodPost, "/tasks", schemas.TaskCreateRequest{JobName: "a//b"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad job name, got %d", recorder.Code)
	}
	body := decodeBody[ErrorResponse](t, recorder)
	if body.Code != JsonResponseErrorCodeValidationFailed || len(body.Errors) == 0 {
		t.Fatalf("expected validation errors, got %+v", body)
	}
	if got := pendingTriggers(t, s); got != 0 {
		t.Fatalf("expected nothing enqueued, got %d", got)
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})
	seedTask(t, s, "t-1", "smoke-test", nil)
	seedTask(t, s, "t-2", "deploy", nil)

	recorder := doJSON(t, s.Router(), http.MethodGet, "/tasks?title=deploy", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	response := decodeBody[schemas.TaskListResponse](t, recorder)
	if len(response.Tasks) != 1 || response.Tasks[0].ID != "t-2" {
		t.Fatalf("expected only t-2, got %+v", response.Tasks)
	}

	recorder = doJSON(t, s.Router(), http.MethodGet, "/tasks?limit=-1", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", recorder.Code)
	}
}

func TestGetTaskIncludesBuilds(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})
	seedTask(t, s, "t-1", "smoke-test", nil)
	seedBuild(t, s, db.CreateBuildParams{
		TaskID:      "t-1",
		JobName:     "smoke-test",
		BuildNumber: 42,
		Status:      schemas.BuildStatusSuccess,
		StartTime:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	})

	recorder := doJSON(t, s.Router(), http.MethodGet, "/tasks/t-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	response := decodeBody[schemas.TaskResponse](t, recorder)
	if len(response.Builds) != 1 || response.Builds[0].BuildNumber != 42 {
		t.Fatalf("expected build 42, got %+v", response.Builds)
	}
	if response.Builds[0].StartTime != "2024-01-01T10:00:00Z" {
		t.Fatalf("unexpected start time %q", response.Builds[0].StartTime)
	}

	recorder = doJSON(t, s.Router(), http.MethodGet, "/tasks/missing", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestUpdateTask(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})
	seedTask(t, s, "t-1", "smoke-test", map[string]string{"branch": "main"})

	recorder := doJSON(t, s.Router(), http.MethodPatch, "/tasks/t-1", map[string]any{"title": " nightly "})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if response := decodeBody[schemas.TaskResponse](t, recorder); response.Title != "nightly" {
		t.Fatalf("expected renamed task, got %q", response.Title)
	}

	recorder = doJSON(t, s.Router(), http.MethodPatch, "/tasks/t-1", map[string]any{"jobName": "deploy"})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for job change, got %d", recorder.Code)
	}

	recorder = doJSON(t, s.Router(), http.MethodPatch, "/tasks/t-1", map[string]any{"parameters": map[string]string{"branch": "dev"}})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for parameter change, got %d", recorder.Code)
	}

	recorder = doJSON(t, s.Router(), http.MethodPatch, "/tasks/t-1", map[string]any{"parameters": map[string]string{"branch": "main"}})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected unchanged parameters to be accepted, got %d", recorder.Code)
	}

	recorder = doJSON(t, s.Router(), http.MethodPatch, "/tasks/missing", map[string]any{"title": "x"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestDeleteTaskRemovesBuilds(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})
	seedTask(t, s, "t-1", "smoke-test", nil)
	build := seedBuild(t, s, db.CreateBuildParams{TaskID: "t-1", JobName: "smoke-test", BuildNumber: 1, Status: schemas.BuildStatusSuccess})

	recorder := doJSON(t, s.Router(), http.MethodDelete, "/tasks/t-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if response := decodeBody[schemas.TaskDeleteResponse](t, recorder); response.ID != "t-1" {
		t.Fatalf("unexpected delete response %+v", response)
	}
	if _, err := s.Base.DB.GetBuild(context.Background(), build.ID); err != db.ErrBuildNotFound {
		t.Fatalf("expected build to be deleted with its task, got %v", err)
	}

	recorder = doJSON(t, s.Router(), http.MethodDelete, "/tasks/t-1", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", recorder.Code)
	}
}

func TestRetriggerTask(t *testing.T) {
	s := newTestServer(t, &fakeJenkins{})
	seedTask(t, s, "t-1", "smoke-test", nil)

	for i := 0; i < 2; i++ {
		recorder := doJSON(t, s.Router(), http.MethodPost, "/tasks/t-1/retrigger", nil)
		if recorder.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", recorder.Code)
		}
	}
	if got := pendingTriggers(t, s); got != 2 {
		t.Fatalf("expected two pending triggers, got %d", got)
	}

	recorder := doJSON(t, s.Router(), http.MethodPost, "/tasks/missing/retrigger", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}
