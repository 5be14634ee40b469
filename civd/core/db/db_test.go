package db

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/civ-ci/civ/internals/schemas"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestQueries(t *testing.T) *Queries {
	t.Helper()
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "civ.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	clock := &stepClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	return New(conn).WithClock(clock.Now)
}

func mustCreateTask(t *testing.T, q *Queries, id, jobName string, params map[string]string) Task {
	t.Helper()
	task, err := q.CreateTask(context.Background(), CreateTaskParams{
		ID:         id,
		Title:      "run " + jobName,
		JobName:    jobName,
		Parameters: params,
		User:       "alice",
		Origin:     schemas.OriginAPI,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func mustCreateBuild(t *testing.T, q *Queries, arg CreateBuildParams) Build {
	t.Helper()
	build, err := q.CreateBuild(context.Background(), arg)
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	return build
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "civ.db")
	for i := 0; i < 2; i++ {
		conn, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		_ = conn.Close()
	}
}

func TestCreateAndGetTask(t *testing.T) {
	q := newTestQueries(t)
	created := mustCreateTask(t, q, "t1", "smoke-test", map[string]string{"branch": "main"})

	got, err := q.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.JobName != "smoke-test" || got.Parameters["branch"] != "main" || got.Origin != schemas.OriginAPI {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.User != "alice" || got.Title != "run smoke-test" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected created at %s", got.CreatedAt)
	}

	if _, err := q.GetTask(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCreateTaskRejectsUnknownOrigin(t *testing.T) {
	q := newTestQueries(t)
	_, err := q.CreateTask(context.Background(), CreateTaskParams{ID: "t1", JobName: "smoke-test", Origin: "cron"})
	if err == nil {
		t.Fatal("expected check constraint to reject origin")
	}
}

func TestTaskJobNameAndParametersAreWriteOnce(t *testing.T) {
	q := newTestQueries(t)
	task := mustCreateTask(t, q, "t1", "smoke-test", map[string]string{"branch": "main"})

	updated, err := q.UpdateTask(context.Background(), UpdateTaskParams{
		ID:         task.ID,
		Title:      "renamed",
		JobName:    task.JobName,
		Parameters: task.Parameters,
	})
	if err != nil {
		t.Fatalf("title update: %v", err)
	}
	if updated.Title != "renamed" || !updated.UpdatedAt.After(task.UpdatedAt) {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	_, err = q.UpdateTask(context.Background(), UpdateTaskParams{
		ID:         task.ID,
		Title:      "renamed",
		JobName:    "other-job",
		Parameters: task.Parameters,
	})
	if !errors.Is(err, ErrImmutableTask) {
		t.Fatalf("expected ErrImmutableTask for job name, got %v", err)
	}

	_, err = q.UpdateTask(context.Background(), UpdateTaskParams{
		ID:         task.ID,
		Title:      "renamed",
		JobName:    task.JobName,
		Parameters: map[string]string{"branch": "dev"},
	})
	if !errors.Is(err, ErrImmutableTask) {
		t.Fatalf("expected ErrImmutableTask for parameters, got %v", err)
	}

	_, err = q.UpdateTask(context.Background(), UpdateTaskParams{ID: "missing", JobName: "x"})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestTouchTask(t *testing.T) {
	q := newTestQueries(t)
	task := mustCreateTask(t, q, "t1", "smoke-test", nil)

	if err := q.TouchTask(context.Background(), task.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := q.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !got.UpdatedAt.After(task.UpdatedAt) {
		t.Fatalf("expected updated_at to move forward")
	}
	if err := q.TouchTask(context.Background(), "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestListTasksNewestFirstAndFilters(t *testing.T) {
	q := newTestQueries(t)
	mustCreateTask(t, q, "t1", "smoke-test", nil)
	mustCreateTask(t, q, "t2", "deploy", nil)
	_, err := q.CreateTask(context.Background(), CreateTaskParams{
		ID: "t3", Title: "100% nightly", JobName: "nightly", User: "bob", Origin: schemas.OriginManual,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	tasks, err := q.ListTasks(context.Background(), ListTasksParams{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 3 || tasks[0].ID != "t3" || tasks[2].ID != "t1" {
		t.Fatalf("expected newest first, got %v", taskIDs(tasks))
	}

	tasks, err = q.ListTasks(context.Background(), ListTasksParams{User: "alice"})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks for alice, got %v", taskIDs(tasks))
	}

	tasks, err = q.ListTasks(context.Background(), ListTasksParams{Title: "100%"})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t3" {
		t.Fatalf("expected literal percent match, got %v", taskIDs(tasks))
	}

	tasks, err = q.ListTasks(context.Background(), ListTasksParams{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t2" {
		t.Fatalf("expected second task page, got %v", taskIDs(tasks))
	}
}

func TestCreateBuildRoundTrip(t *testing.T) {
	q := newTestQueries(t)
	mustCreateTask(t, q, "t1", "smoke-test", map[string]string{"branch": "main"})

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	stages := json.RawMessage(`[{"id":"6","displayName":"Checkout"}]`)
	build := mustCreateBuild(t, q, CreateBuildParams{
		TaskID:      "t1",
		JobName:     "smoke-test",
		BuildNumber: 42,
		URL:         "http://jenkins/job/smoke-test/42/",
		Status:      schemas.BuildStatusSuccess,
		StartTime:   start,
		EndTime:     start.Add(65 * time.Second),
		Duration:    65 * time.Second,
		Parameters:  map[string]string{"branch": "main"},
		Stages:      stages,
		Report:      "http://jenkins/job/smoke-test/42/allure/",
		Artifacts:   []string{"http://jenkins/job/smoke-test/42/artifact/out/report.xml"},
	})

	got, err := q.GetBuild(context.Background(), build.ID)
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if got.BuildNumber != 42 || got.Status != schemas.BuildStatusSuccess || got.Parameters["branch"] != "main" {
		t.Fatalf("unexpected build: %+v", got)
	}
	if !got.StartTime.Equal(start) || got.Duration != 65*time.Second {
		t.Fatalf("unexpected timing: %s %s", got.StartTime, got.Duration)
	}
	if string(got.Stages) != string(stages) {
		t.Fatalf("unexpected stages %s", got.Stages)
	}
	if len(got.Artifacts) != 1 {
		t.Fatalf("unexpected artifacts %v", got.Artifacts)
	}

	byNumber, err := q.GetBuildByNumber(context.Background(), "smoke-test", 42)
	if err != nil || byNumber.ID != build.ID {
		t.Fatalf("get by number: %v %+v", err, byNumber)
	}
	if _, err := q.GetBuild(context.Background(), 999); !errors.Is(err, ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}

func TestCreateBuildDefaultsForErrorBuild(t *testing.T) {
	q := newTestQueries(t)
	mustCreateTask(t, q, "t1", "smoke-test", nil)

	build := mustCreateBuild(t, q, CreateBuildParams{
		TaskID:      "t1",
		JobName:     "smoke-test",
		BuildNumber: schemas.NoBuildNumber,
		Status:      schemas.BuildStatusError,
		Parameters:  map[string]string{schemas.ErrorParameterKey: "boom"},
	})
	if string(build.Stages) != "[]" || len(build.Artifacts) != 0 || !build.StartTime.IsZero() {
		t.Fatalf("unexpected defaults: %+v", build)
	}
}

func TestDuplicateBuildRejected(t *testing.T) {
	q := newTestQueries(t)
	mustCreateTask(t, q, "t1", "smoke-test", nil)
	mustCreateTask(t, q, "t2", "smoke-test", nil)

	arg := CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 42, Status: schemas.BuildStatusSuccess}
	mustCreateBuild(t, q, arg)

	arg.TaskID = "t2"
	if _, err := q.CreateBuild(context.Background(), arg); !errors.Is(err, ErrDuplicateBuild) {
		t.Fatalf("expected ErrDuplicateBuild, got %v", err)
	}

	other := CreateBuildParams{TaskID: "t1", JobName: "deploy", BuildNumber: 42, Status: schemas.BuildStatusSuccess}
	mustCreateBuild(t, q, other)

	for i := 0; i < 2; i++ {
		mustCreateBuild(t, q, CreateBuildParams{
			TaskID: "t1", JobName: "smoke-test", BuildNumber: schemas.NoBuildNumber, Status: schemas.BuildStatusError,
		})
	}

	builds, err := q.ListBuildsByTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(builds) != 4 {
		t.Fatalf("expected 4 builds for t1, got %d", len(builds))
	}
	for i := 1; i < len(builds); i++ {
		if builds[i].ID <= builds[i-1].ID {
			t.Fatalf("expected builds in insertion order")
		}
	}
}

func TestRunningAndFinishedBuildCoexist(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	mustCreateTask(t, q, "t1", "smoke-test", nil)

	running := mustCreateBuild(t, q, CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 42, Status: schemas.BuildStatusRunning})
	if _, err := q.GetFinishedBuild(ctx, "smoke-test", 42); !errors.Is(err, ErrBuildNotFound) {
		t.Fatalf("expected no finished build yet, got %v", err)
	}

	finished := mustCreateBuild(t, q, CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 42, Status: schemas.BuildStatusSuccess})
	got, err := q.GetFinishedBuild(ctx, "smoke-test", 42)
	if err != nil {
		t.Fatalf("get finished build: %v", err)
	}
	if got.ID != finished.ID || got.Status != schemas.BuildStatusSuccess {
		t.Fatalf("unexpected finished build %+v", got)
	}
	first, err := q.GetBuildByNumber(ctx, "smoke-test", 42)
	if err != nil {
		t.Fatalf("get build by number: %v", err)
	}
	if first.ID != running.ID {
		t.Fatalf("expected the running row first, got %+v", first)
	}

	_, err = q.CreateBuild(ctx, CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 42, Status: schemas.BuildStatusFailure})
	if !errors.Is(err, ErrDuplicateBuild) {
		t.Fatalf("expected a second finished row to be rejected, got %v", err)
	}

	successes, err := q.ListBuilds(ctx, ListBuildsParams{Outcome: OutcomeSuccess})
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(successes) != 1 || successes[0].ID != finished.ID {
		t.Fatalf("expected the finished row to match the success filter, got %+v", successes)
	}
}

func TestInvocations(t *testing.T) {
	q := newTestQueries(t)
	ctx := context.Background()
	mustCreateTask(t, q, "t1", "smoke-test", nil)

	if _, err := q.GetInvocation(ctx, "q-1"); !errors.Is(err, ErrInvocationNotFound) {
		t.Fatalf("expected ErrInvocationNotFound, got %v", err)
	}
	if err := q.SaveInvocation(ctx, Invocation{QueueTaskID: "q-1", TaskID: "t1", JenkinsQueueID: 7}); err != nil {
		t.Fatalf("save invocation: %v", err)
	}
	inv, err := q.GetInvocation(ctx, "q-1")
	if err != nil {
		t.Fatalf("get invocation: %v", err)
	}
	if inv.TaskID != "t1" || inv.JenkinsQueueID != 7 {
		t.Fatalf("unexpected invocation %+v", inv)
	}
	if err := q.SaveInvocation(ctx, Invocation{QueueTaskID: "q-1", TaskID: "t1", JenkinsQueueID: 8}); err != nil {
		t.Fatalf("save invocation again: %v", err)
	}
	if inv, _ := q.GetInvocation(ctx, "q-1"); inv.JenkinsQueueID != 8 {
		t.Fatalf("expected the newer queue item, got %+v", inv)
	}

	if err := q.SaveInvocation(ctx, Invocation{QueueTaskID: "q-2", TaskID: "ghost", JenkinsQueueID: 9}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for an unknown task, got %v", err)
	}

	if err := q.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := q.GetInvocation(ctx, "q-1"); !errors.Is(err, ErrInvocationNotFound) {
		t.Fatalf("expected invocation to go with its task, got %v", err)
	}
}

func TestBuildsAreAppendOnly(t *testing.T) {
	q := newTestQueries(t)
	mustCreateTask(t, q, "t1", "smoke-test", nil)
	build := mustCreateBuild(t, q, CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 1, Status: schemas.BuildStatusRunning})

	if _, err := q.db.ExecContext(context.Background(), `UPDATE builds SET status = 'SUCCESS' WHERE id = ?`, build.ID); err == nil {
		t.Fatal("expected update of a build to be rejected")
	}
}

func TestCreateBuildForUnknownTask(t *testing.T) {
	q := newTestQueries(t)
	_, err := q.CreateBuild(context.Background(), CreateBuildParams{TaskID: "ghost", JobName: "smoke-test", BuildNumber: 1, Status: schemas.BuildStatusSuccess})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	q := newTestQueries(t)
	mustCreateTask(t, q, "t1", "smoke-test", nil)
	build := mustCreateBuild(t, q, CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 1, Status: schemas.BuildStatusSuccess})

	if err := q.DeleteTask(context.Background(), "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := q.GetBuild(context.Background(), build.ID); !errors.Is(err, ErrBuildNotFound) {
		t.Fatalf("expected build to be deleted with its task, got %v", err)
	}
	if err := q.DeleteTask(context.Background(), "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestListBuildsFilters(t *testing.T) {
	q := newTestQueries(t)
	mustCreateTask(t, q, "t1", "smoke-test", nil)
	mustCreateTask(t, q, "t2", "deploy", nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mustCreateBuild(t, q, CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 1, Status: schemas.BuildStatusSuccess,
		StartTime: base, Parameters: map[string]string{"branch": "main"}})
	mustCreateBuild(t, q, CreateBuildParams{TaskID: "t1", JobName: "smoke-test", BuildNumber: 2, Status: schemas.BuildStatusFailure,
		StartTime: base.Add(time.Hour), Parameters: map[string]string{"branch": "dev"}})
	mustCreateBuild(t, q, CreateBuildParams{TaskID: "t2", JobName: "deploy", BuildNumber: 7, Status: schemas.BuildStatusRunning,
		StartTime: base.Add(2 * time.Hour), Parameters: map[string]string{"branch": "main"}})
	mustCreateBuild(t, q, CreateBuildParams{TaskID: "t2", JobName: "deploy", BuildNumber: schemas.NoBuildNumber, Status: schemas.BuildStatusError})

	all, err := q.ListBuilds(context.Background(), ListBuildsParams{})
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	// The ERROR build has no start time and sorts by its creation time in 2024-01-01 10:00+.
	if got := buildNumbers(all); len(got) != 4 || got[0] != -1 || got[1] != 7 || got[3] != 1 {
		t.Fatalf("unexpected order: %v", got)
	}

	cases := []struct {
		name string
		arg  ListBuildsParams
		want []int64
	}{
		{"job", ListBuildsParams{JobName: "smoke-test"}, []int64{2, 1}},
		{"status", ListBuildsParams{Status: schemas.BuildStatusRunning}, []int64{7}},
		{"success", ListBuildsParams{Outcome: OutcomeSuccess}, []int64{1}},
		{"failure", ListBuildsParams{Outcome: OutcomeFailure}, []int64{-1, 2}},
		{"branch", ListBuildsParams{Branch: "main"}, []int64{7, 1}},
		{"since", ListBuildsParams{JobName: "smoke-test", Since: base.Add(30 * time.Minute)}, []int64{2}},
		{"limit", ListBuildsParams{Limit: 1, Offset: 1}, []int64{7}},
	}
	for _, tc := range cases {
		builds, err := q.ListBuilds(context.Background(), tc.arg)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		got := buildNumbers(builds)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
			}
		}
	}

	latest, err := q.LatestBuildByJob(context.Background(), "smoke-test")
	if err != nil || latest.BuildNumber != 2 {
		t.Fatalf("expected latest smoke-test build 2, got %v %+v", err, latest)
	}
	if _, err := q.LatestBuildByJob(context.Background(), "nothing"); !errors.Is(err, ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}

func TestUpsertJobKeepsNewestBuild(t *testing.T) {
	q := newTestQueries(t)

	job, err := q.UpsertJob(context.Background(), UpsertJobParams{
		Name: "smoke-test", URL: "http://jenkins/job/smoke-test/", LastBuildNumber: 42, LastBuildStatus: schemas.BuildStatusSuccess,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if job.LastBuildNumber != 42 || job.URL == "" {
		t.Fatalf("unexpected job: %+v", job)
	}

	job, err = q.UpsertJob(context.Background(), UpsertJobParams{
		Name: "smoke-test", LastBuildNumber: 41, LastBuildStatus: schemas.BuildStatusFailure,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if job.LastBuildNumber != 42 || job.LastBuildStatus != schemas.BuildStatusSuccess {
		t.Fatalf("older build must not replace newer one: %+v", job)
	}
	if job.URL != "http://jenkins/job/smoke-test/" {
		t.Fatalf("empty url must not clear stored url: %q", job.URL)
	}

	job, err = q.UpsertJob(context.Background(), UpsertJobParams{
		Name: "smoke-test", LastBuildNumber: 43, LastBuildStatus: schemas.BuildStatusRunning,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if job.LastBuildNumber != 43 || job.LastBuildStatus != schemas.BuildStatusRunning {
		t.Fatalf("expected newer build to win: %+v", job)
	}

	if _, err := q.UpsertJob(context.Background(), UpsertJobParams{Name: "deploy", LastBuildNumber: 1}); err != nil {
		t.Fatalf("upsert deploy: %v", err)
	}
	jobs, err := q.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Name != "deploy" {
		t.Fatalf("expected jobs sorted by name, got %+v", jobs)
	}
	if _, err := q.GetJob(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func buildNumbers(builds []Build) []int64 {
	numbers := make([]int64, len(builds))
	for i, build := range builds {
		numbers[i] = build.BuildNumber
	}
	return numbers
}
