package core

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/conf"
	"github.com/civ-ci/civ/internals/env"
	"github.com/civ-ci/civ/internals/jenkins"
	"github.com/civ-ci/civ/internals/schemas"
	"github.com/civ-ci/civ/internals/tasky"
	"github.com/civ-ci/civ/internals/testutil"
)

type triggerCall struct {
	jobName string
	params  map[string]string
}

type awaitCall struct {
	queueID      int64
	timeout      time.Duration
	pollInterval time.Duration
}

type stubJenkins struct {
	mu         sync.Mutex
	triggers   []triggerCall
	awaits     []awaitCall
	infoCalls  []int64
	stageCalls int
	trigger    func(ctx context.Context, jobName string) (*jenkins.BuildHandle, error)
	buildInfo  func(ctx context.Context, jobName string, number int64) (*jenkins.BuildHandle, error)
	stages     func(ctx context.Context, jobName string, number int64) ([]jenkins.Stage, error)
	stageLog   func(ctx context.Context, stage jenkins.Stage) (string, error)
}

// Invoke hands out queue ids 100, 101, ... in call order.
func (s *stubJenkins) Invoke(ctx context.Context, jobName string, params map[string]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, triggerCall{jobName: jobName, params: params})
	return int64(99 + len(s.triggers)), nil
}

func (s *stubJenkins) AwaitBuild(ctx context.Context, jobName string, queueID int64, timeout, pollInterval time.Duration) (*jenkins.BuildHandle, error) {
	s.mu.Lock()
	s.awaits = append(s.awaits, awaitCall{queueID: queueID, timeout: timeout, pollInterval: pollInterval})
	s.mu.Unlock()
	return s.trigger(ctx, jobName)
}

func (s *stubJenkins) GetBuildInfo(ctx context.Context, jobName string, number int64) (*jenkins.BuildHandle, error) {
	s.mu.Lock()
	s.infoCalls = append(s.infoCalls, number)
	s.mu.Unlock()
	return s.buildInfo(ctx, jobName, number)
}

func (s *stubJenkins) GetPipelineStages(ctx context.Context, jobName string, number int64) ([]jenkins.Stage, error) {
	s.mu.Lock()
	s.stageCalls++
	s.mu.Unlock()
	if s.stages == nil {
		return []jenkins.Stage{}, nil
	}
	return s.stages(ctx, jobName, number)
}

func (s *stubJenkins) GetStageLog(ctx context.Context, stage jenkins.Stage) (string, error) {
	if s.stageLog == nil {
		return "", jenkins.ErrNoLogAvailable
	}
	return s.stageLog(ctx, stage)
}

func (s *stubJenkins) JobURL(jobName string) string {
	return "http://jenkins/job/" + jobName + "/"
}

func (s *stubJenkins) triggerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

func (s *stubJenkins) awaitCalls() []awaitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]awaitCall(nil), s.awaits...)
}

func runningHandle(jobName string, number int64) *jenkins.BuildHandle {
	handle := successHandle(jobName, number)
	handle.Building = true
	handle.Result = ""
	handle.Status = schemas.BuildStatusRunning
	handle.Duration = 0
	return handle
}

func successHandle(jobName string, number int64) *jenkins.BuildHandle {
	return &jenkins.BuildHandle{
		JobName:    jobName,
		Number:     number,
		URL:        "http://jenkins/job/" + jobName + "/42/",
		Result:     "SUCCESS",
		Status:     schemas.BuildStatusSuccess,
		Timestamp:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Duration:   65 * time.Second,
		Parameters: map[string]string{"branch": "main"},
	}
}

func testConfig(t *testing.T, dataDir string) *conf.Config {
	t.Helper()
	config, err := conf.Parse(map[string]any{
		"jenkins": map[string]any{"poll_interval": "10ms", "timeout": "50ms", "track_interval": "10ms"},
		"queue":   map[string]any{"workers": 2, "poll_interval": "10ms", "retry_max": 0},
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	config.Server.DataDir = dataDir
	return config
}

func setupTestBase(t *testing.T, client JenkinsClient) *BaseServer {
	t.Helper()
	return setupTestBaseWith(t, client, nil)
}

func setupTestBaseWith(t *testing.T, client JenkinsClient, configure func(*conf.Config)) *BaseServer {
	t.Helper()

	dataDir := t.TempDir()
	conn, err := db.Open(context.Background(), filepath.Join(dataDir, "db", "civ.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	config := testConfig(t, dataDir)
	if configure != nil {
		configure(config)
	}
	base := &BaseServer{
		Config:  config,
		Env:     &env.EnvStruct{},
		Logger:  testutil.Logger(),
		Conn:    conn,
		DB:      db.New(conn),
		Jenkins: client,
	}
	if _, err := NewQueue(base); err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	t.Cleanup(func() { _ = base.QueueBackend.Close() })
	return base
}

func createTestTask(t *testing.T, base *BaseServer, id, jobName string, params map[string]string) db.Task {
	t.Helper()
	task, err := base.DB.CreateTask(context.Background(), db.CreateTaskParams{
		ID:         id,
		Title:      "run " + jobName,
		JobName:    jobName,
		Parameters: params,
		Origin:     schemas.OriginAPI,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func queueTask(t *testing.T, req TriggerRequest) *tasky.Task[Jobs] {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &tasky.Task[Jobs]{JobID: JobTriggerBuild, TaskID: "q-1", Payload: data}
}

func buildsOf(t *testing.T, base *BaseServer, taskID string) []db.Build {
	t.Helper()
	builds, err := base.DB.ListBuildsByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	return builds
}

// nextQueued takes the next task off the queue, failing the test if none
// shows up within a second.
func nextQueued(t *testing.T, base *BaseServer) (Jobs, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	jobID, taskID, payload, err := base.QueueBackend.Dequeue(ctx)
	if err != nil {
		t.Fatalf("expected a queued task: %v", err)
	}
	if err := base.QueueBackend.Ack(context.Background(), taskID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	return jobID, payload
}

func assertQueueEmpty(t *testing.T, base *BaseServer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if jobID, _, payload, err := base.QueueBackend.Dequeue(ctx); err == nil {
		t.Fatalf("expected an empty queue, got %s %s", jobID, payload)
	}
}
