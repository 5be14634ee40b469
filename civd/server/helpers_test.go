package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/civ-ci/civ/civd/core"
	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/conf"
	"github.com/civ-ci/civ/internals/env"
	"github.com/civ-ci/civ/internals/jenkins"
	"github.com/civ-ci/civ/internals/schemas"
	"github.com/civ-ci/civ/internals/testutil"
)

// fakeJenkins serves stages and logs. Triggers never happen in these tests
// because no consumer runs unless a test starts one.
type fakeJenkins struct {
	mu         sync.Mutex
	stageCalls int
	stages     []jenkins.Stage
	stagesErr  error
	logs       map[string]string
}

func (f *fakeJenkins) Invoke(ctx context.Context, jobName string, params map[string]string) (int64, error) {
	return 0, jenkins.ErrRemoteQueryFailed
}

func (f *fakeJenkins) AwaitBuild(ctx context.Context, jobName string, queueID int64, timeout, pollInterval time.Duration) (*jenkins.BuildHandle, error) {
	return nil, jenkins.ErrTimeout
}

func (f *fakeJenkins) GetBuildInfo(ctx context.Context, jobName string, number int64) (*jenkins.BuildHandle, error) {
	return nil, jenkins.ErrRemoteQueryFailed
}

func (f *fakeJenkins) GetPipelineStages(ctx context.Context, jobName string, number int64) ([]jenkins.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stageCalls++
	if f.stagesErr != nil {
		return nil, f.stagesErr
	}
	return f.stages, nil
}

func (f *fakeJenkins) GetStageLog(ctx context.Context, stage jenkins.Stage) (string, error) {
	text, ok := f.logs[stage.ID]
	if !ok {
		return "", jenkins.ErrNoLogAvailable
	}
	return text, nil
}

func (f *fakeJenkins) JobURL(jobName string) string {
	return "http://jenkins/job/" + jobName + "/"
}

func (f *fakeJenkins) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stageCalls
}

func newTestServer(t *testing.T, client core.JenkinsClient) *Server {
	t.Helper()

	dataDir := t.TempDir()
	conn, err := db.Open(context.Background(), filepath.Join(dataDir, "db", "civ.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	config, err := conf.Parse(map[string]any{
		"server": map[string]any{"listen_addr": "127.0.0.1:0"},
		"queue":  map[string]any{"workers": 1, "poll_interval": "10ms", "retry_max": 0},
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	config.Server.DataDir = dataDir

	base := &core.BaseServer{
		Config:  config,
		Env:     &env.EnvStruct{},
		Logger:  testutil.Logger(),
		Conn:    conn,
		DB:      db.New(conn),
		Jenkins: client,
	}
	if _, err := core.NewQueue(base); err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	t.Cleanup(func() { _ = base.QueueBackend.Close() })

	server, err := NewWithBase(base)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
	return out
}

func seedTask(t *testing.T, s *Server, id, jobName string, params map[string]string) db.Task {
	t.Helper()
	task, err := s.Base.DB.CreateTask(context.Background(), db.CreateTaskParams{
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

func seedBuild(t *testing.T, s *Server, arg db.CreateBuildParams) db.Build {
	t.Helper()
	build, err := s.Base.DB.CreateBuild(context.Background(), arg)
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	return build
}

func pendingTriggers(t *testing.T, s *Server) int {
	t.Helper()
	counts, err := s.Base.QueueBackend.Counts(context.Background())
	if err != nil {
		t.Fatalf("queue counts: %v", err)
	}
	return counts["pending"]
}
