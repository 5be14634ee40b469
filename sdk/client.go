package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/civ-ci/civ/internals/env"
	"github.com/civ-ci/civ/internals/schemas"
	"github.com/civ-ci/civ/internals/timeouts"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var ErrNotFound = errors.New("not found")
var ErrShutdownUnsupported = errors.New("shutdown unsupported")

type ErrorResponse struct {
	Status  string              `json:"status"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Errors     map[string][]string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// Is lets errors.Is(err, ErrNotFound) match a 404 from the daemon.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(opts ...Option) *Client {
	envs := env.Get()
	client := &Client{
		baseURL: strings.TrimRight(envs.BASE_URL, "/"),
		httpClient: &http.Client{
			Timeout: timeouts.SDKRequest,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/shutdown", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrShutdownUnsupported
	}
	return responseError(resp)
}

// CreateTask stores a task and queues its first trigger. The build shows up
// on the task once the daemon has resolved it.
func (c *Client) CreateTask(ctx context.Context, request schemas.TaskCreateRequest) (*schemas.TaskTriggerResponse, error) {
	var payload schemas.TaskTriggerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", request, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

type ListTasksOptions struct {
	Title  string
	User   string
	Limit  int
	Offset int
}

func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) (*schemas.TaskListResponse, error) {
	query := url.Values{}
	setQuery(query, "title", opts.Title)
	setQuery(query, "user", opts.User)
	setQueryInt(query, "limit", opts.Limit)
	setQueryInt(query, "offset", opts.Offset)

	var payload schemas.TaskListResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/tasks", query), nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (*schemas.TaskResponse, error) {
	var payload schemas.TaskResponse
	if err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) UpdateTask(ctx context.Context, taskID string, request schemas.TaskUpdateRequest) (*schemas.TaskResponse, error) {
	var payload schemas.TaskResponse
	if err := c.doJSON(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(taskID), request, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	var payload schemas.TaskDeleteResponse
	return c.doJSON(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, &payload)
}

func (c *Client) RetriggerTask(ctx context.Context, taskID string) (*schemas.TaskTriggerResponse, error) {
	var payload schemas.TaskTriggerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/retrigger", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) JenkinsCallback(ctx context.Context, request schemas.CallbackRequest) (*schemas.TaskTriggerResponse, error) {
	var payload schemas.TaskTriggerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/callbacks/jenkins", request, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

type ListBuildsOptions struct {
	Job    string
	Status string
	Branch string
	// Result is "success" or "failure".
	Result string
	// Since is an RFC3339 time or a duration such as "24h".
	Since  string
	Limit  int
	Offset int
}

func (c *Client) ListBuilds(ctx context.Context, opts ListBuildsOptions) (*schemas.BuildListResponse, error) {
	query := url.Values{}
	setQuery(query, "job", opts.Job)
	setQuery(query, "status", opts.Status)
	setQuery(query, "branch", opts.Branch)
	setQuery(query, "result", opts.Result)
	setQuery(query, "since", opts.Since)
	setQueryInt(query, "limit", opts.Limit)
	setQueryInt(query, "offset", opts.Offset)

	var payload schemas.BuildListResponse
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/builds", query), nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) GetBuild(ctx context.Context, buildID int64) (*schemas.BuildResponse, error) {
	var payload schemas.BuildResponse
	if err := c.doJSON(ctx, http.MethodGet, "/builds/"+strconv.FormatInt(buildID, 10), nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) BuildStages(ctx context.Context, buildID int64) (*schemas.StageListResponse, error) {
	var payload schemas.StageListResponse
	path := "/builds/" + strconv.FormatInt(buildID, 10) + "/stages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) StageLog(ctx context.Context, buildID int64, stageID string) (string, error) {
	path := "/builds/" + strconv.FormatInt(buildID, 10) + "/stages/" + url.PathEscape(stageID) + "/log"
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) ListJobs(ctx context.Context) (*schemas.JobListResponse, error) {
	var payload schemas.JobListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/jobs", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetJob accepts folder job names such as "team/deploy".
func (c *Client) GetJob(ctx context.Context, name string) (*schemas.JobResponse, error) {
	segments := strings.Split(strings.Trim(name, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	var payload schemas.JobResponse
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+strings.Join(segments, "/"), nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, request any, response any) error {
	var body io.Reader
	if request != nil {
		data, err := json.Marshal(request)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(response)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
		return &APIError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message, Errors: payload.Errors}
	}
	if resp.StatusCode == http.StatusNotFound {
		return &APIError{StatusCode: resp.StatusCode, Message: "not found"}
	}

	return fmt.Errorf("unexpected status: %s", resp.Status)
}

func setQuery(query url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		query.Set(key, value)
	}
}

func setQueryInt(query url.Values, key string, value int) {
	if value > 0 {
		query.Set(key, strconv.Itoa(value))
	}
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
