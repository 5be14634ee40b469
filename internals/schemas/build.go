package schemas

import (
	"strings"
)

// BuildStatus is the lifecycle state of a Build. The same values are used by
// the Jenkins client and by the persisted builds table.
type BuildStatus string

const (
	BuildStatusSuccess  BuildStatus = "SUCCESS"
	BuildStatusFailure  BuildStatus = "FAILURE"
	BuildStatusUnstable BuildStatus = "UNSTABLE"
	BuildStatusAborted  BuildStatus = "ABORTED"
	BuildStatusNotBuilt BuildStatus = "NOT_BUILT"
	BuildStatusUnknown  BuildStatus = "UNKNOWN"
	BuildStatusRunning  BuildStatus = "RUNNING"
	BuildStatusError    BuildStatus = "ERROR"
)

// NoBuildNumber marks a Build whose remote run never started.
const NoBuildNumber int64 = -1

// ErrorParameterKey holds the error text in the parameters of an ERROR build.
const ErrorParameterKey = "ERROR"

var jenkinsResults = map[string]BuildStatus{
	"SUCCESS":   BuildStatusSuccess,
	"FAILURE":   BuildStatusFailure,
	"UNSTABLE":  BuildStatusUnstable,
	"ABORTED":   BuildStatusAborted,
	"NOT_BUILT": BuildStatusNotBuilt,
}

// StatusFromJenkins maps a Jenkins build result to a BuildStatus. A build that
// is still running is RUNNING whatever its result says. Unmapped results are
// UNKNOWN.
func StatusFromJenkins(result string, building bool) BuildStatus {
	if building {
		return BuildStatusRunning
	}
	if status, ok := jenkinsResults[strings.ToUpper(strings.TrimSpace(result))]; ok {
		return status
	}
	return BuildStatusUnknown
}

func BuildStatuses() []BuildStatus {
	return []BuildStatus{
		BuildStatusSuccess,
		BuildStatusFailure,
		BuildStatusUnstable,
		BuildStatusAborted,
		BuildStatusNotBuilt,
		BuildStatusUnknown,
		BuildStatusRunning,
		BuildStatusError,
	}
}

func ParseBuildStatus(s string) (BuildStatus, bool) {
	want := BuildStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, status := range BuildStatuses() {
		if status == want {
			return status, true
		}
	}
	return "", false
}

// Terminal reports whether the remote build has finished.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildStatusRunning, BuildStatusUnknown, "":
		return false
	default:
		return true
	}
}

func (s BuildStatus) Successful() bool {
	return s == BuildStatusSuccess
}

// Failed reports whether the build ended in any non-success terminal state.
func (s BuildStatus) Failed() bool {
	return s.Terminal() && !s.Successful()
}

func (s BuildStatus) String() string {
	return string(s)
}

type StageEdge struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type StageResponse struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	State       string         `json:"state"`
	Result      string         `json:"result"`
	DurationMs  int64          `json:"durationInMillis"`
	StartTime   string         `json:"startTime,omitempty"`
	Type        string         `json:"type"`
	FirstParent string         `json:"firstParent,omitempty"`
	Edges       []StageEdge    `json:"edges"`
	Links       map[string]any `json:"_links,omitempty"`
	LogURL      string         `json:"logUrl,omitempty"`
}

type BuildResponse struct {
	ID          int64             `json:"id"`
	TaskID      string            `json:"taskId"`
	JobName     string            `json:"jobName"`
	BuildNumber int64             `json:"buildNumber"`
	URL         string            `json:"url"`
	Status      BuildStatus       `json:"status"`
	StartTime   string            `json:"startTime,omitempty"`
	EndTime     string            `json:"endTime,omitempty"`
	DurationMs  int64             `json:"durationMs"`
	Parameters  map[string]string `json:"parameters"`
	Stages      []StageResponse   `json:"stages"`
	Report      string            `json:"report,omitempty"`
	Artifacts   []string          `json:"artifacts"`
	CreatedAt   string            `json:"createdAt"`
}

type BuildListResponse struct {
	Builds []BuildResponse `json:"builds"`
}

type StageListResponse struct {
	BuildID int64           `json:"buildId"`
	Cached  bool            `json:"cached"`
	Stages  []StageResponse `json:"stages"`
}

type JobResponse struct {
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	URL             string         `json:"url,omitempty"`
	LastBuildNumber int64          `json:"lastBuildNumber"`
	LastBuildStatus BuildStatus    `json:"lastBuildStatus,omitempty"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`
	LatestBuild     *BuildResponse `json:"latestBuild,omitempty"`
}

type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}
