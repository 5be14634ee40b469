package schemas

import (
	"regexp"

	z "github.com/Oudwins/zog"
)

// Origin records what caused a trigger.
type Origin string

const (
	OriginManual           Origin = "manual"
	OriginAPI              Origin = "api"
	OriginUpstreamCallback Origin = "upstream-callback"
)

func Origins() []Origin {
	return []Origin{OriginManual, OriginAPI, OriginUpstreamCallback}
}

func (o Origin) String() string {
	return string(o)
}

// Jenkins job names may contain folders separated by "/".
var jobNameRegex = regexp.MustCompile(`^[A-Za-z0-9._\-]+(/[A-Za-z0-9._\-]+)*$`)

var JobNameSchema = z.String().Required().Trim().Match(jobNameRegex, z.Message("invalid job name"))

type TaskCreateRequest struct {
	Title      string            `json:"title" zog:"title"`
	JobName    string            `json:"jobName" zog:"jobName"`
	Parameters map[string]string `json:"parameters"`
	User       string            `json:"user" zog:"user"`
	Origin     Origin            `json:"origin" zog:"origin"`
}

var TaskCreateSchema = z.Struct(z.Shape{
	"Title":   z.String().Optional().Trim(),
	"JobName": JobNameSchema,
	"User":    z.String().Optional().Trim(),
	"Origin":  z.StringLike[Origin]().Default(OriginAPI).OneOf(Origins()),
})

// TaskUpdateRequest patches a task. Only the title can really change; a job
// name or parameters that differ from the stored ones are rejected.
type TaskUpdateRequest struct {
	Title      *string           `json:"title,omitempty" zog:"title"`
	JobName    *string           `json:"jobName,omitempty" zog:"jobName"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

var TaskUpdateSchema = z.Struct(z.Shape{
	"Title":   z.Ptr(z.String().Trim()),
	"JobName": z.Ptr(JobNameSchema),
})

type TaskResponse struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	JobName    string            `json:"jobName"`
	Parameters map[string]string `json:"parameters"`
	User       string            `json:"user,omitempty"`
	Origin     Origin            `json:"origin"`
	CreatedAt  string            `json:"createdAt"`
	UpdatedAt  string            `json:"updatedAt"`
	Builds     []BuildResponse   `json:"builds,omitempty"`
}

type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// TaskTriggerResponse is returned when a trigger is accepted. The outcome is
// only visible later, as a Build of the task.
type TaskTriggerResponse struct {
	Task        TaskResponse `json:"task"`
	QueueTaskID string       `json:"queueTaskId"`
}

type CallbackRequest struct {
	JobName     string `json:"jobName" zog:"jobName"`
	BuildNumber int    `json:"buildNumber" zog:"buildNumber"`
	TaskID      string `json:"taskId" zog:"taskId"`
}

var CallbackSchema = z.Struct(z.Shape{
	"JobName":     JobNameSchema,
	"BuildNumber": z.Int().Required().GTE(1),
	"TaskID":      z.String().Optional().Trim(),
})

type TaskDeleteResponse struct {
	ID string `json:"id"`
}
