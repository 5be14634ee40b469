package db

import (
	"encoding/json"
	"time"

	"github.com/civ-ci/civ/internals/schemas"
)

type Task struct {
	ID         string
	Title      string
	JobName    string
	Parameters map[string]string
	User       string
	Origin     schemas.Origin
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Build struct {
	ID          int64
	TaskID      string
	JobName     string
	BuildNumber int64
	URL         string
	Status      schemas.BuildStatus
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Parameters  map[string]string
	// Stages is the JSON list of pipeline nodes as reported by Jenkins.
	Stages    json.RawMessage
	Report    string
	Artifacts []string
	CreatedAt time.Time
}

type Job struct {
	Name            string
	Description     string
	URL             string
	LastBuildNumber int64
	LastBuildStatus schemas.BuildStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func encodeParameters(params map[string]string) (string, error) {
	if params == nil {
		params = map[string]string{}
	}
	data, err := json.Marshal(params)
	return string(data), err
}

func decodeParameters(raw string) (map[string]string, error) {
	params := map[string]string{}
	if raw == "" {
		return params, nil
	}
	err := json.Unmarshal([]byte(raw), &params)
	return params, err
}
