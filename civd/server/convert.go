package server

import (
	"encoding/json"
	"time"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/jenkins"
	"github.com/civ-ci/civ/internals/schemas"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func taskResponse(t db.Task) schemas.TaskResponse {
	params := t.Parameters
	if params == nil {
		params = map[string]string{}
	}
	return schemas.TaskResponse{
		ID:         t.ID,
		Title:      t.Title,
		JobName:    t.JobName,
		Parameters: params,
		User:       t.User,
		Origin:     t.Origin,
		CreatedAt:  formatTime(t.CreatedAt),
		UpdatedAt:  formatTime(t.UpdatedAt),
	}
}

func buildResponse(b db.Build) schemas.BuildResponse {
	var stages []jenkins.Stage
	if len(b.Stages) > 0 {
		// A row with unreadable stages is still worth showing.
		_ = json.Unmarshal(b.Stages, &stages)
	}
	params := b.Parameters
	if params == nil {
		params = map[string]string{}
	}
	artifacts := b.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	return schemas.BuildResponse{
		ID:          b.ID,
		TaskID:      b.TaskID,
		JobName:     b.JobName,
		BuildNumber: b.BuildNumber,
		URL:         b.URL,
		Status:      b.Status,
		StartTime:   formatTime(b.StartTime),
		EndTime:     formatTime(b.EndTime),
		DurationMs:  b.Duration.Milliseconds(),
		Parameters:  params,
		Stages:      stageResponses(stages),
		Report:      b.Report,
		Artifacts:   artifacts,
		CreatedAt:   formatTime(b.CreatedAt),
	}
}

func buildResponses(builds []db.Build) []schemas.BuildResponse {
	out := make([]schemas.BuildResponse, 0, len(builds))
	for _, b := range builds {
		out = append(out, buildResponse(b))
	}
	return out
}

func stageResponses(stages []jenkins.Stage) []schemas.StageResponse {
	out := make([]schemas.StageResponse, 0, len(stages))
	for _, stage := range stages {
		var links map[string]any
		if len(stage.Links) > 0 {
			_ = json.Unmarshal(stage.Links, &links)
		}
		edges := stage.Edges
		if edges == nil {
			edges = []schemas.StageEdge{}
		}
		out = append(out, schemas.StageResponse{
			ID:          stage.ID,
			DisplayName: stage.DisplayName,
			State:       stage.State,
			Result:      stage.Result,
			DurationMs:  stage.DurationMs,
			StartTime:   stage.StartTime,
			Type:        stage.Type,
			FirstParent: stage.FirstParent,
			Edges:       edges,
			Links:       links,
			LogURL:      stage.LogHref(),
		})
	}
	return out
}

func jobResponse(j db.Job) schemas.JobResponse {
	return schemas.JobResponse{
		Name:            j.Name,
		Description:     j.Description,
		URL:             j.URL,
		LastBuildNumber: j.LastBuildNumber,
		LastBuildStatus: j.LastBuildStatus,
		CreatedAt:       formatTime(j.CreatedAt),
		UpdatedAt:       formatTime(j.UpdatedAt),
	}
}
