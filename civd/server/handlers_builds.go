package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/jenkins"
	"github.com/civ-ci/civ/internals/logbuf"
	"github.com/civ-ci/civ/internals/schemas"
)

func (s *Server) HandlerListBuilds(w http.ResponseWriter, r *http.Request) {
	params, err := parseBuildFilter(r, time.Now())
	if err != nil {
		renderError(w, r, http.StatusBadRequest, JsonResponseErrorCodeValidationFailed, err.Error())
		return
	}
	builds, err := s.Base.DB.ListBuilds(r.Context(), params)
	if err != nil {
		logbuf.FromContext(r.Context()).Error("list builds failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to list builds")
		return
	}
	RenderJSON(w, r, schemas.BuildListResponse{Builds: buildResponses(builds)})
}

// parseBuildFilter reads the build list query. since accepts an RFC3339
// time or a duration counted back from now.
func parseBuildFilter(r *http.Request, now time.Time) (db.ListBuildsParams, error) {
	query := r.URL.Query()
	params := db.ListBuildsParams{
		JobName: strings.Trim(strings.TrimSpace(query.Get("job")), "/"),
		Branch:  strings.TrimSpace(query.Get("branch")),
	}

	if raw := query.Get("status"); raw != "" {
		status, ok := schemas.ParseBuildStatus(raw)
		if !ok {
			return params, fmt.Errorf("unknown status %q", raw)
		}
		params.Status = status
	}

	switch outcome := db.BuildOutcome(strings.ToLower(strings.TrimSpace(query.Get("result")))); outcome {
	case db.OutcomeAny, db.OutcomeSuccess, db.OutcomeFailure:
		params.Outcome = outcome
	default:
		return params, fmt.Errorf("result must be success or failure")
	}

	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			params.Since = t
		} else if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			params.Since = now.Add(-d)
		} else {
			return params, fmt.Errorf("since must be an RFC3339 time or a positive duration")
		}
	}

	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		return params, fmt.Errorf("limit and offset must be non-negative integers")
	}
	params.Limit = limit
	params.Offset = offset
	return params, nil
}

func (s *Server) HandlerGetBuild(w http.ResponseWriter, r *http.Request) {
	build, ok := s.loadBuild(w, r)
	if !ok {
		return
	}
	RenderJSON(w, r, buildResponse(build))
}

func (s *Server) HandlerBuildStages(w http.ResponseWriter, r *http.Request) {
	build, ok := s.loadBuild(w, r)
	if !ok {
		return
	}
	stages, cached, err := s.buildStages(r, build)
	if err != nil {
		s.renderStageError(w, r, err)
		return
	}
	RenderJSON(w, r, schemas.StageListResponse{
		BuildID: build.ID,
		Cached:  cached,
		Stages:  stageResponses(stages),
	})
}

func (s *Server) HandlerStageLog(w http.ResponseWriter, r *http.Request) {
	build, ok := s.loadBuild(w, r)
	if !ok {
		return
	}
	stages, _, err := s.buildStages(r, build)
	if err != nil {
		s.renderStageError(w, r, err)
		return
	}

	stageID := chi.URLParam(r, "stageId")
	for _, stage := range stages {
		if stage.ID != stageID {
			continue
		}
		text, err := s.Base.Jenkins.GetStageLog(r.Context(), stage)
		if err != nil {
			s.renderStageError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
		return
	}
	renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Stage not found")
}

var errNoRemoteRun = errors.New("build never started on Jenkins")

// buildStages returns the live pipeline nodes of a build. Finished builds do
// not change on Jenkins, so their nodes are served from the cache.
func (s *Server) buildStages(r *http.Request, build db.Build) ([]jenkins.Stage, bool, error) {
	if build.BuildNumber < 0 {
		return nil, false, errNoRemoteRun
	}
	if stages, ok := s.stages.Get(build.ID); ok {
		return stages, true, nil
	}
	stages, err := s.Base.Jenkins.GetPipelineStages(r.Context(), build.JobName, build.BuildNumber)
	if err != nil {
		return nil, false, err
	}
	if build.Status.Terminal() {
		s.stages.Add(build.ID, stages)
	}
	return stages, false, nil
}

func (s *Server) renderStageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNoRemoteRun):
		renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, err.Error())
	case errors.Is(err, jenkins.ErrNoLogAvailable):
		renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Stage has no log")
	default:
		logbuf.FromContext(r.Context()).Warn("jenkins query failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusBadGateway, JsonResponseErrorCodeUpstream, "Jenkins query failed")
	}
}

func (s *Server) loadBuild(w http.ResponseWriter, r *http.Request) (db.Build, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, JsonResponseErrorCodeValidationFailed, "build id must be an integer")
		return db.Build{}, false
	}
	build, err := s.Base.DB.GetBuild(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrBuildNotFound):
		renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Build not found")
		return db.Build{}, false
	case err != nil:
		logbuf.FromContext(r.Context()).Error("load build failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to load build")
		return db.Build{}, false
	}
	return build, true
}
