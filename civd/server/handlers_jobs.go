package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/logbuf"
	"github.com/civ-ci/civ/internals/schemas"
)

func (s *Server) HandlerListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Base.DB.ListJobs(r.Context())
	if err != nil {
		logbuf.FromContext(r.Context()).Error("list jobs failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to list jobs")
		return
	}
	response := schemas.JobListResponse{Jobs: make([]schemas.JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		response.Jobs = append(response.Jobs, jobResponse(job))
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerGetJob(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(chi.URLParam(r, "*"), "/")
	job, err := s.Base.DB.GetJob(r.Context(), name)
	switch {
	case errors.Is(err, db.ErrJobNotFound):
		renderError(w, r, http.StatusNotFound, JsonResponseErrorCodeNotFound, "Job not found")
		return
	case err != nil:
		logbuf.FromContext(r.Context()).Error("load job failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, JsonResponseErrorCodeInternal, "Failed to load job")
		return
	}

	response := jobResponse(job)
	latest, err := s.Base.DB.LatestBuildByJob(r.Context(), name)
	switch {
	case err == nil:
		build := buildResponse(latest)
		response.LatestBuild = &build
	case !errors.Is(err, db.ErrBuildNotFound):
		logbuf.FromContext(r.Context()).Warn("load latest build failed", slog.String("error", err.Error()))
	}
	RenderJSON(w, r, response)
}
