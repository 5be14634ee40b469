package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Get("/version", s.HandlerVersion)
	r.Post("/shutdown", s.HandlerShutdown)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.HandlerListTasks)
		r.Post("/", s.HandlerCreateTask)
		r.Get("/{id}", s.HandlerGetTask)
		r.Patch("/{id}", s.HandlerUpdateTask)
		r.Delete("/{id}", s.HandlerDeleteTask)
		r.Post("/{id}/retrigger", s.HandlerRetriggerTask)
	})

	r.Route("/builds", func(r chi.Router) {
		r.Get("/", s.HandlerListBuilds)
		r.Get("/{id}", s.HandlerGetBuild)
		r.Get("/{id}/stages", s.HandlerBuildStages)
		r.Get("/{id}/stages/{stageId}/log", s.HandlerStageLog)
	})

	r.Get("/jobs", s.HandlerListJobs)
	// Job names may contain folders, so the name is the rest of the path.
	r.Get("/jobs/*", s.HandlerGetJob)

	r.Post("/callbacks/jenkins", s.HandlerJenkinsCallback)
	return r
}
