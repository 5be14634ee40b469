package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/civ-ci/civ/internals/logbuf"
)

// MiddlewareLogger buffers everything handlers log for a request and writes
// it as one record when the request ends.
func (s *Server) MiddlewareLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		buf := logbuf.New(
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		ctx := logbuf.WithContext(r.Context(), buf)
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		defer func() {
			if recovered := recover(); recovered != nil {
				buf.Error("panic", slog.Any("error", recovered), slog.String("stack", string(debug.Stack())))
				if recorder.status == 0 {
					recorder.WriteHeader(http.StatusInternalServerError)
				}
			}

			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			buf.Add(slog.Int("status", status), slog.Duration("duration", time.Since(start)))

			level := buf.Level()
			if status >= http.StatusInternalServerError && level < slog.LevelError {
				level = slog.LevelError
			}
			s.Logger.LogAttrs(context.Background(), level, "request", buf.Flush())
		}()

		next.ServeHTTP(recorder, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}
