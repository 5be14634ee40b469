package testutil

import (
	"io"
	"log/slog"
)

// Logger discards everything; tests assert on state, not log lines.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
