package core

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/civ-ci/civ/internals/assert"
	"github.com/civ-ci/civ/internals/conf"
)

// InitLogger logs to stdout and to <data_dir>/log.txt and installs the
// result as the slog default.
func InitLogger(config *conf.Config) (*slog.Logger, *os.File) {
	logPath := filepath.Join(config.Server.DataDir, "log.txt")
	err := os.MkdirAll(filepath.Dir(logPath), 0o755)
	assert.AssertNil(err, "[CORE] Failed to initialize log directory")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	assert.AssertNil(err, "[CORE] Failed to open log file")

	logger := newLogger(io.MultiWriter(os.Stdout, logFile), config.Server.SlogLevel(), !isatty.IsTerminal(os.Stdout.Fd()))
	slog.SetDefault(logger)
	return logger, logFile
}

func newLogger(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:     level,
		AddSource: true,
		NoColor:   noColor,
	})
	return slog.New(handler)
}
