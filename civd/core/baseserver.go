package core

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/civ-ci/civ/civd/core/db"
	"github.com/civ-ci/civ/internals/assert"
	"github.com/civ-ci/civ/internals/conf"
	"github.com/civ-ci/civ/internals/env"
	"github.com/civ-ci/civ/internals/jenkins"
	"github.com/civ-ci/civ/internals/tasky"
)

type BaseServer struct {
	Config       *conf.Config
	Env          *env.EnvStruct
	Logger       *slog.Logger
	LogFile      *os.File
	Conn         *sql.DB
	DB           *db.Queries
	Jenkins      JenkinsClient
	TaskQueue    *tasky.Queue[Jobs]
	QueueBackend QueueBackend
}

func New() *BaseServer {
	env := env.Get()
	config := conf.GetConfig()
	if config.Server.DataDir != "" {
		config.Server.DataDir = filepath.Clean(config.Server.DataDir)
	}

	logger, logFile := InitLogger(config)

	conn, err := db.Open(context.Background(), filepath.Join(config.Server.DataDir, "db", "civ.db"))
	assert.AssertNil(err, "[CORE] Failed to open database")

	client, err := jenkins.Shared(JenkinsConfig(config, env), jenkins.WithLogger(logger))
	assert.AssertNil(err, "[CORE] Failed to initialize jenkins client")

	base := &BaseServer{
		Config:  config,
		Env:     env,
		Logger:  logger,
		LogFile: logFile,
		Conn:    conn,
		DB:      db.New(conn),
		Jenkins: client,
	}

	_, err = NewQueue(base)
	assert.AssertNil(err, "[CORE] Failed to initialize queue")

	return base
}

// JenkinsConfig merges the config file with the environment. Credentials and
// the URL from the environment win.
func JenkinsConfig(config *conf.Config, env *env.EnvStruct) jenkins.Config {
	jc := config.Jenkins
	cfg := jenkins.Config{
		BaseURL:        jc.URL,
		Username:       jc.Username,
		Token:          env.JENKINS_TOKEN,
		PollInterval:   jc.PollIntervalDuration(),
		Timeout:        jc.TimeoutDuration(),
		RequestTimeout: jc.RequestTimeoutDuration(),
		NodeLimit:      jc.NodeLimit,
	}
	if env.JENKINS_URL != "" {
		cfg.BaseURL = env.JENKINS_URL
	}
	if env.JENKINS_USERNAME != "" {
		cfg.Username = env.JENKINS_USERNAME
	}
	return cfg
}

func (b *BaseServer) Close() error {
	var errs []error
	if b.QueueBackend != nil {
		errs = append(errs, b.QueueBackend.Close())
	}
	if b.Conn != nil {
		errs = append(errs, b.Conn.Close())
	}
	if b.LogFile != nil {
		errs = append(errs, b.LogFile.Close())
	}
	return errors.Join(errs...)
}
