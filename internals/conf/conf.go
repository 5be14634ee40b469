package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
	"gopkg.in/yaml.v3"

	"github.com/civ-ci/civ/internals/version"
)

type Config struct {
	Version string
	Server  ServerConfig  `zog:"server"`
	Jenkins JenkinsConfig `zog:"jenkins"`
	Queue   QueueConfig   `zog:"queue"`
}

type ServerConfig struct {
	DataDir string `zog:"data_dir"`
	// ListenAddr overrides the address derived from CIV_PORT.
	ListenAddr string `zog:"listen_addr"`
	LogLevel   string `zog:"log_level"`
}

type JenkinsConfig struct {
	URL            string `zog:"url"`
	Username       string `zog:"username"`
	PollInterval   string `zog:"poll_interval"`
	Timeout        string `zog:"timeout"`
	RequestTimeout string `zog:"request_timeout"`
	NodeLimit      int    `zog:"node_limit"`
	// TrackInterval is how often a RUNNING build is checked until it finishes.
	TrackInterval string `zog:"track_interval"`
	// TrackTimeout is how long a RUNNING build is followed before giving up.
	TrackTimeout string `zog:"track_timeout"`
}

type QueueConfig struct {
	// Backend is "sqlite" for a queue that survives restarts or "memory".
	Backend string `zog:"backend"`
	Workers int    `zog:"workers"`
	// RetryMax is how many times a failed trigger is redelivered. Negative
	// retries forever.
	RetryMax     int    `zog:"retry_max"`
	PollInterval string `zog:"poll_interval"`
}

var logLevels = []string{"debug", "info", "warn", "error"}

var serverSchema = z.Struct(z.Shape{
	"DataDir":    z.String().Default("~/.civ").Transform(expandPathTransform),
	"ListenAddr": z.String().Optional().Trim(),
	"LogLevel":   z.String().Default("debug").Trim().OneOf(logLevels),
})

var jenkinsSchema = z.Struct(z.Shape{
	"URL":            z.String().Optional().Trim(),
	"Username":       z.String().Optional().Trim(),
	"PollInterval":   z.String().Default("2s").Transform(durationTransform),
	"Timeout":        z.String().Default("20s").Transform(durationTransform),
	"RequestTimeout": z.String().Default("60s").Transform(durationTransform),
	"NodeLimit":      z.Int().Default(10000).GTE(1),
	"TrackInterval":  z.String().Default("30s").Transform(durationTransform),
	"TrackTimeout":   z.String().Default("12h").Transform(durationTransform),
})

var queueBackends = []string{"sqlite", "memory"}

var queueSchema = z.Struct(z.Shape{
	"Backend":      z.String().Default("sqlite").Trim().OneOf(queueBackends),
	"Workers":      z.Int().Default(4).GTE(1),
	"RetryMax":     z.Int().Default(3),
	"PollInterval": z.String().Default("100ms").Transform(durationTransform),
})

var ConfigSchema = z.Struct(z.Shape{
	"Server":  serverSchema,
	"Jenkins": jenkinsSchema,
	"Queue":   queueSchema,
})

// The first file found wins.
var configFileNames = []string{"civ.yaml", "civ.yml", "civ.json"}

var config *Config

func GetConfig() *Config {
	if config == nil {
		dataDir, err := expandPath("~/.civ")
		if err != nil {
			log.Fatal("[Civ] Failed to expand config data dir", err)
		}
		parsed, err := Load(dataDir)
		if err != nil {
			log.Fatal("[Civ] Failed to load config", err)
		}
		config = parsed
	}
	return config
}

// Load reads the config file from dir, applying defaults for anything it
// leaves out. A missing or empty file yields the defaults.
func Load(dir string) (*Config, error) {
	payload, err := readConfigFile(dir)
	if err != nil {
		return nil, err
	}
	return Parse(payload)
}

func Parse(payload map[string]any) (*Config, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	parsed := &Config{}
	if errs := ConfigSchema.Parse(payload, parsed); errs != nil {
		return nil, fmt.Errorf("invalid config: %v", z.Issues.FlattenAndCollect(errs))
	}
	parsed.Version = version.String()
	return parsed, nil
}

func readConfigFile(dir string) (map[string]any, error) {
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, nil
		}

		var payload map[string]any
		if filepath.Ext(name) == ".json" {
			err = json.Unmarshal(data, &payload)
		} else {
			err = yaml.Unmarshal(data, &payload)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return payload, nil
	}
	return nil, nil
}

func (s ServerConfig) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// Durations are validated while parsing, so the accessors ignore errors.

func (j JenkinsConfig) PollIntervalDuration() time.Duration {
	return mustDuration(j.PollInterval)
}

func (j JenkinsConfig) TimeoutDuration() time.Duration {
	return mustDuration(j.Timeout)
}

func (j JenkinsConfig) RequestTimeoutDuration() time.Duration {
	return mustDuration(j.RequestTimeout)
}

func (j JenkinsConfig) TrackIntervalDuration() time.Duration {
	return mustDuration(j.TrackInterval)
}

func (j JenkinsConfig) TrackTimeoutDuration() time.Duration {
	return mustDuration(j.TrackTimeout)
}

func (q QueueConfig) PollIntervalDuration() time.Duration {
	return mustDuration(q.PollInterval)
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func durationTransform(ptr *string, c z.Ctx) error {
	value := strings.TrimSpace(*ptr)
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration %q must be positive", value)
	}
	*ptr = value
	return nil
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
