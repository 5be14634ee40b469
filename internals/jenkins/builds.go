package jenkins

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/civ-ci/civ/internals/schemas"
	"github.com/tidwall/gjson"
)

// BuildHandle identifies one concrete run of a job.
type BuildHandle struct {
	JobName    string
	Number     int64
	URL        string
	QueueID    int64
	Building   bool
	Result     string
	Status     schemas.BuildStatus
	Timestamp  time.Time
	Duration   time.Duration
	Parameters map[string]string
	ReportURL  string
	Artifacts  []string
	// Stages is left empty by the client; callers fill it from
	// GetPipelineStages when they need it.
	Stages []Stage
}

// EndTime is zero while the build is running.
func (h *BuildHandle) EndTime() time.Time {
	if h.Building || h.Timestamp.IsZero() {
		return time.Time{}
	}
	return h.Timestamp.Add(h.Duration)
}

// GetBuildInfo fetches a build whose number is already known.
func (c *Client) GetBuildInfo(ctx context.Context, jobName string, number int64) (*BuildHandle, error) {
	ref := jobPath(jobName) + "/" + strconv.FormatInt(number, 10) + "/api/json"
	resp, err := c.do(ctx, "GET", ref, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get build %s #%d: %w", jobName, number, err)
	}
	handle, err := parseBuild(jobName, resp.body)
	if err != nil {
		return nil, fmt.Errorf("get build %s #%d: %w", jobName, number, err)
	}
	c.logger.Debug("fetched build",
		slog.String("job", jobName),
		slog.Int64("number", handle.Number),
		slog.String("status", handle.Status.String()),
	)
	return handle, nil
}

func parseBuild(jobName string, body []byte) (*BuildHandle, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid build json")
	}
	doc := gjson.ParseBytes(body)
	number := doc.Get("number")
	if !number.Exists() {
		return nil, fmt.Errorf("build json has no number")
	}

	handle := &BuildHandle{
		JobName:    jobName,
		Number:     number.Int(),
		URL:        doc.Get("url").String(),
		QueueID:    doc.Get("queueId").Int(),
		Building:   doc.Get("building").Bool(),
		Result:     doc.Get("result").String(),
		Duration:   time.Duration(doc.Get("duration").Int()) * time.Millisecond,
		Parameters: map[string]string{},
	}
	handle.Status = schemas.StatusFromJenkins(handle.Result, handle.Building)
	if ts := doc.Get("timestamp").Int(); ts > 0 {
		handle.Timestamp = time.UnixMilli(ts).UTC()
	}

	doc.Get("actions").ForEach(func(_, action gjson.Result) bool {
		action.Get("parameters").ForEach(func(_, param gjson.Result) bool {
			name := param.Get("name").String()
			if name != "" {
				handle.Parameters[name] = param.Get("value").String()
			}
			return true
		})
		if strings.Contains(strings.ToLower(action.Get("_class").String()), "allure") {
			handle.ReportURL = strings.TrimSuffix(handle.URL, "/") + "/allure/"
		}
		return true
	})

	doc.Get("artifacts").ForEach(func(_, artifact gjson.Result) bool {
		if rel := artifact.Get("relativePath").String(); rel != "" {
			handle.Artifacts = append(handle.Artifacts, strings.TrimSuffix(handle.URL, "/")+"/artifact/"+rel)
		}
		return true
	})

	return handle, nil
}
