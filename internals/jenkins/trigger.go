package jenkins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
)

var queueItemRegex = regexp.MustCompile(`/queue/item/(\d+)/?$`)

// Trigger starts jobName and waits until Jenkins assigns it a build. It is
// Invoke followed by AwaitBuild.
func (c *Client) Trigger(ctx context.Context, jobName string, params map[string]string, timeout, pollInterval time.Duration) (*BuildHandle, error) {
	queueID, err := c.Invoke(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	return c.AwaitBuild(ctx, jobName, queueID, timeout, pollInterval)
}

// Invoke submits jobName and returns the id of the queue item Jenkins created
// for it.
func (c *Client) Invoke(ctx context.Context, jobName string, params map[string]string) (int64, error) {
	queueID, err := c.invoke(ctx, jobName, params)
	if err != nil {
		return 0, err
	}
	c.logger.Info("job queued", slog.String("job", jobName), slog.Int64("queue_id", queueID))
	return queueID, nil
}

// AwaitBuild polls queue item queueID until it resolves to a build of jobName.
//
// Every poll either resolves the build, or fails. Failures for which
// IsRetryable is true are retried after pollInterval until the slept time
// reaches timeout, at which point ErrTimeout is returned. Any other error is
// returned as is. Zero durations use the client defaults.
func (c *Client) AwaitBuild(ctx context.Context, jobName string, queueID int64, timeout, pollInterval time.Duration) (*BuildHandle, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if pollInterval <= 0 {
		pollInterval = c.pollInterval
	}
	logger := c.logger.With(slog.String("job", jobName), slog.Int64("queue_id", queueID))

	budget := newPollBudget(timeout, pollInterval)
	var number int64
	err := retry.Do(ctx, budget, func(ctx context.Context) error {
		n, err := c.pollQueueItem(ctx, queueID)
		if err == nil {
			number = n
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			logger.Info("queue poll failed, retrying",
				slog.Int("status", httpErr.StatusCode),
				slog.String("error", err.Error()),
			)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		if budget.Exhausted() {
			logger.Warn("gave up waiting for build", slog.Duration("waited", budget.Slept()))
			return nil, fmt.Errorf("%w: %s after %s: %w", ErrTimeout, jobName, budget.Slept(), err)
		}
		return nil, err
	}

	handle, err := c.GetBuildInfo(ctx, jobName, number)
	if err != nil {
		return nil, err
	}
	handle.QueueID = queueID
	logger.Info("build started", slog.Int64("number", handle.Number), slog.String("url", handle.URL))
	return handle, nil
}

// invoke submits the job and returns the id of the resulting queue item.
func (c *Client) invoke(ctx context.Context, jobName string, params map[string]string) (int64, error) {
	ref := jobPath(jobName) + "/build"
	form := url.Values{}
	if len(params) > 0 {
		ref = jobPath(jobName) + "/buildWithParameters"
		for key, value := range params {
			form.Set(key, value)
		}
	}

	resp, err := c.do(ctx, "POST", ref, nil, form)
	if err != nil {
		return 0, fmt.Errorf("trigger %s: %w", jobName, err)
	}
	return parseQueueLocation(resp.header.Get("Location"))
}

func parseQueueLocation(location string) (int64, error) {
	match := queueItemRegex.FindStringSubmatch(location)
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrNoQueueLocation, location)
	}
	return strconv.ParseInt(match[1], 10, 64)
}

// pollQueueItem returns the build number once the item left the queue.
func (c *Client) pollQueueItem(ctx context.Context, queueID int64) (int64, error) {
	resp, err := c.do(ctx, "GET", "queue/item/"+strconv.FormatInt(queueID, 10)+"/api/json", nil, nil)
	if err != nil {
		return 0, err
	}
	doc := gjson.ParseBytes(resp.body)
	if doc.Get("cancelled").Bool() {
		return 0, fmt.Errorf("%w: queue item %d", ErrQueueItemCancelled, queueID)
	}
	number := doc.Get("executable.number")
	if !number.Exists() {
		if why := doc.Get("why").String(); why != "" {
			return 0, fmt.Errorf("%w: %s", ErrNotYetBuilt, why)
		}
		return 0, ErrNotYetBuilt
	}
	return number.Int(), nil
}

// pollBudget is a constant backoff that stops once the slept time reaches
// the timeout. The last sleep may overshoot the timeout by less than one
// interval.
type pollBudget struct {
	timeout   time.Duration
	interval  time.Duration
	slept     time.Duration
	sleeps    int
	exhausted bool
}

func newPollBudget(timeout, interval time.Duration) *pollBudget {
	return &pollBudget{timeout: timeout, interval: interval}
}

func (b *pollBudget) Next() (time.Duration, bool) {
	if b.slept >= b.timeout {
		b.exhausted = true
		return 0, true
	}
	b.slept += b.interval
	b.sleeps++
	return b.interval, false
}

func (b *pollBudget) Exhausted() bool {
	return b.exhausted
}

func (b *pollBudget) Slept() time.Duration {
	return b.slept
}

func (b *pollBudget) Sleeps() int {
	return b.sleeps
}

var _ retry.Backoff = (*pollBudget)(nil)
