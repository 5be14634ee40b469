package sdk

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/civ-ci/civ/internals/schemas"
)

var ErrWaitTimeout = errors.New("timed out waiting for build")

// WaitForBuild polls a task until it has more than knownBuilds builds and the
// newest of them has finished, then returns it. A build recorded as RUNNING
// gets a second row once the daemon sees it finish. Network errors are
// retried like a missing build.
func (c *Client) WaitForBuild(ctx context.Context, taskID string, knownBuilds int, interval, timeout time.Duration) (*schemas.BuildResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	backoff := retry.NewConstant(interval)
	if timeout > 0 {
		backoff = retry.WithMaxDuration(timeout, backoff)
	}

	var found *schemas.BuildResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		if len(task.Builds) <= knownBuilds {
			return retry.RetryableError(ErrWaitTimeout)
		}
		build := task.Builds[len(task.Builds)-1]
		found = &build
		if build.Status == schemas.BuildStatusRunning {
			return retry.RetryableError(ErrWaitTimeout)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
