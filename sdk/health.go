package sdk

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/civ-ci/civ/internals/timeouts"
)

const (
	DefaultPingTimeout = timeouts.Probe
	startPollBase      = 100 * time.Millisecond
)

var errStillRunning = errors.New("daemon still running")

func IsRunning(baseURL string) bool {
	return IsRunningWithTimeout(baseURL, DefaultPingTimeout)
}

func IsRunningWithTimeout(baseURL string, timeout time.Duration) bool {
	if baseURL == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client := NewClient(
		WithBaseURL(baseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	_, err := client.Version(ctx)
	return err == nil
}

// WaitForStart probes baseURL with growing pauses until the daemon answers
// or wait has passed.
func WaitForStart(ctx context.Context, baseURL string, wait time.Duration) bool {
	backoff := retry.WithMaxDuration(wait, retry.NewFibonacci(startPollBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if IsRunning(baseURL) {
			return nil
		}
		return retry.RetryableError(errors.New("daemon not answering"))
	})
	return err == nil
}

// WaitForStop is WaitForStart the other way round.
func WaitForStop(ctx context.Context, baseURL string, wait time.Duration) bool {
	backoff := retry.WithMaxDuration(wait, retry.NewConstant(startPollBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !IsRunning(baseURL) {
			return nil
		}
		return retry.RetryableError(errStillRunning)
	})
	return err == nil
}
