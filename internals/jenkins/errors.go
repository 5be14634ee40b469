package jenkins

import (
	"errors"
	"fmt"
)

var (
	// ErrNotYetBuilt means the queue item has not been assigned a build yet.
	ErrNotYetBuilt = errors.New("jenkins: queue item not yet built")
	// ErrTimeout is returned by Trigger once the polling budget is spent.
	ErrTimeout = errors.New("jenkins: timed out waiting for build")
	// ErrRemoteQueryFailed wraps any failure fetching stages or logs.
	ErrRemoteQueryFailed  = errors.New("jenkins: remote query failed")
	ErrNoLogAvailable     = errors.New("jenkins: no log available")
	ErrQueueItemCancelled = errors.New("jenkins: queue item cancelled")
	ErrNoQueueLocation    = errors.New("jenkins: response has no queue item location")
)

// HTTPError is a non-2xx answer from Jenkins.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("jenkins: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("jenkins: %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// IsRetryable reports whether a queue poll should be attempted again. Both a
// still-queued item and an HTTP error from Jenkins are retried the same way;
// everything else is final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotYetBuilt) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}
