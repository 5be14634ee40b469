package jenkins

import "sync"

var (
	sharedMu     sync.Mutex
	sharedClient *Client
)

// Shared returns the process wide client, building it on first use. A failed
// construction is not cached, so the next call tries again.
func Shared(cfg Config, opts ...Option) (*Client, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedClient != nil {
		return sharedClient, nil
	}
	client, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	sharedClient = client
	return sharedClient, nil
}

func ResetSharedForTests() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedClient = nil
}
