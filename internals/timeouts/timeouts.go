package timeouts

import "time"

const (
	Probe           = 300 * time.Millisecond
	SDKRequest      = 10 * time.Second
	ServerShutdown  = 10 * time.Second
	DaemonStartWait = 5 * time.Second
)
