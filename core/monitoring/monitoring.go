// Package monitoring holds the process-wide error reporter. The default is a
// no-op; the service installs a Sentry-backed Monitor at startup.
package monitoring

import (
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// CaptureDegraded reports a side-effect failure that did not fail the caller.
func CaptureDegraded(component string, err error, tags map[string]string) {
	t := map[string]string{"component": component, "kind": "DownstreamDegraded"}
	for k, v := range tags {
		t[k] = v
	}
	CaptureException(err, t)
}

// Flush flushes buffered events.
func Flush(d time.Duration) { get().Flush(d) }
