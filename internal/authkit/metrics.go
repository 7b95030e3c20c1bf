package authkit

import "sync"

// Auth flow events counted by the metrics recorder.
const (
	EventLoginSucceeded   = "login.succeeded"
	EventLoginRejected    = "login.rejected"
	EventRefreshSucceeded = "refresh.succeeded"
	EventSessionRejected  = "session.rejected"
	EventCSRFRejected     = "csrf.rejected"
	EventLogout           = "logout"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

// RecordEvent increments the provided metrics recorder, if any.
func RecordEvent(event string) {
	currentMetrics().Increment(event)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CounterMetrics implements MetricsRecorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}
