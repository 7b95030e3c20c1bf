package authkit

import (
	"sync"

	"go.uber.org/zap"
)

// Package-level collaborators wired by the entrypoint (and swapped in tests).
var (
	providerMutex   sync.RWMutex
	providedClock   Clock
	providedLogger  *zap.Logger
	providedMetrics MetricsRecorder
)

// ProvideClock installs the clock used for minting and validation. Pass nil to reset.
func ProvideClock(clock Clock) {
	providerMutex.Lock()
	defer providerMutex.Unlock()
	providedClock = clock
}

// ProvideLogger installs the logger used by middleware. Pass nil to reset.
func ProvideLogger(logger *zap.Logger) {
	providerMutex.Lock()
	defer providerMutex.Unlock()
	providedLogger = logger
}

// ProvideMetrics installs the metrics recorder. Pass nil to reset.
func ProvideMetrics(recorder MetricsRecorder) {
	providerMutex.Lock()
	defer providerMutex.Unlock()
	providedMetrics = recorder
}

// CurrentClock returns the provided clock, defaulting to the system clock.
func CurrentClock() Clock {
	providerMutex.RLock()
	defer providerMutex.RUnlock()
	if providedClock == nil {
		return systemClock{}
	}
	return providedClock
}

func currentLogger() *zap.Logger {
	providerMutex.RLock()
	defer providerMutex.RUnlock()
	if providedLogger == nil {
		return zap.NewNop()
	}
	return providedLogger
}

func currentMetrics() MetricsRecorder {
	providerMutex.RLock()
	defer providerMutex.RUnlock()
	if providedMetrics == nil {
		return noopMetrics{}
	}
	return providedMetrics
}
