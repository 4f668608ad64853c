package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// NewObserved returns a logger that records every entry at or above
// TraceLevel, for assertions in tests.
func NewObserved() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(TraceLevel)
	return zap.New(core), logs
}
