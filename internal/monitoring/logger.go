// Package monitoring holds the diagnostic loggers used by the conversion
// packages. Both default to the standard log package and may be swapped out
// by the CLI or muted by tests.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// Debugf logs through Logf only when debug output is enabled. Per-pulse
// diagnostics go here so large files do not flood the log.
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		Logf("[debug] "+format, v...)
	}
}
