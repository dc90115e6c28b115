// Package monitoring provides the process-wide diagnostic logger used by the
// telemetry pipeline and the strategy engines. The logger is a plain printf
// hook so callers can redirect output without threading a logger through
// every constructor.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped with SetLogger; tests typically mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Verbosity controls the tiered helpers below. 0 keeps only Logf output,
// 1 adds per-lap diagnostics, 2 adds per-sample tracing.
var Verbosity int

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Diagf logs per-lap diagnostics when Verbosity >= 1.
func Diagf(format string, v ...interface{}) {
	if Verbosity >= 1 {
		Logf(format, v...)
	}
}

// Tracef logs per-sample tracing when Verbosity >= 2. Callers on hot paths
// should gate expensive argument construction on Verbosity themselves.
func Tracef(format string, v ...interface{}) {
	if Verbosity >= 2 {
		Logf(format, v...)
	}
}
