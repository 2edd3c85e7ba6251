// Package recovery provides panic recovery for long-running goroutines
// such as the periodic scan loop.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use with defer at the start of a goroutine so one bad post or beacon
// document cannot take the whole client down.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "scanLoop")
//	    // ... scan work
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
	}
}

// RecoverWithCallback recovers from panics, logs them, and invokes the
// optional callback for cleanup or metrics.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
		if callback != nil {
			callback(r)
		}
	}
}
