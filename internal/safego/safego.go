// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic in fn is recovered and logged with the task
// name and stack instead of crashing the process. Use it for every fire-and-forget
// goroutine, such as audit shipping or config reload callbacks.
func Go(task string, fn func()) {
	go func() {
		defer Recover(task)
		fn()
	}()
}

// Recover logs and swallows a panic. It must be called directly via defer.
func Recover(task string) {
	if r := recover(); r != nil {
		slog.Error("recovered panic in background goroutine", "task", task, "panic", r, "stack", string(debug.Stack()))
	}
}
