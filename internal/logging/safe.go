package logging

import (
	"log/slog"

	"github.com/sourcegraph/conc/panics"
)

// Safely runs fn and logs a panic instead of letting it crash the process.
// It reports whether fn panicked.
func Safely(logger *slog.Logger, what string, fn func()) bool {
	var pc panics.Catcher
	pc.Try(fn)
	r := pc.Recovered()
	if r == nil {
		return false
	}
	OrDiscard(logger).Error("recovered panic", "in", what, "panic", r.Value, "stack", string(r.Stack))
	return true
}

// Go runs fn on a new goroutine under Safely.
func Go(logger *slog.Logger, what string, fn func()) {
	go Safely(logger, what, fn)
}
