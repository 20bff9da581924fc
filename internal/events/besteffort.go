package events

import (
	"fmt"
	"log/slog"
)

// BestEffort runs fn and discards its failure. Errors and panics are logged
// at warn level under op; they never reach the caller.
func BestEffort(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("best-effort operation panicked", "op", op, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		slog.Warn("best-effort operation failed", "op", op, "error", err)
	}
}
