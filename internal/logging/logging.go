// Package logging provides the structured logger the keycode core uses to
// trace applied keycodes, grounded on the slog.Logger wiring
// in the pack's hsm/manager.go (construct with a default discard logger,
// let callers override it).
package logging

import (
	"io"
	"log/slog"
)

// Discard returns a logger that drops everything, used as the zero-value
// default so callers never need a nil check.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New returns a text logger writing to w at level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// OrDiscard returns logger, or Discard() if logger is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
