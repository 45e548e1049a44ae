// Package logger holds slog attribute helpers shared by the engine and the
// commands. Helpers return an empty Attr for zero inputs so call sites need no
// nil checks.
package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Handle creates the session handle attribute.
func Handle(h string) slog.Attr {
	if h == "" {
		return slog.Attr{}
	}
	return slog.String("session_handle", h)
}

// UserID creates the canonical user id attribute.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Count creates a generic counter attribute.
func Count(key string, n int64) slog.Attr {
	return slog.Int64(key, n)
}

// Component tags a logger with the subsystem that owns it.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Group creates a group of attributes under a single key.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}
