// Package notify delivers desktop notifications for replacement
// proposals and the morning brief.
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers one user-facing notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Desktop notifies via the platform's native mechanism, falling back to
// a log line where none exists.
type Desktop struct{}

// NewDesktop returns the platform notifier.
func NewDesktop() *Desktop {
	return &Desktop{}
}

// Notify fires a native notification. Failures are logged and swallowed;
// a missed popup must never break a pipeline stage.
func (d *Desktop) Notify(ctx context.Context, title, message string) error {
	if err := platformNotify(ctx, title, message); err != nil {
		slog.Warn("notification failed", "title", title, "error", err)
	}
	return nil
}

// Log is a Notifier that only writes to the log. Used in tests and when
// notifications are disabled in config.
type Log struct{}

func (Log) Notify(_ context.Context, title, message string) error {
	slog.Info("notification", "title", title, "message", message)
	return nil
}
