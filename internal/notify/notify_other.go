//go:build !darwin

package notify

import (
	"context"
	"log/slog"
)

// platformNotify has no native channel off macOS; the log line is the
// notification.
func platformNotify(_ context.Context, title, message string) error {
	slog.Info("notification", "title", title, "message", message)
	return nil
}
