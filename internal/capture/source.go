// Package capture pulls raw activity events from external trackers.
// Capture is read-only over tools the user already runs (Screenpipe's
// local database, ActivityWatch's local REST API); nothing here records
// the screen itself.
package capture

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/flowx/internal/model"
)

// Source is a single external event provider.
type Source interface {
	// Name identifies the source in logs and health checks.
	Name() string
	// Available reports whether the source can currently be read.
	Available(ctx context.Context) bool
	// Read returns events in [since, until], oldest first.
	Read(ctx context.Context, since, until time.Time) ([]model.RawEvent, error)
}

// Collect reads all sources concurrently and merges their events into a
// single timeline. A source that is down or fails mid-read is logged and
// skipped; losing one tracker must not lose the capture window.
func Collect(ctx context.Context, sources []Source, since, until time.Time) []model.RawEvent {
	var mu sync.Mutex
	var all []model.RawEvent

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			if !src.Available(ctx) {
				slog.Warn("capture source unavailable", "source", src.Name())
				return nil
			}
			events, err := src.Read(ctx, since, until)
			if err != nil {
				slog.Error("capture source read failed", "source", src.Name(), "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, events...)
			mu.Unlock()
			slog.Info("capture source read", "source", src.Name(), "events", len(events))
			return nil
		})
	}
	g.Wait()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all
}

// parseTimestamp handles the timestamp formats external trackers emit.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
