// Package cluster turns an ordered stream of raw capture events into
// workflow sessions: gap-based segmentation, per-session statistics,
// friction scoring, and deterministic identity so reruns over the same
// day converge instead of duplicating.
package cluster

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kalambet/flowx/internal/model"
)

const (
	// DefaultGapMinutes is the inactivity gap that closes a session.
	// A gap of exactly this many minutes stays in the current session;
	// only a strictly larger gap starts a new one.
	DefaultGapMinutes = 5.0

	// DefaultMinEvents suppresses single-event noise sessions.
	DefaultMinEvents = 2
)

// Options control session segmentation.
type Options struct {
	GapMinutes float64
	MinEvents  int
}

func (o Options) withDefaults() Options {
	if o.GapMinutes <= 0 {
		o.GapMinutes = DefaultGapMinutes
	}
	if o.MinEvents <= 0 {
		o.MinEvents = DefaultMinEvents
	}
	return o
}

// SessionID derives the deterministic session id from the session's start
// time: md5 over "<date>_<HHMMSS>", truncated to 12 hex chars. The same
// start always yields the same id, so re-clustering a day is idempotent.
func SessionID(start time.Time) string {
	key := fmt.Sprintf("%s_%s", start.Format("2006-01-02"), start.Format("150405"))
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

// Sessions partitions events into workflow sessions with a single linear
// pass over the timestamp-sorted input. Empty input yields an empty
// result. Unsorted input corrupts gap detection, so events are sorted
// defensively (stable, preserving input order for equal timestamps).
func Sessions(events []model.RawEvent, opts Options) []model.WorkflowSession {
	opts = opts.withDefaults()
	if len(events) == 0 {
		return nil
	}

	sorted := make([]model.RawEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var sessions []model.WorkflowSession
	run := []model.RawEvent{sorted[0]}

	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(run[len(run)-1].Timestamp).Minutes()
		if gap > opts.GapMinutes {
			if len(run) >= opts.MinEvents {
				sessions = append(sessions, build(run))
			}
			run = []model.RawEvent{sorted[i]}
			continue
		}
		run = append(run, sorted[i])
	}
	if len(run) >= opts.MinEvents {
		sessions = append(sessions, build(run))
	}

	slog.Info("sessions clustered",
		"events", len(sorted),
		"sessions", len(sessions),
	)
	return sessions
}

// build computes the structural fields for one run of events.
func build(events []model.RawEvent) model.WorkflowSession {
	var apps []string
	switches := 0
	prevApp := ""

	for _, e := range events {
		if e.AppName == "" || e.AppName == prevApp {
			continue
		}
		if prevApp != "" {
			switches++
		}
		if !contains(apps, e.AppName) {
			apps = append(apps, e.AppName)
		}
		prevApp = e.AppName
	}

	start := events[0].Timestamp
	end := events[len(events)-1].Timestamp
	duration := round1(end.Sub(start).Minutes())
	rate := FrictionRate(switches, duration)

	return model.WorkflowSession{
		ID:                   SessionID(start),
		StartTime:            start,
		EndTime:              end,
		Events:               events,
		AppsUsed:             apps,
		TotalDurationMinutes: duration,
		ContextSwitches:      switches,
		FrictionRate:         rate,
		FrictionLevel:        ScoreFriction(rate),
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
