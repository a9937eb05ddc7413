// Package schedule holds the pure decision logic that drives the daemon:
// when each pipeline stage should fire, when an adoption is due for
// measurement, and when a high-friction session warrants a proposal
// notification. Nothing here performs I/O; every function takes an
// explicit "now" and explicit prior state so decisions are fully
// testable with a fixed clock.
package schedule

import (
	"time"

	"github.com/kalambet/flowx/internal/model"
)

// Stage names used as keys in State.LastRun.
const (
	StageCapture = "capture"
	StageAnalyze = "analyze"
	StageMeasure = "measure"
	StageBrief   = "brief"
	StageHealth  = "health"
)

// TimeOfDay is a fixed wall-clock firing slot.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// StageSpec describes a stage's fixed firing slots.
type StageSpec struct {
	Times        []TimeOfDay
	WeekdaysOnly bool
}

// Default stage schedules. Capture runs shortly before each analyze slot
// so analysis always sees fresh sessions. Capture and analyze run on
// weekends too — off-hours work still happens there; only the morning
// brief is a weekday habit.
var (
	CaptureSpec = StageSpec{Times: []TimeOfDay{{12, 55}, {17, 55}, {22, 55}}}
	AnalyzeSpec = StageSpec{Times: []TimeOfDay{{13, 0}, {18, 0}, {23, 0}}}
	MeasureSpec = StageSpec{Times: []TimeOfDay{{7, 0}}}
	BriefSpec   = StageSpec{Times: []TimeOfDay{{8, 30}}, WeekdaysOnly: true}
)

// HealthInterval is how often the capture-source liveness check runs.
const HealthInterval = 5 * time.Minute

// RetentionDays bounds the schedule state: notified-session and
// pattern-trigger entries older than this are pruned on every write.
const RetentionDays = 30

// scanHorizonDays is how far NextFireTime looks ahead; 8 days always
// reaches the next Monday slot from a Friday evening.
const scanHorizonDays = 8

// NextFireTime returns the first slot of spec strictly after "after".
// The ok result is false only when the spec has no slots inside the scan
// horizon (e.g. an empty Times list).
func NextFireTime(spec StageSpec, after time.Time) (time.Time, bool) {
	for offset := 0; offset < scanHorizonDays; offset++ {
		day := after.AddDate(0, 0, offset)
		if spec.WeekdaysOnly && isWeekend(day.Weekday()) {
			continue
		}
		for _, tod := range sorted(spec.Times) {
			slot := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute, 0, 0, after.Location())
			if slot.After(after) {
				return slot, true
			}
		}
	}
	return time.Time{}, false
}

// Due reports whether a stage should fire now: the first slot after its
// last run has passed. A stage that has never run is baselined to 24h
// ago, so a daemon started mid-day still picks up today's missed slot
// instead of firing every historical one.
func Due(spec StageSpec, lastRun, now time.Time) bool {
	if lastRun.IsZero() {
		lastRun = now.AddDate(0, 0, -1)
	}
	next, ok := NextFireTime(spec, lastRun)
	if !ok {
		return false
	}
	return !next.After(now)
}

// ShouldMeasure implements the adaptive measurement cadence. Expected
// measurement count by adoption age: none in the first week, one per
// 7 days through day 30, then one per additional 30 days. The adoption
// is due while it has been measured fewer times than expected.
func ShouldMeasure(a model.Adoption, now time.Time) bool {
	ageDays := int(now.Sub(a.AdoptedAt).Hours() / 24)
	if ageDays < 7 {
		return false
	}

	var expected int
	if ageDays <= 30 {
		expected = ageDays / 7
	} else {
		expected = 4 + (ageDays-30)/30
	}
	return a.WeeksTracked < expected
}

// ShouldPropose reports whether a session warrants a replacement
// proposal notification: friction HIGH or CRITICAL, intent inferred, and
// not already notified. Event-triggered with per-id dedup, not polled.
func ShouldPropose(s model.WorkflowSession, state *State) bool {
	if !s.FrictionLevel.High() {
		return false
	}
	if !s.Analyzed() {
		return false
	}
	_, seen := state.NotifiedSessions[s.ID]
	return !seen
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

func sorted(times []TimeOfDay) []TimeOfDay {
	out := make([]TimeOfDay, len(times))
	copy(out, times)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && earlier(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func earlier(a, b TimeOfDay) bool {
	if a.Hour != b.Hour {
		return a.Hour < b.Hour
	}
	return a.Minute < b.Minute
}
