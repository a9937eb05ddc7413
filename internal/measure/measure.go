// Package measure implements before/after adoption measurement: given a
// user-declared baseline for an intent, it tracks how much time recent
// sessions matching that intent actually cost, and whether the adopted
// replacement is paying off.
package measure

import (
	"log/slog"
	"math"
	"time"

	"github.com/kalambet/flowx/internal/model"
	"github.com/kalambet/flowx/internal/pattern"
)

const (
	weeklyWindowDays  = 7
	monthlyWindowDays = 30

	// adaptiveCutoverDays is the adoption age at which measurement
	// windows widen from weekly to monthly.
	adaptiveCutoverDays = 30
)

// Result is the outcome of one measurement pass.
type Result struct {
	Adoption   model.Adoption
	Sufficient bool // false when no matching sessions fell in the window
	Matched    int
	WindowDays int
}

// WindowDays returns the measurement window length for an adoption of the
// given age: weekly through day 29, monthly from day 30 onward.
func WindowDays(adoptedAt, now time.Time) int {
	if ageDays(adoptedAt, now) < adaptiveCutoverDays {
		return weeklyWindowDays
	}
	return monthlyWindowDays
}

// Measure sums the duration of sessions since the window cutoff whose
// intent matches the adoption's intent label, scales that to a per-week
// figure, and compares it against the declared baseline.
//
// No matching sessions is a normal early-adoption state, reported as
// Sufficient=false with the adoption untouched — never an error.
func Measure(a model.Adoption, sessions []model.WorkflowSession, now time.Time) Result {
	windowDays := WindowDays(a.AdoptedAt, now)
	cutoff := now.AddDate(0, 0, -windowDays)
	if cutoff.Before(a.AdoptedAt) {
		cutoff = a.AdoptedAt
	}

	var matchedMinutes float64
	matched := 0
	for _, s := range sessions {
		if s.StartTime.Before(cutoff) || !s.Analyzed() {
			continue
		}
		if pattern.IntentSimilarity(s.Intent, a.Intent) >= pattern.SimilarityThreshold {
			matchedMinutes += s.TotalDurationMinutes
			matched++
		}
	}

	if matched == 0 {
		slog.Info("adoption measurement: insufficient data",
			"intent", a.Intent,
			"window_days", windowDays,
		)
		return Result{Adoption: a, Sufficient: false, WindowDays: windowDays}
	}

	weeklyMinutes := matchedMinutes / (float64(windowDays) / 7.0)

	a.AfterMinutesPerWeek = round1(weeklyMinutes)
	a.SavingsMinutesPerWeek = round1(a.BeforeMinutesPerWeek - a.AfterMinutesPerWeek)
	a.WeeksTracked++
	a.CumulativeSavingsMinutes = round1(a.SavingsMinutesPerWeek * float64(a.WeeksTracked))
	a.Status = status(a)

	slog.Info("adoption measured",
		"intent", a.Intent,
		"before", a.BeforeMinutesPerWeek,
		"after", a.AfterMinutesPerWeek,
		"savings", a.SavingsMinutesPerWeek,
		"status", a.Status,
	)
	return Result{Adoption: a, Sufficient: true, Matched: matched, WindowDays: windowDays}
}

// status classifies the adoption: positive savings means the replacement
// is working; two or more tracked weeks without savings means it is not.
func status(a model.Adoption) model.AdoptionStatus {
	switch {
	case a.SavingsMinutesPerWeek > 0:
		return model.AdoptionWorking
	case a.WeeksTracked >= 2:
		return model.AdoptionRejected
	default:
		return model.AdoptionMeasuring
	}
}

// Summary aggregates ROI across all tracked adoptions.
type Summary struct {
	Total                    int     `json:"total"`
	Working                  int     `json:"working"`
	Rejected                 int     `json:"rejected"`
	Measuring                int     `json:"measuring"`
	WeeklySavingsMinutes     float64 `json:"weekly_savings_minutes"`
	CumulativeSavingsMinutes float64 `json:"cumulative_savings_minutes"`
}

// Summarize rolls tracked adoptions up into a single ROI view. Only
// adoptions whose replacement is working contribute savings.
func Summarize(adoptions []model.Adoption) Summary {
	var s Summary
	s.Total = len(adoptions)
	for _, a := range adoptions {
		switch a.Status {
		case model.AdoptionWorking:
			s.Working++
			s.WeeklySavingsMinutes += a.SavingsMinutesPerWeek
			s.CumulativeSavingsMinutes += a.CumulativeSavingsMinutes
		case model.AdoptionRejected:
			s.Rejected++
		default:
			s.Measuring++
		}
	}
	s.WeeklySavingsMinutes = round1(s.WeeklySavingsMinutes)
	s.CumulativeSavingsMinutes = round1(s.CumulativeSavingsMinutes)
	return s
}

func ageDays(adoptedAt, now time.Time) int {
	return int(now.Sub(adoptedAt).Hours() / 24)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
