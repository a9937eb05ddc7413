package pattern

import (
	"sort"
	"time"

	"github.com/kalambet/flowx/internal/model"
)

// trendTolerance is the band (±10%) within which week-over-week movement
// counts as flat, so a noisy week does not flap the direction.
const trendTolerance = 0.10

// WeekStart returns the start of t's week, aligned to weekBoundary
// (Monday by default) at midnight in t's location.
func WeekStart(t time.Time, weekBoundary time.Weekday) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) - int(weekBoundary) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

// WeeklyTrends partitions session history into week-aligned buckets and
// computes the mean friction rate per week, oldest first.
func WeeklyTrends(sessions []model.WorkflowSession, weekBoundary time.Weekday) []model.FrictionTrend {
	if len(sessions) == 0 {
		return nil
	}

	buckets := map[time.Time][]model.WorkflowSession{}
	for _, s := range sessions {
		ws := WeekStart(s.StartTime, weekBoundary)
		buckets[ws] = append(buckets[ws], s)
	}

	weeks := make([]time.Time, 0, len(buckets))
	for ws := range buckets {
		weeks = append(weeks, ws)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Before(weeks[j]) })

	trends := make([]model.FrictionTrend, 0, len(weeks))
	for _, ws := range weeks {
		group := buckets[ws]
		var totalMinutes, highMinutes, rateSum float64
		for _, s := range group {
			totalMinutes += s.TotalDurationMinutes
			rateSum += s.FrictionRate
			if s.FrictionLevel.High() {
				highMinutes += s.TotalDurationMinutes
			}
		}
		trends = append(trends, model.FrictionTrend{
			WeekStart:           ws,
			TotalSessions:       len(group),
			TotalMinutes:        round1(totalMinutes),
			MeanFrictionRate:    round1(rateSum / float64(len(group))),
			HighFrictionMinutes: round1(highMinutes),
		})
	}
	return trends
}

// Direction compares the most recent weekly bucket against the prior one.
// Movement inside the tolerance band is flat; with fewer than two weeks
// of data there is nothing to compare, so the answer is flat.
func Direction(trends []model.FrictionTrend) model.TrendDirection {
	if len(trends) < 2 {
		return model.TrendFlat
	}
	prev := trends[len(trends)-2].MeanFrictionRate
	last := trends[len(trends)-1].MeanFrictionRate

	if prev == 0 {
		if last == 0 {
			return model.TrendFlat
		}
		return model.TrendWorsening
	}
	switch {
	case last > prev*(1+trendTolerance):
		return model.TrendWorsening
	case last < prev*(1-trendTolerance):
		return model.TrendImproving
	default:
		return model.TrendFlat
	}
}
