// Package report renders analysis results as plain text for the CLI and
// the morning brief notification. Not a dashboard: a clear answer to
// "where did my time go, and what should I change?".
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/flowx/internal/measure"
	"github.com/kalambet/flowx/internal/model"
)

// DefaultHourlyRateUSD prices high-friction time in reports.
const DefaultHourlyRateUSD = 75.0

// maxDailySessions caps the per-session listing in the daily report.
const maxDailySessions = 8

// Daily renders the plain-text daily workflow report.
func Daily(sessions []model.WorkflowSession, hourlyRate float64, now time.Time) string {
	if len(sessions) == 0 {
		return "No workflow sessions recorded today."
	}

	var totalMin float64
	totalSwitches := 0
	var highFriction []model.WorkflowSession
	for _, s := range sessions {
		totalMin += s.TotalDurationMinutes
		totalSwitches += s.ContextSwitches
		if s.FrictionLevel.High() {
			highFriction = append(highFriction, s)
		}
	}

	var sb strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&sb, "%s\n", rule)
	fmt.Fprintf(&sb, "  DAILY WORKFLOW REPORT — %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&sb, "%s\n\n", rule)
	fmt.Fprintf(&sb, "  Sessions: %d\n", len(sessions))
	fmt.Fprintf(&sb, "  Total time tracked: %.0f min (%.1f hrs)\n", totalMin, totalMin/60)
	fmt.Fprintf(&sb, "  Context switches: %d\n\n", totalSwitches)

	if len(highFriction) > 0 {
		var frictionMin float64
		for _, s := range highFriction {
			frictionMin += s.TotalDurationMinutes
		}
		cost := frictionMin / 60 * hourlyRate
		fmt.Fprintf(&sb, "  !! HIGH-FRICTION SESSIONS: %d\n", len(highFriction))
		fmt.Fprintf(&sb, "     Time in friction: %.0f min\n", frictionMin)
		fmt.Fprintf(&sb, "     Estimated cost: $%.0f\n\n", cost)
	}

	fmt.Fprintf(&sb, "  TOP SESSIONS (by duration)\n")
	fmt.Fprintf(&sb, "  %s\n", strings.Repeat("-", 54))
	for i, s := range topByDuration(sessions, maxDailySessions) {
		marker := ""
		if s.FrictionLevel.High() {
			marker = " !!"
		}
		fmt.Fprintf(&sb, "  %d. [%s-%s] %.0fmin | %s%s\n",
			i+1, s.StartTime.Format("15:04"), s.EndTime.Format("15:04"),
			s.TotalDurationMinutes, strings.Join(firstN(s.AppsUsed, 3), ", "), marker)
		if s.Analyzed() {
			fmt.Fprintf(&sb, "     Intent: %s (conf: %.0f%%)\n", s.Intent, s.Confidence*100)
		}
		if s.FrictionDetails != "" {
			fmt.Fprintf(&sb, "     Friction: %s\n", truncate(s.FrictionDetails, 80))
		}
		sb.WriteString("\n")
	}

	shortRule := strings.Repeat("=", 54)
	fmt.Fprintf(&sb, "  %s\n", shortRule)
	if len(highFriction) > 0 {
		fmt.Fprintf(&sb, "  ACTION: %d sessions had high friction.\n", len(highFriction))
		fmt.Fprintf(&sb, "  Run 'flowx validate' to confirm what these were,\n")
		fmt.Fprintf(&sb, "  then adopt a replacement and track it with 'flowx adopt'.\n")
	} else {
		fmt.Fprintf(&sb, "  All sessions had low friction today. Nice.\n")
	}
	fmt.Fprintf(&sb, "  %s", shortRule)

	return sb.String()
}

// MorningBrief formats the concise morning notification. Only counts
// yesterday's sessions — today's day hasn't started yet.
func MorningBrief(sessions []model.WorkflowSession, adoptions []model.Adoption, pendingQuestions int, now time.Time) (title, message string) {
	yesterday := now.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()

	var yesterdaySessions []model.WorkflowSession
	critical, high := 0, 0
	for _, s := range sessions {
		sy, sm, sd := s.StartTime.Date()
		if sy != yy || sm != ym || sd != yd {
			continue
		}
		yesterdaySessions = append(yesterdaySessions, s)
		switch s.FrictionLevel {
		case model.FrictionCritical:
			critical++
		case model.FrictionHigh:
			high++
		}
	}

	measuring := 0
	for _, a := range adoptions {
		if a.Status == model.AdoptionMeasuring {
			measuring++
		}
	}

	if len(yesterdaySessions) == 0 {
		return "FlowX Morning Brief", "No data yet — run 'flowx capture' to start."
	}

	var parts []string
	if critical > 0 {
		parts = append(parts, fmt.Sprintf("%d CRITICAL", critical))
	}
	if high > 0 {
		parts = append(parts, fmt.Sprintf("%d HIGH friction", high))
	}
	if pendingQuestions > 0 {
		parts = append(parts, fmt.Sprintf("%d pending %s", pendingQuestions, plural(pendingQuestions, "validation")))
	}
	if measuring > 0 {
		parts = append(parts, fmt.Sprintf("%d %s in progress", measuring, plural(measuring, "replacement")))
	}

	title = fmt.Sprintf("FlowX — %d %s yesterday", len(yesterdaySessions), plural(len(yesterdaySessions), "session"))
	if len(parts) == 0 {
		return title, "All sessions low friction"
	}
	return title, strings.Join(parts, " | ")
}

// Patterns renders the detected pattern list, most expensive first.
func Patterns(patterns []model.Pattern) string {
	if len(patterns) == 0 {
		return "No recurring patterns detected yet."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  RECURRING PATTERNS (by total time)\n")
	fmt.Fprintf(&sb, "  %s\n", strings.Repeat("-", 54))
	for i, p := range patterns {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, p.Intent)
		fmt.Fprintf(&sb, "     %dx, %.0f min total, avg friction %.1f (%s)\n",
			p.Occurrences, p.TotalMinutes, p.AvgFrictionRate, p.MostCommonFriction)
		if len(p.AppsInvolved) > 0 {
			fmt.Fprintf(&sb, "     Apps: %s\n", strings.Join(firstN(p.AppsInvolved, 5), ", "))
		}
	}
	return sb.String()
}

// Trends renders the weekly friction trend with its direction.
func Trends(trends []model.FrictionTrend, direction model.TrendDirection) string {
	if len(trends) == 0 {
		return "Not enough data for a trend yet."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  WEEKLY FRICTION TREND: %s\n", strings.ToUpper(string(direction)))
	fmt.Fprintf(&sb, "  %s\n", strings.Repeat("-", 54))
	for _, tr := range trends {
		fmt.Fprintf(&sb, "  %s  %2d sessions, %5.0f min, mean rate %.2f, %.0f min high-friction\n",
			tr.WeekStart.Format("Jan 02"), tr.TotalSessions, tr.TotalMinutes,
			tr.MeanFrictionRate, tr.HighFrictionMinutes)
	}
	return sb.String()
}

// ROI renders the adoption summary.
func ROI(summary measure.Summary, hourlyRate float64) string {
	if summary.Total == 0 {
		return "No adoptions tracked yet. Use 'flowx adopt' after replacing a workflow."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "  ADOPTION ROI\n")
	fmt.Fprintf(&sb, "  %s\n", strings.Repeat("-", 54))
	fmt.Fprintf(&sb, "  Tracked: %d (%d working, %d measuring, %d rejected)\n",
		summary.Total, summary.Working, summary.Measuring, summary.Rejected)
	fmt.Fprintf(&sb, "  Weekly savings: %.0f min (%.1f hrs, $%.0f at $%.0f/hr)\n",
		summary.WeeklySavingsMinutes, summary.WeeklySavingsMinutes/60,
		summary.WeeklySavingsMinutes/60*hourlyRate, hourlyRate)
	fmt.Fprintf(&sb, "  Cumulative savings: %.0f min (%.1f hrs)\n",
		summary.CumulativeSavingsMinutes, summary.CumulativeSavingsMinutes/60)
	return sb.String()
}

func topByDuration(sessions []model.WorkflowSession, n int) []model.WorkflowSession {
	sorted := make([]model.WorkflowSession, len(sessions))
	copy(sorted, sessions)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].TotalDurationMinutes > sorted[j-1].TotalDurationMinutes; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
