package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/flowx/internal/model"
)

// SessionsJSON exports sessions as an indented JSON array. Raw events
// are stripped; they are verbose and rarely useful downstream.
func SessionsJSON(sessions []model.WorkflowSession) (string, error) {
	stripped := make([]model.WorkflowSession, len(sessions))
	for i, s := range sessions {
		s.Events = nil
		stripped[i] = s
	}
	b, err := json.MarshalIndent(stripped, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling sessions: %w", err)
	}
	return string(b), nil
}

// SessionsCSV exports sessions as CSV, one row per session. Apps are
// pipe-joined in a single cell.
func SessionsCSV(sessions []model.WorkflowSession) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	header := []string{
		"id", "start_time", "end_time", "duration_minutes", "apps",
		"context_switches", "friction_rate", "friction_level", "intent",
		"confidence", "friction_details", "user_validated", "user_label",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, s := range sessions {
		row := []string{
			s.ID,
			s.StartTime.Format(time.RFC3339),
			s.EndTime.Format(time.RFC3339),
			fmt.Sprintf("%.1f", s.TotalDurationMinutes),
			strings.Join(s.AppsUsed, "|"),
			strconv.Itoa(s.ContextSwitches),
			fmt.Sprintf("%.2f", s.FrictionRate),
			string(s.FrictionLevel),
			s.Intent,
			fmt.Sprintf("%.2f", s.Confidence),
			s.FrictionDetails,
			strconv.FormatBool(s.UserValidated),
			s.UserLabel,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}

// PatternsJSON exports patterns as an indented JSON array.
func PatternsJSON(patterns []model.Pattern) (string, error) {
	b, err := json.MarshalIndent(patterns, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling patterns: %w", err)
	}
	return string(b), nil
}

// PatternsCSV exports patterns as CSV.
func PatternsCSV(patterns []model.Pattern) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	header := []string{
		"id", "intent", "occurrences", "avg_duration_minutes", "total_minutes",
		"avg_friction_rate", "most_common_friction", "apps_involved",
		"first_seen", "last_seen",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, p := range patterns {
		row := []string{
			p.ID,
			p.Intent,
			strconv.Itoa(p.Occurrences),
			fmt.Sprintf("%.1f", p.AvgDurationMinutes),
			fmt.Sprintf("%.1f", p.TotalMinutes),
			fmt.Sprintf("%.2f", p.AvgFrictionRate),
			string(p.MostCommonFriction),
			strings.Join(p.AppsInvolved, "|"),
			p.FirstSeen.Format(time.RFC3339),
			p.LastSeen.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}
