package pattern

import (
	"testing"
	"time"

	"github.com/kalambet/flowx/internal/model"
)

func session(id, intent string, day int, durationMin float64, rate float64, level model.FrictionLevel) model.WorkflowSession {
	start := time.Date(2026, 3, 2+day, 10, 0, 0, 0, time.UTC)
	return model.WorkflowSession{
		ID:                   id,
		StartTime:            start,
		EndTime:              start.Add(time.Duration(durationMin) * time.Minute),
		AppsUsed:             []string{"Browser", "Sheets"},
		TotalDurationMinutes: durationMin,
		FrictionRate:         rate,
		FrictionLevel:        level,
		Intent:               intent,
		Confidence:           0.9,
	}
}

func TestDetectGroupsSimilarIntents(t *testing.T) {
	sessions := []model.WorkflowSession{
		session("s1", "competitive research on pricing", 0, 40, 2.0, model.FrictionHigh),
		session("s2", "competitive research for pricing", 1, 50, 2.5, model.FrictionHigh),
		session("s3", "triage support tickets", 2, 20, 0.4, model.FrictionLow),
	}

	patterns := Detect(sessions, 0, 1)
	if len(patterns) != 2 {
		t.Fatalf("got %d patterns, want 2", len(patterns))
	}

	// Sorted by total time: the research pattern (90 min) comes first.
	p := patterns[0]
	if p.Occurrences != 2 {
		t.Errorf("Occurrences = %d, want 2", p.Occurrences)
	}
	if p.Intent != "competitive research on pricing" {
		t.Errorf("representative intent = %q, want the first-seen intent", p.Intent)
	}
	if len(p.SessionIDs) != 2 {
		t.Errorf("SessionIDs = %v, want s1 and s2", p.SessionIDs)
	}
	if p.TotalMinutes != 90 {
		t.Errorf("TotalMinutes = %v, want 90", p.TotalMinutes)
	}
	if p.FirstSeen.After(p.LastSeen) {
		t.Errorf("FirstSeen %v after LastSeen %v", p.FirstSeen, p.LastSeen)
	}
}

func TestDetectMinOccurrencesDropsSingletons(t *testing.T) {
	sessions := []model.WorkflowSession{
		session("s1", "competitive research on pricing", 0, 40, 2.0, model.FrictionHigh),
		session("s2", "competitive research for pricing", 1, 50, 2.5, model.FrictionHigh),
		session("s3", "triage support tickets", 2, 20, 0.4, model.FrictionLow),
	}

	patterns := Detect(sessions, 0, 0) // defaults: threshold 0.55, min 2
	if len(patterns) != 1 {
		t.Fatalf("got %d patterns, want 1 (singleton dropped)", len(patterns))
	}
}

func TestDetectSkipsUnanalyzedSessions(t *testing.T) {
	s1 := session("s1", "", 0, 10, 1, model.FrictionMedium)
	s2 := session("s2", model.InferenceFailed, 1, 10, 1, model.FrictionMedium)
	if got := Detect([]model.WorkflowSession{s1, s2}, 0, 1); got != nil {
		t.Errorf("Detect over unanalyzed sessions = %v, want nil", got)
	}
}

func TestDetectFirstMatchWins(t *testing.T) {
	// s3 is similar to both earlier clusters; first-match-wins attaches it
	// to the chronologically first one, not the best-scoring one.
	sessions := []model.WorkflowSession{
		session("s1", "answering customer support email", 0, 30, 1.0, model.FrictionMedium),
		session("s2", "triage customer support inbox", 1, 30, 1.0, model.FrictionMedium),
		session("s3", "triage customer support inbox daily", 2, 30, 1.0, model.FrictionMedium),
	}

	patterns := Detect(sessions, 0, 1)
	if len(patterns) != 1 {
		t.Fatalf("got %d patterns, want 1", len(patterns))
	}
	if patterns[0].Occurrences != 3 {
		t.Errorf("Occurrences = %d, want 3", patterns[0].Occurrences)
	}
	if patterns[0].Intent != "answering customer support email" {
		t.Errorf("representative = %q, want first-seen intent", patterns[0].Intent)
	}
}

func TestDetectRerunConverges(t *testing.T) {
	sessions := []model.WorkflowSession{
		session("s1", "competitive research on pricing", 0, 40, 2.0, model.FrictionHigh),
		session("s2", "competitive research for pricing", 1, 50, 2.5, model.FrictionHigh),
	}

	first := Detect(sessions, 0, 0)
	second := Detect(sessions, 0, 0)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected exactly one pattern on both runs")
	}
	if first[0].ID != second[0].ID {
		t.Errorf("pattern id drifted across reruns: %q vs %q", first[0].ID, second[0].ID)
	}
	if first[0].AvgFrictionRate != second[0].AvgFrictionRate {
		t.Errorf("pattern stats drifted across reruns")
	}
}

func TestPatternIDDeterministic(t *testing.T) {
	a := PatternID("Competitive Research on Pricing ")
	b := PatternID("competitive research on pricing")
	if a != b {
		t.Errorf("PatternID should normalize case/whitespace: %q vs %q", a, b)
	}
}
