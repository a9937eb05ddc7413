package schedule

import (
	"testing"
	"time"

	"github.com/kalambet/flowx/internal/model"
)

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestNextFireTime(t *testing.T) {
	tests := []struct {
		name  string
		spec  StageSpec
		after time.Time
		want  time.Time
	}{
		{
			"next slot same day",
			AnalyzeSpec,
			at(2026, 3, 4, 14, 0), // Wednesday
			at(2026, 3, 4, 18, 0),
		},
		{
			"past last slot rolls to next day",
			AnalyzeSpec,
			at(2026, 3, 4, 23, 30),
			at(2026, 3, 5, 13, 0),
		},
		{
			"slot at exactly after is skipped",
			MeasureSpec,
			at(2026, 3, 4, 7, 0),
			at(2026, 3, 5, 7, 0),
		},
		{
			"weekday-only skips the weekend",
			BriefSpec,
			at(2026, 3, 6, 9, 0), // Friday after the brief slot
			at(2026, 3, 9, 8, 30), // Monday
		},
		{
			"capture runs on saturdays",
			CaptureSpec,
			at(2026, 3, 7, 0, 0), // Saturday
			at(2026, 3, 7, 12, 55),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextFireTime(tt.spec, tt.after)
			if !ok {
				t.Fatal("NextFireTime found no slot inside the horizon")
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextFireTime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextFireTimeEmptySpec(t *testing.T) {
	if _, ok := NextFireTime(StageSpec{}, at(2026, 3, 4, 12, 0)); ok {
		t.Error("spec without slots must report no fire time")
	}
}

func TestNextFireTimeUnsortedSlots(t *testing.T) {
	spec := StageSpec{Times: []TimeOfDay{{18, 0}, {13, 0}}}
	got, ok := NextFireTime(spec, at(2026, 3, 4, 9, 0))
	if !ok || !got.Equal(at(2026, 3, 4, 13, 0)) {
		t.Errorf("NextFireTime = %v, want the earliest slot regardless of declaration order", got)
	}
}

func TestDue(t *testing.T) {
	tests := []struct {
		name    string
		lastRun time.Time
		now     time.Time
		want    bool
	}{
		{
			"slot passed since last run",
			at(2026, 3, 4, 13, 5),
			at(2026, 3, 4, 18, 1),
			true,
		},
		{
			"no slot since last run",
			at(2026, 3, 4, 13, 5),
			at(2026, 3, 4, 17, 0),
			false,
		},
		{
			"never ran picks up today's missed slot",
			time.Time{},
			at(2026, 3, 4, 13, 30),
			true,
		},
		{
			"never ran before any slot today",
			time.Time{},
			at(2026, 3, 4, 6, 0),
			true, // yesterday's 23:00 slot is within the 24h baseline
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Due(AnalyzeSpec, tt.lastRun, tt.now); got != tt.want {
				t.Errorf("Due = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldMeasure(t *testing.T) {
	adopted := at(2026, 3, 2, 9, 0)
	tests := []struct {
		name         string
		ageDays      int
		weeksTracked int
		want         bool
	}{
		{"first week is never measured", 3, 0, false},
		{"day 6 still not due", 6, 0, false},
		{"day 7 due for first measurement", 7, 0, true},
		{"day 8 already measured once", 8, 1, false},
		{"day 14 due for second", 14, 1, true},
		{"day 30 caught up at four", 30, 4, false},
		{"day 45 still four expected", 45, 4, false},
		{"day 60 fifth measurement due", 60, 4, true},
		{"day 60 caught up at five", 60, 5, false},
		{"never measured stays due", 60, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := model.Adoption{AdoptedAt: adopted, WeeksTracked: tt.weeksTracked}
			now := adopted.AddDate(0, 0, tt.ageDays)
			if got := ShouldMeasure(a, now); got != tt.want {
				t.Errorf("ShouldMeasure(age=%d, tracked=%d) = %v, want %v",
					tt.ageDays, tt.weeksTracked, got, tt.want)
			}
		})
	}
}

func TestShouldProposeOncePerSession(t *testing.T) {
	now := at(2026, 3, 4, 13, 0)
	s := model.WorkflowSession{
		ID:            "abc123def456",
		FrictionLevel: model.FrictionCritical,
		Intent:        "competitive research on pricing",
		Confidence:    0.9,
	}
	state := NewState()

	if !ShouldPropose(s, state) {
		t.Fatal("first sighting of a critical session must propose")
	}
	state.MarkNotified([]string{s.ID}, now)
	if ShouldPropose(s, state) {
		t.Error("already-notified session must not propose again")
	}

	// Retention pruning re-opens the session for proposal.
	state.Prune(now.AddDate(0, 0, RetentionDays+1))
	if !ShouldPropose(s, state) {
		t.Error("pruned session must be proposable again")
	}
}

func TestShouldProposeRequiresHighFrictionAndIntent(t *testing.T) {
	state := NewState()
	tests := []struct {
		name    string
		session model.WorkflowSession
		want    bool
	}{
		{
			"medium friction never proposes",
			model.WorkflowSession{ID: "a", FrictionLevel: model.FrictionMedium, Intent: "x"},
			false,
		},
		{
			"high friction without intent waits for analysis",
			model.WorkflowSession{ID: "b", FrictionLevel: model.FrictionHigh},
			false,
		},
		{
			"failed inference never proposes",
			model.WorkflowSession{ID: "c", FrictionLevel: model.FrictionHigh, Intent: model.InferenceFailed},
			false,
		},
		{
			"high friction with intent proposes",
			model.WorkflowSession{ID: "d", FrictionLevel: model.FrictionHigh, Intent: "x"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldPropose(tt.session, state); got != tt.want {
				t.Errorf("ShouldPropose = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatePruneKeepsRecentEntries(t *testing.T) {
	now := at(2026, 3, 4, 12, 0)
	state := NewState()
	state.MarkNotified([]string{"old"}, now.AddDate(0, 0, -RetentionDays-5))
	state.MarkNotified([]string{"recent"}, now.AddDate(0, 0, -1))
	state.MarkPatternTrigger("pat_old", now.AddDate(0, 0, -RetentionDays-5))
	state.MarkPatternTrigger("pat_recent", now)

	state.Prune(now)

	if _, ok := state.NotifiedSessions["old"]; ok {
		t.Error("stale notified entry survived pruning")
	}
	if _, ok := state.NotifiedSessions["recent"]; !ok {
		t.Error("recent notified entry was pruned")
	}
	if _, ok := state.PatternTriggers["pat_old"]; ok {
		t.Error("stale pattern trigger survived pruning")
	}
	if _, ok := state.PatternTriggers["pat_recent"]; !ok {
		t.Error("recent pattern trigger was pruned")
	}
}

func TestStateNormalizeAllocatesNilMaps(t *testing.T) {
	var s State
	s.Normalize()
	s.MarkRun(StageAnalyze, at(2026, 3, 4, 13, 0))
	s.MarkNotified([]string{"a"}, at(2026, 3, 4, 13, 0))
	s.MarkPatternTrigger("p", at(2026, 3, 4, 13, 0))
	if len(s.LastRun) != 1 || len(s.NotifiedSessions) != 1 || len(s.PatternTriggers) != 1 {
		t.Errorf("normalized state rejected writes: %+v", s)
	}
}
