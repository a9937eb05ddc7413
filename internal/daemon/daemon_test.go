package daemon

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/flowx/internal/capture"
	"github.com/kalambet/flowx/internal/cluster"
	"github.com/kalambet/flowx/internal/infer"
	"github.com/kalambet/flowx/internal/llm"
	"github.com/kalambet/flowx/internal/model"
	"github.com/kalambet/flowx/internal/schedule"
	"github.com/kalambet/flowx/internal/storage"
)

type stubSource struct {
	events []model.RawEvent
	up     bool
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Available(context.Context) bool { return s.up }

func (s *stubSource) Read(context.Context, time.Time, time.Time) ([]model.RawEvent, error) {
	return s.events, nil
}

type stubChatter struct {
	response string
}

func (c *stubChatter) Chat(context.Context, string, []llm.Message, *llm.Schema) (string, error) {
	return c.response, nil
}

type recordingNotifier struct {
	titles   []string
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, title, message string) error {
	n.titles = append(n.titles, title)
	n.messages = append(n.messages, message)
	return nil
}

func newTestDaemon(t *testing.T, source *stubSource, chatResponse string) (*Daemon, *storage.Store, *recordingNotifier) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	inferrer := infer.New(&stubChatter{response: chatResponse}, "test-model")
	d := New(store, []capture.Source{source}, inferrer, notifier, cluster.Options{})
	return d, store, notifier
}

// frictionEvents builds a burst of rapid app switches: 21 events 30s
// apart alternating between two apps, a 2.0 switches/min rate.
func frictionEvents(start time.Time) []model.RawEvent {
	apps := []string{"Mail", "Sheets"}
	events := make([]model.RawEvent, 0, 21)
	for i := 0; i < 21; i++ {
		events = append(events, model.RawEvent{
			Timestamp:   start.Add(time.Duration(i) * 30 * time.Second),
			Source:      model.SourceManual,
			AppName:     apps[i%2],
			WindowTitle: fmt.Sprintf("invoice %d", i),
		})
	}
	return events
}

const confidentResponse = `{"intent": "invoice processing", "confidence": 0.9, "friction_details": "constant mail and sheets hopping"}`

func TestTickAnalyzeInfersAndProposes(t *testing.T) {
	now := time.Date(2026, 3, 2, 13, 5, 0, 0, time.UTC)
	d, store, notifier := newTestDaemon(t, &stubSource{up: true}, confidentResponse)

	if err := store.SaveEvents(frictionEvents(now.Add(-2 * time.Hour))); err != nil {
		t.Fatalf("seeding events: %v", err)
	}

	// Only the 13:00 analyze slot is due.
	state := schedule.NewState()
	state.MarkRun(schedule.StageCapture, now.Add(-time.Minute))
	state.MarkRun(schedule.StageAnalyze, now.Add(-time.Hour))
	state.MarkRun(schedule.StageMeasure, now.Add(-time.Hour))
	state.MarkRun(schedule.StageBrief, now.Add(-time.Hour))

	d.Tick(context.Background(), state, now)

	sessions, err := store.SessionsBetween(now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("loading sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.Intent != "invoice processing" {
		t.Errorf("intent = %q", s.Intent)
	}
	if !s.FrictionLevel.High() {
		t.Errorf("friction level = %q, want high or critical", s.FrictionLevel)
	}

	if len(notifier.titles) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.titles))
	}
	if !strings.Contains(notifier.messages[0], "invoice processing") {
		t.Errorf("proposal message = %q", notifier.messages[0])
	}

	if !state.LastRun[schedule.StageAnalyze].Equal(now) {
		t.Errorf("analyze last run = %v", state.LastRun[schedule.StageAnalyze])
	}
	if _, err := store.GetStateValue("scheduler"); err != nil {
		t.Errorf("scheduler state not persisted: %v", err)
	}

	// A second tick at the same instant must be a no-op: the slot already
	// ran and the session was already proposed.
	d.Tick(context.Background(), state, now)
	if len(notifier.titles) != 1 {
		t.Errorf("got %d notifications after second tick, want 1", len(notifier.titles))
	}
}

func TestTickAnalyzePreservesValidatedIntent(t *testing.T) {
	now := time.Date(2026, 3, 2, 13, 5, 0, 0, time.UTC)
	d, store, _ := newTestDaemon(t, &stubSource{up: true}, confidentResponse)

	events := frictionEvents(now.Add(-2 * time.Hour))
	if err := store.SaveEvents(events); err != nil {
		t.Fatalf("seeding events: %v", err)
	}

	state := schedule.NewState()
	state.MarkRun(schedule.StageCapture, now.Add(-time.Minute))
	state.MarkRun(schedule.StageAnalyze, now.Add(-time.Hour))
	state.MarkRun(schedule.StageMeasure, now.Add(-time.Hour))
	state.MarkRun(schedule.StageBrief, now.Add(-time.Hour))
	d.Tick(context.Background(), state, now)

	sessions, err := store.SessionsBetween(now.Add(-24*time.Hour), now)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %d, err = %v", len(sessions), err)
	}
	if err := store.ValidateSession(sessions[0].ID, "monthly invoicing"); err != nil {
		t.Fatalf("validating: %v", err)
	}

	// Re-analyze at the evening slot. The user's label must survive.
	later := time.Date(2026, 3, 2, 18, 5, 0, 0, time.UTC)
	state.MarkRun(schedule.StageCapture, later.Add(-time.Minute))
	d.Tick(context.Background(), state, later)

	got, err := store.GetSession(sessions[0].ID)
	if err != nil {
		t.Fatalf("reading session: %v", err)
	}
	if got.Intent != "monthly invoicing" || !got.UserValidated {
		t.Errorf("intent = %q, validated = %v", got.Intent, got.UserValidated)
	}
}

func TestTickAnalyzeRetriesFailedInference(t *testing.T) {
	now := time.Date(2026, 3, 2, 13, 5, 0, 0, time.UTC)
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	chatter := &stubChatter{response: "ollama is having a day"}
	notifier := &recordingNotifier{}
	d := New(store, []capture.Source{&stubSource{up: true}}, infer.New(chatter, "test-model"), notifier, cluster.Options{})

	if err := store.SaveEvents(frictionEvents(now.Add(-2 * time.Hour))); err != nil {
		t.Fatalf("seeding events: %v", err)
	}

	state := schedule.NewState()
	state.MarkRun(schedule.StageCapture, now.Add(-time.Minute))
	state.MarkRun(schedule.StageAnalyze, now.Add(-time.Hour))
	state.MarkRun(schedule.StageMeasure, now.Add(-time.Hour))
	state.MarkRun(schedule.StageBrief, now.Add(-time.Hour))
	d.Tick(context.Background(), state, now)

	sessions, err := store.SessionsBetween(now.Add(-24*time.Hour), now)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %d, err = %v", len(sessions), err)
	}
	if sessions[0].Intent != model.InferenceFailed {
		t.Fatalf("intent = %q, want failure marker", sessions[0].Intent)
	}
	if len(notifier.titles) != 0 {
		t.Fatalf("got %d notifications for an unanalyzed session, want 0", len(notifier.titles))
	}

	// The model recovers before the evening slot; the failed session
	// must be retried, not skipped.
	chatter.response = confidentResponse
	later := time.Date(2026, 3, 2, 18, 5, 0, 0, time.UTC)
	state.MarkRun(schedule.StageCapture, later.Add(-time.Minute))
	d.Tick(context.Background(), state, later)

	got, err := store.GetSession(sessions[0].ID)
	if err != nil {
		t.Fatalf("reading session: %v", err)
	}
	if got.Intent != "invoice processing" {
		t.Errorf("intent = %q after retry, want %q", got.Intent, "invoice processing")
	}
	if len(notifier.titles) != 1 {
		t.Errorf("got %d notifications after retry, want 1 proposal", len(notifier.titles))
	}
}

func TestTickAnalyzeNotifiesOnNewQuestions(t *testing.T) {
	now := time.Date(2026, 3, 2, 13, 5, 0, 0, time.UTC)
	unsure := `{"intent": "expense filing", "confidence": 0.4, "friction_details": ""}`
	d, store, notifier := newTestDaemon(t, &stubSource{up: true}, unsure)

	// A calm single-app session: no friction proposal competes with the
	// clarification notice.
	start := now.Add(-2 * time.Hour)
	var events []model.RawEvent
	for i := 0; i < 5; i++ {
		events = append(events, model.RawEvent{
			Timestamp:   start.Add(time.Duration(i) * 2 * time.Minute),
			Source:      model.SourceManual,
			AppName:     "Sheets",
			WindowTitle: "Q1 expenses",
		})
	}
	if err := store.SaveEvents(events); err != nil {
		t.Fatalf("seeding events: %v", err)
	}

	state := schedule.NewState()
	state.MarkRun(schedule.StageCapture, now.Add(-time.Minute))
	state.MarkRun(schedule.StageAnalyze, now.Add(-time.Hour))
	state.MarkRun(schedule.StageMeasure, now.Add(-time.Hour))
	state.MarkRun(schedule.StageBrief, now.Add(-time.Hour))
	d.Tick(context.Background(), state, now)

	pending, err := store.PendingQuestions()
	if err != nil {
		t.Fatalf("listing questions: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending questions = %d, want 1", len(pending))
	}
	if len(notifier.titles) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.titles))
	}
	if !strings.Contains(notifier.titles[0], "input needed") {
		t.Errorf("title = %q", notifier.titles[0])
	}
	if !strings.Contains(notifier.messages[0], "1 new session") {
		t.Errorf("message = %q", notifier.messages[0])
	}
}

func TestTickAnalyzeHonorsClusterOptions(t *testing.T) {
	now := time.Date(2026, 3, 2, 13, 5, 0, 0, time.UTC)
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// Events 6 minutes apart: singletons under the default 5-minute gap,
	// one session under a configured 10-minute gap.
	start := now.Add(-2 * time.Hour)
	apps := []string{"Mail", "Sheets"}
	var events []model.RawEvent
	for i := 0; i < 4; i++ {
		events = append(events, model.RawEvent{
			Timestamp:   start.Add(time.Duration(i) * 6 * time.Minute),
			Source:      model.SourceManual,
			AppName:     apps[i%2],
			WindowTitle: "invoices",
		})
	}
	if err := store.SaveEvents(events); err != nil {
		t.Fatalf("seeding events: %v", err)
	}

	opts := cluster.Options{GapMinutes: 10, MinEvents: 2}
	d := New(store, []capture.Source{&stubSource{up: true}}, infer.New(&stubChatter{response: confidentResponse}, "test-model"), &recordingNotifier{}, opts)

	state := schedule.NewState()
	state.MarkRun(schedule.StageCapture, now.Add(-time.Minute))
	state.MarkRun(schedule.StageAnalyze, now.Add(-time.Hour))
	state.MarkRun(schedule.StageMeasure, now.Add(-time.Hour))
	state.MarkRun(schedule.StageBrief, now.Add(-time.Hour))
	d.Tick(context.Background(), state, now)

	sessions, err := store.SessionsBetween(now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("loading sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions with a 10-minute gap, want 1", len(sessions))
	}
	if len(sessions[0].Events) != 4 {
		t.Errorf("session has %d events, want 4", len(sessions[0].Events))
	}
}

func TestCheckHealthAlertsOncePerOutage(t *testing.T) {
	source := &stubSource{up: false}
	d, _, notifier := newTestDaemon(t, source, confidentResponse)

	d.checkHealth(context.Background())
	d.checkHealth(context.Background())
	if len(notifier.titles) != 1 {
		t.Fatalf("got %d notifications for one outage, want 1", len(notifier.titles))
	}
	if !strings.Contains(notifier.titles[0], "offline") {
		t.Errorf("title = %q", notifier.titles[0])
	}
	if !strings.Contains(notifier.messages[0], "stub") {
		t.Errorf("message = %q", notifier.messages[0])
	}

	// Recovery re-arms the alert; the next outage fires again.
	source.up = true
	d.checkHealth(context.Background())
	source.up = false
	d.checkHealth(context.Background())
	if len(notifier.titles) != 2 {
		t.Errorf("got %d notifications across two outages, want 2", len(notifier.titles))
	}
}

func TestTickCaptureSavesEvents(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 56, 0, 0, time.UTC)
	source := &stubSource{up: true, events: []model.RawEvent{
		{Timestamp: now.Add(-time.Hour), Source: model.SourceScreenpipe, AppName: "Browser", WindowTitle: "docs"},
		{Timestamp: now.Add(-30 * time.Minute), Source: model.SourceScreenpipe, AppName: "Slack", WindowTitle: "team"},
	}}
	d, store, _ := newTestDaemon(t, source, confidentResponse)

	// Only the 12:55 capture slot is due.
	state := schedule.NewState()
	state.MarkRun(schedule.StageCapture, now.Add(-time.Hour))
	state.MarkRun(schedule.StageAnalyze, now.Add(-time.Minute))
	state.MarkRun(schedule.StageMeasure, now.Add(-time.Minute))
	state.MarkRun(schedule.StageBrief, now.Add(-time.Minute))

	d.Tick(context.Background(), state, now)

	events, err := store.EventsBetween(now.Add(-2*time.Hour), now)
	if err != nil {
		t.Fatalf("loading events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestRunBriefNotifies(t *testing.T) {
	now := time.Date(2026, 3, 3, 8, 31, 0, 0, time.UTC)
	d, store, notifier := newTestDaemon(t, &stubSource{up: true}, confidentResponse)

	yesterday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s := model.WorkflowSession{
		ID:                   "sess-brief",
		StartTime:            yesterday,
		EndTime:              yesterday.Add(30 * time.Minute),
		AppsUsed:             []string{"Mail"},
		TotalDurationMinutes: 30,
		ContextSwitches:      40,
		FrictionRate:         1.33,
		FrictionLevel:        model.FrictionCritical,
	}
	if err := store.UpsertSession(s); err != nil {
		t.Fatalf("seeding session: %v", err)
	}

	if err := d.runBrief(context.Background(), schedule.NewState(), now); err != nil {
		t.Fatalf("runBrief: %v", err)
	}
	if len(notifier.titles) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.titles))
	}
	if !strings.Contains(notifier.titles[0], "1 session yesterday") {
		t.Errorf("brief title = %q", notifier.titles[0])
	}
	if !strings.Contains(notifier.messages[0], "1 CRITICAL") {
		t.Errorf("brief message = %q", notifier.messages[0])
	}
}

func TestFlagPatternsNotifiesOncePerPattern(t *testing.T) {
	now := time.Date(2026, 3, 2, 13, 5, 0, 0, time.UTC)
	d, _, notifier := newTestDaemon(t, &stubSource{up: true}, confidentResponse)

	patterns := []model.Pattern{
		{
			ID:                 "pat_hot",
			Intent:             "invoice processing",
			Occurrences:        4,
			TotalMinutes:       120,
			MostCommonFriction: model.FrictionHigh,
		},
		{
			ID:                 "pat_calm",
			Intent:             "reading docs",
			Occurrences:        5,
			TotalMinutes:       200,
			MostCommonFriction: model.FrictionLow,
		},
		{
			ID:                 "pat_rare",
			Intent:             "quarterly filing",
			Occurrences:        2,
			TotalMinutes:       90,
			MostCommonFriction: model.FrictionCritical,
		},
	}

	state := schedule.NewState()
	d.flagPatterns(context.Background(), state, patterns, now)

	if len(notifier.titles) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.titles))
	}
	if !strings.Contains(notifier.messages[0], "invoice processing") {
		t.Errorf("message = %q", notifier.messages[0])
	}
	if _, ok := state.PatternTriggers["pat_hot"]; !ok {
		t.Errorf("pattern trigger not recorded: %v", state.PatternTriggers)
	}

	// Same patterns on the next run: already flagged, nothing new fires.
	d.flagPatterns(context.Background(), state, patterns, now.Add(time.Hour))
	if len(notifier.titles) != 1 {
		t.Errorf("got %d notifications after second pass, want 1", len(notifier.titles))
	}
}

func TestRunMeasureUpdatesDueAdoption(t *testing.T) {
	now := time.Date(2026, 3, 16, 7, 5, 0, 0, time.UTC)
	adopted := now.AddDate(0, 0, -14)
	d, store, _ := newTestDaemon(t, &stubSource{up: true}, confidentResponse)

	a := model.Adoption{
		ID:                   "adopt-1",
		Intent:               "weekly expense report",
		AdoptedAt:            adopted,
		BeforeMinutesPerWeek: 120,
		Status:               model.AdoptionMeasuring,
		WeeksTracked:         1,
	}
	if err := store.SaveAdoption(a); err != nil {
		t.Fatalf("seeding adoption: %v", err)
	}

	start := now.AddDate(0, 0, -3)
	s := model.WorkflowSession{
		ID:                   "sess-measure",
		StartTime:            start,
		EndTime:              start.Add(40 * time.Minute),
		AppsUsed:             []string{"Sheets"},
		TotalDurationMinutes: 40,
		ContextSwitches:      5,
		FrictionRate:         0.13,
		FrictionLevel:        model.FrictionLow,
		Intent:               "weekly expense report",
		Confidence:           0.9,
	}
	if err := store.UpsertSession(s); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	if err := store.SetSessionIntent(s.ID, s.Intent, s.Confidence, ""); err != nil {
		t.Fatalf("setting intent: %v", err)
	}

	if err := d.runMeasure(context.Background(), schedule.NewState(), now); err != nil {
		t.Fatalf("runMeasure: %v", err)
	}

	got, err := store.GetAdoption("adopt-1")
	if err != nil {
		t.Fatalf("reading adoption: %v", err)
	}
	if got.WeeksTracked != 2 {
		t.Errorf("weeks tracked = %d, want 2", got.WeeksTracked)
	}
	if got.AfterMinutesPerWeek != 40 {
		t.Errorf("after minutes = %.1f, want 40", got.AfterMinutesPerWeek)
	}
	if got.Status != model.AdoptionWorking {
		t.Errorf("status = %q, want working", got.Status)
	}
}

func TestLoadStateRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	d, _, _ := newTestDaemon(t, &stubSource{up: true}, confidentResponse)

	state := schedule.NewState()
	state.MarkRun(schedule.StageAnalyze, now)
	state.MarkNotified([]string{"sess-1"}, now)
	if err := d.persistState(state, now); err != nil {
		t.Fatalf("persistState: %v", err)
	}

	loaded, err := d.loadState()
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if !loaded.LastRun[schedule.StageAnalyze].Equal(now) {
		t.Errorf("last run = %v", loaded.LastRun[schedule.StageAnalyze])
	}
	if _, ok := loaded.NotifiedSessions["sess-1"]; !ok {
		t.Errorf("notified sessions lost: %v", loaded.NotifiedSessions)
	}
}

func TestLoadStateMissingStartsFresh(t *testing.T) {
	d, _, _ := newTestDaemon(t, &stubSource{up: true}, confidentResponse)
	state, err := d.loadState()
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if state == nil || state.LastRun == nil {
		t.Fatalf("state not initialized: %+v", state)
	}
}
