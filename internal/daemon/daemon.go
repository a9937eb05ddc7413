// Package daemon runs the always-on analysis loop: capture on a fixed
// schedule, analyze fresh events into sessions, propose replacements for
// high-friction work, measure adoptions, and send the morning brief.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/flowx/internal/capture"
	"github.com/kalambet/flowx/internal/cluster"
	"github.com/kalambet/flowx/internal/infer"
	"github.com/kalambet/flowx/internal/measure"
	"github.com/kalambet/flowx/internal/model"
	"github.com/kalambet/flowx/internal/notify"
	"github.com/kalambet/flowx/internal/pattern"
	"github.com/kalambet/flowx/internal/report"
	"github.com/kalambet/flowx/internal/schedule"
	"github.com/kalambet/flowx/internal/storage"
)

// stateKey is where the scheduler state lives in storage.
const stateKey = "scheduler"

// tickInterval is how often the stage schedule is evaluated.
const tickInterval = time.Minute

// captureLookback is how far back a capture pass reads. Slots are ~5h
// apart; the extra hour covers a missed slot without rereading the day.
const captureLookback = 6 * time.Hour

// analyzeWindow is how much history an analyze pass re-clusters.
const analyzeWindow = 24 * time.Hour

// patternWindow is how much session history feeds pattern detection.
const patternWindow = 30 * 24 * time.Hour

// Daemon wires the pipeline stages to the schedule.
type Daemon struct {
	store       *storage.Store
	sources     []capture.Source
	inferrer    *infer.Inferrer
	notifier    notify.Notifier
	clusterOpts cluster.Options

	// downSources tracks which capture sources have already been
	// alerted on, so an outage fires one notification, not one per
	// health interval.
	downSources map[string]bool

	now func() time.Time
}

// New creates a Daemon over the given collaborators. opts must match
// what the analyze CLI path uses, or the two will segment the same
// events into different sessions.
func New(store *storage.Store, sources []capture.Source, inferrer *infer.Inferrer, notifier notify.Notifier, opts cluster.Options) *Daemon {
	return &Daemon{
		store:       store,
		sources:     sources,
		inferrer:    inferrer,
		notifier:    notifier,
		clusterOpts: opts,
		downSources: map[string]bool{},
		now:         time.Now,
	}
}

// Run drives the stage loop and the source health loop until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	state, err := d.loadState()
	if err != nil {
		return fmt.Errorf("loading scheduler state: %w", err)
	}
	slog.Info("daemon started")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				d.Tick(ctx, state, d.now())
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(schedule.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				d.checkHealth(ctx)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		slog.Info("daemon stopped")
		return nil
	}
	return err
}

// Tick runs every stage that is due at now. Stages run serially; capture
// before analyze matters, and none of them are reentrant.
func (d *Daemon) Tick(ctx context.Context, state *schedule.State, now time.Time) {
	stages := []struct {
		name string
		spec schedule.StageSpec
		run  func(context.Context, *schedule.State, time.Time) error
	}{
		{schedule.StageCapture, schedule.CaptureSpec, d.runCapture},
		{schedule.StageAnalyze, schedule.AnalyzeSpec, d.runAnalyze},
		{schedule.StageMeasure, schedule.MeasureSpec, d.runMeasure},
		{schedule.StageBrief, schedule.BriefSpec, d.runBrief},
	}

	for _, stage := range stages {
		if !schedule.Due(stage.spec, state.LastRun[stage.name], now) {
			continue
		}
		if err := stage.run(ctx, state, now); err != nil {
			slog.Error("stage failed", "stage", stage.name, "error", err)
			continue
		}
		state.MarkRun(stage.name, now)
		if err := d.persistState(state, now); err != nil {
			slog.Error("persisting scheduler state failed", "error", err)
		}
		slog.Info("stage completed", "stage", stage.name)
	}
}

func (d *Daemon) runCapture(ctx context.Context, _ *schedule.State, now time.Time) error {
	events := capture.Collect(ctx, d.sources, now.Add(-captureLookback), now)
	if err := d.store.SaveEvents(events); err != nil {
		return fmt.Errorf("saving events: %w", err)
	}
	slog.Info("capture complete", "events", len(events))
	return nil
}

func (d *Daemon) runAnalyze(ctx context.Context, state *schedule.State, now time.Time) error {
	events, err := d.store.EventsBetween(now.Add(-analyzeWindow), now)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}

	sessions := cluster.Sessions(events, d.clusterOpts)
	for _, s := range sessions {
		if err := d.store.UpsertSession(s); err != nil {
			return fmt.Errorf("upserting session %s: %w", s.ID, err)
		}
	}

	// Infer intent for sessions without a usable one. The stored row is
	// authoritative: a validated or previously inferred intent survives
	// re-clustering, but a failed inference is retried on the next pass.
	newQuestions := 0
	for _, s := range sessions {
		stored, err := d.store.GetSession(s.ID)
		if err != nil {
			return fmt.Errorf("reading session %s: %w", s.ID, err)
		}
		if stored.Analyzed() {
			continue
		}
		res := d.inferrer.Infer(ctx, s)
		if err := d.store.SetSessionIntent(s.ID, res.Intent, res.Confidence, res.FrictionDetails); err != nil {
			return fmt.Errorf("recording intent for %s: %w", s.ID, err)
		}
		if res.NeedsClarification {
			if err := d.store.SaveQuestion(res.Question); err != nil {
				return fmt.Errorf("saving question for %s: %w", s.ID, err)
			}
			newQuestions++
		}
	}
	if newQuestions > 0 {
		msg := fmt.Sprintf("%d new session(s) need clarification. Answer with: flowx questions", newQuestions)
		if err := d.notifier.Notify(ctx, "FlowX: your input needed", msg); err != nil {
			slog.Warn("question notification failed", "error", err)
		}
	}

	// Recompute patterns over the retention window.
	history, err := d.store.SessionsBetween(now.Add(-patternWindow), now)
	if err != nil {
		return fmt.Errorf("loading session history: %w", err)
	}
	patterns := pattern.Detect(history, 0, 0)
	if err := d.store.ReplacePatterns(patterns); err != nil {
		return fmt.Errorf("replacing patterns: %w", err)
	}

	d.propose(ctx, state, sessions, now)
	d.flagPatterns(ctx, state, patterns, now)

	if n, err := d.store.PruneEvents(now.AddDate(0, 0, -schedule.RetentionDays)); err != nil {
		slog.Warn("pruning events failed", "error", err)
	} else if n > 0 {
		slog.Info("pruned old events", "count", n)
	}
	return nil
}

// propose fires a replacement notification for newly analyzed sessions
// with high friction, once per session id.
func (d *Daemon) propose(ctx context.Context, state *schedule.State, sessions []model.WorkflowSession, now time.Time) {
	for _, s := range sessions {
		stored, err := d.store.GetSession(s.ID)
		if err != nil {
			continue
		}
		if !schedule.ShouldPropose(stored, state) {
			continue
		}
		title := fmt.Sprintf("FlowX: %s friction detected", stored.FrictionLevel)
		msg := fmt.Sprintf("%.0f min on %q with %d app switches. Worth replacing?",
			stored.TotalDurationMinutes, stored.Intent, stored.ContextSwitches)
		if err := d.notifier.Notify(ctx, title, msg); err != nil {
			slog.Warn("proposal notification failed", "session", s.ID, "error", err)
			continue
		}
		state.MarkNotified([]string{s.ID}, now)
	}
}

// flagPatterns surfaces recurring high-friction patterns, once per
// pattern id until the trigger log is pruned.
func (d *Daemon) flagPatterns(ctx context.Context, state *schedule.State, patterns []model.Pattern, now time.Time) {
	for _, p := range patterns {
		if !p.MostCommonFriction.High() || p.Occurrences < 3 {
			continue
		}
		if _, seen := state.PatternTriggers[p.ID]; seen {
			continue
		}
		title := "FlowX: recurring friction pattern"
		msg := fmt.Sprintf("%q has come up %d times (%.0f min total). Worth automating?",
			p.Intent, p.Occurrences, p.TotalMinutes)
		if err := d.notifier.Notify(ctx, title, msg); err != nil {
			slog.Warn("pattern notification failed", "pattern", p.ID, "error", err)
			continue
		}
		state.MarkPatternTrigger(p.ID, now)
	}
}

func (d *Daemon) runMeasure(_ context.Context, _ *schedule.State, now time.Time) error {
	adoptions, err := d.store.ListAdoptions()
	if err != nil {
		return fmt.Errorf("listing adoptions: %w", err)
	}

	for _, a := range adoptions {
		if !schedule.ShouldMeasure(a, now) {
			continue
		}
		windowDays := measure.WindowDays(a.AdoptedAt, now)
		sessions, err := d.store.SessionsBetween(now.AddDate(0, 0, -windowDays), now)
		if err != nil {
			return fmt.Errorf("loading sessions for %s: %w", a.Intent, err)
		}
		res := measure.Measure(a, sessions, now)
		if !res.Sufficient {
			continue
		}
		if err := d.store.UpdateAdoption(res.Adoption); err != nil {
			return fmt.Errorf("updating adoption %s: %w", a.ID, err)
		}
	}
	return nil
}

func (d *Daemon) runBrief(ctx context.Context, _ *schedule.State, now time.Time) error {
	sessions, err := d.store.SessionsBetween(now.AddDate(0, 0, -2), now)
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}
	adoptions, err := d.store.ListAdoptions()
	if err != nil {
		return fmt.Errorf("listing adoptions: %w", err)
	}
	pending, err := d.store.PendingQuestions()
	if err != nil {
		return fmt.Errorf("listing questions: %w", err)
	}

	title, msg := report.MorningBrief(sessions, adoptions, len(pending), now)
	return d.notifier.Notify(ctx, title, msg)
}

// checkHealth alerts on capture sources going down, once per outage:
// the alert re-arms when the source comes back.
func (d *Daemon) checkHealth(ctx context.Context) {
	for _, src := range d.sources {
		name := src.Name()
		if src.Available(ctx) {
			if d.downSources[name] {
				slog.Info("capture source recovered", "source", name)
			}
			delete(d.downSources, name)
			continue
		}
		slog.Warn("capture source down", "source", name)
		if d.downSources[name] {
			continue
		}
		msg := fmt.Sprintf("%s is not responding. Activity is not being captured.", name)
		if err := d.notifier.Notify(ctx, "FlowX: capture source offline", msg); err != nil {
			slog.Warn("health alert failed", "source", name, "error", err)
			continue
		}
		d.downSources[name] = true
	}
}

func (d *Daemon) loadState() (*schedule.State, error) {
	raw, err := d.store.GetStateValue(stateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return schedule.NewState(), nil
	}
	if err != nil {
		return nil, err
	}

	var state schedule.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		slog.Warn("scheduler state corrupt, starting fresh", "error", err)
		return schedule.NewState(), nil
	}
	state.Normalize()
	return &state, nil
}

func (d *Daemon) persistState(state *schedule.State, now time.Time) error {
	state.Prune(now)
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return d.store.SetStateValue(stateKey, string(raw))
}
