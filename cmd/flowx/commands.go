package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/flowx/internal/capture"
	"github.com/kalambet/flowx/internal/cluster"
	"github.com/kalambet/flowx/internal/config"
	"github.com/kalambet/flowx/internal/infer"
	"github.com/kalambet/flowx/internal/llm"
	"github.com/kalambet/flowx/internal/measure"
	"github.com/kalambet/flowx/internal/model"
	"github.com/kalambet/flowx/internal/pattern"
	"github.com/kalambet/flowx/internal/report"
	"github.com/kalambet/flowx/internal/schedule"
	"github.com/kalambet/flowx/internal/storage"
)

func openStore() (config.Config, *storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("opening storage: %w", err)
	}
	return cfg, store, nil
}

func buildSources(cfg config.Config) []capture.Source {
	dbPath := cfg.Capture.ScreenpipeDB
	if dbPath == "" {
		dbPath = capture.DefaultScreenpipeDB()
	}
	return []capture.Source{
		capture.NewScreenpipe(dbPath),
		capture.NewActivityWatch(cfg.Capture.ActivityWatchHost),
	}
}

// rangeForPeriod maps a period name to a half-open [start, end) window.
func rangeForPeriod(period string, now time.Time) (time.Time, time.Time, error) {
	end := now.Add(time.Minute)
	switch period {
	case "", "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), end, nil
	case "week":
		return now.AddDate(0, 0, -7), end, nil
	case "month":
		return now.AddDate(0, 0, -30), end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q (use today, week, or month)", period)
	}
}

// --- capture ---

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Pull activity events from capture sources into local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")

		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now()
		events := capture.Collect(cmd.Context(), buildSources(cfg), now.Add(-since), now)
		if err := store.SaveEvents(events); err != nil {
			return fmt.Errorf("saving events: %w", err)
		}

		printSuccess("Captured %d events", len(events))
		return nil
	},
}

func init() {
	captureCmd.Flags().Duration("since", 6*time.Hour, "how far back to read from capture sources")
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Cluster captured events into sessions, infer intents, detect patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")

		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var inferrer *infer.Inferrer
		client := llm.New(cfg.Ollama.BaseURL)
		if client.IsRunning(cmd.Context()) {
			inferrer = infer.New(client, cfg.Ollama.Model)
		} else {
			printWarning("Ollama not reachable at %s; skipping intent inference", cfg.Ollama.BaseURL)
		}

		sessions, patterns, err := analyzeOnce(cmd.Context(), store, cfg, inferrer, window, time.Now())
		if err != nil {
			return err
		}

		printSuccess("Analyzed %d sessions, %d recurring patterns", sessions, patterns)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Duration("window", 24*time.Hour, "how much event history to re-cluster")
}

// analyzeOnce runs one analysis pass: cluster, infer, detect patterns.
// A nil inferrer skips intent inference.
func analyzeOnce(ctx context.Context, store *storage.Store, cfg config.Config, inferrer *infer.Inferrer, window time.Duration, now time.Time) (int, int, error) {
	events, err := store.EventsBetween(now.Add(-window), now)
	if err != nil {
		return 0, 0, fmt.Errorf("loading events: %w", err)
	}

	sessions := cluster.Sessions(events, cluster.Options{
		GapMinutes: float64(cfg.Cluster.GapMinutes),
		MinEvents:  cfg.Cluster.MinEvents,
	})
	for _, s := range sessions {
		if err := store.UpsertSession(s); err != nil {
			return 0, 0, fmt.Errorf("upserting session %s: %w", s.ID, err)
		}
	}

	if inferrer != nil {
		for _, s := range sessions {
			stored, err := store.GetSession(s.ID)
			if err != nil {
				return 0, 0, fmt.Errorf("reading session %s: %w", s.ID, err)
			}
			if stored.Analyzed() {
				continue
			}
			res := inferrer.Infer(ctx, s)
			if err := store.SetSessionIntent(s.ID, res.Intent, res.Confidence, res.FrictionDetails); err != nil {
				return 0, 0, fmt.Errorf("recording intent for %s: %w", s.ID, err)
			}
			if res.NeedsClarification {
				if err := store.SaveQuestion(res.Question); err != nil {
					return 0, 0, fmt.Errorf("saving question for %s: %w", s.ID, err)
				}
			}
		}
	}

	history, err := store.SessionsBetween(now.AddDate(0, 0, -schedule.RetentionDays), now)
	if err != nil {
		return 0, 0, fmt.Errorf("loading session history: %w", err)
	}
	patterns := pattern.Detect(history, 0, 0)
	if err := store.ReplacePatterns(patterns); err != nil {
		return 0, 0, fmt.Errorf("replacing patterns: %w", err)
	}

	return len(sessions), len(patterns), nil
}

// --- report / brief ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print today's workflow report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now()
		start, end, _ := rangeForPeriod("today", now)
		sessions, err := store.SessionsBetween(start, end)
		if err != nil {
			return fmt.Errorf("loading sessions: %w", err)
		}

		fmt.Println(report.Daily(sessions, cfg.Report.HourlyRateUSD, now))
		return nil
	},
}

var briefCmd = &cobra.Command{
	Use:   "brief",
	Short: "Print the morning brief (yesterday at a glance)",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now()
		sessions, err := store.SessionsBetween(now.AddDate(0, 0, -2), now)
		if err != nil {
			return fmt.Errorf("loading sessions: %w", err)
		}
		adoptions, err := store.ListAdoptions()
		if err != nil {
			return fmt.Errorf("listing adoptions: %w", err)
		}
		pending, err := store.PendingQuestions()
		if err != nil {
			return fmt.Errorf("listing questions: %w", err)
		}

		title, msg := report.MorningBrief(sessions, adoptions, len(pending), now)
		fmt.Printf("%s\n%s\n", colorize(colorBold, title), msg)
		return nil
	},
}

// --- patterns / trends / roi ---

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show recurring workflow patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		patterns, err := store.ListPatterns()
		if err != nil {
			return fmt.Errorf("listing patterns: %w", err)
		}

		fmt.Println(report.Patterns(patterns))
		return nil
	},
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show the weekly friction trend",
	RunE: func(cmd *cobra.Command, args []string) error {
		weeks, _ := cmd.Flags().GetInt("weeks")

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now()
		sessions, err := store.SessionsBetween(now.AddDate(0, 0, -weeks*7), now)
		if err != nil {
			return fmt.Errorf("loading sessions: %w", err)
		}

		trends := pattern.WeeklyTrends(sessions, time.Monday)
		fmt.Println(report.Trends(trends, pattern.Direction(trends)))
		return nil
	},
}

func init() {
	trendsCmd.Flags().Int("weeks", 12, "how many weeks of history to include")
}

var roiCmd = &cobra.Command{
	Use:   "roi",
	Short: "Show adoption ROI: time saved by workflow replacements",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		adoptions, err := store.ListAdoptions()
		if err != nil {
			return fmt.Errorf("listing adoptions: %w", err)
		}

		fmt.Println(report.ROI(measure.Summarize(adoptions), cfg.Report.HourlyRateUSD))
		return nil
	},
}

// --- adopt / measure ---

var adoptCmd = &cobra.Command{
	Use:   "adopt <intent>",
	Short: "Start tracking a workflow replacement",
	Long: `Start tracking a workflow replacement.

Example:
  flowx adopt "weekly expense report" --before 120`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		before, _ := cmd.Flags().GetFloat64("before")
		if before <= 0 {
			return fmt.Errorf("--before must be a positive number of minutes per week")
		}
		intent := strings.Join(args, " ")

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		adoption := model.Adoption{
			ID:                   uuid.New().String(),
			Intent:               intent,
			AdoptedAt:            time.Now().UTC(),
			BeforeMinutesPerWeek: before,
			Status:               model.AdoptionMeasuring,
		}
		if err := store.SaveAdoption(adoption); err != nil {
			return fmt.Errorf("saving adoption: %w", err)
		}

		printSuccess("Tracking %q (was %.0f min/week)", intent, before)
		return nil
	},
}

func init() {
	adoptCmd.Flags().Float64("before", 0, "minutes per week the workflow took before the replacement")
	adoptCmd.MarkFlagRequired("before")
}

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Measure tracked adoptions against recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		updated, err := measureOnce(store, time.Now())
		if err != nil {
			return err
		}
		if len(updated) == 0 {
			printStep("No adoptions due for measurement")
			return nil
		}

		for _, a := range updated {
			printStatus(a.Intent, "%.0f → %.0f min/week (%s, %d weeks)",
				a.BeforeMinutesPerWeek, a.AfterMinutesPerWeek, a.Status, a.WeeksTracked)
		}
		return nil
	},
}

// measureOnce measures every adoption whose weekly cadence is due and
// persists the updates.
func measureOnce(store *storage.Store, now time.Time) ([]model.Adoption, error) {
	adoptions, err := store.ListAdoptions()
	if err != nil {
		return nil, fmt.Errorf("listing adoptions: %w", err)
	}

	var updated []model.Adoption
	for _, a := range adoptions {
		if !schedule.ShouldMeasure(a, now) {
			continue
		}
		windowDays := measure.WindowDays(a.AdoptedAt, now)
		sessions, err := store.SessionsBetween(now.AddDate(0, 0, -windowDays), now)
		if err != nil {
			return nil, fmt.Errorf("loading sessions for %s: %w", a.Intent, err)
		}
		res := measure.Measure(a, sessions, now)
		if !res.Sufficient {
			continue
		}
		if err := store.UpdateAdoption(res.Adoption); err != nil {
			return nil, fmt.Errorf("updating adoption %s: %w", a.ID, err)
		}
		updated = append(updated, res.Adoption)
	}
	return updated, nil
}

// --- validate / questions ---

var validateCmd = &cobra.Command{
	Use:   "validate <session-id> <label>",
	Short: "Confirm what a session was about",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		label := strings.Join(args[1:], " ")

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ValidateSession(sessionID, label); err != nil {
			return fmt.Errorf("validating session: %w", err)
		}

		printSuccess("Session %s validated as %q", sessionID, label)
		return nil
	},
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List pending classification questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		questions, err := store.PendingQuestions()
		if err != nil {
			return fmt.Errorf("listing questions: %w", err)
		}
		if len(questions) == 0 {
			fmt.Println("No pending questions.")
			return nil
		}

		for _, q := range questions {
			fmt.Printf("%s  %s\n", colorize(colorCyan, q.SessionID), q.Question)
			if len(q.Options) > 0 {
				fmt.Printf("    options: %s\n", strings.Join(q.Options, " / "))
			}
			if q.Context != "" {
				fmt.Printf("    %s\n", q.Context)
			}
		}
		fmt.Println("\nAnswer with: flowx questions answer <session-id> <answer>")
		return nil
	},
}

var questionsAnswerCmd = &cobra.Command{
	Use:   "answer <session-id> <answer>",
	Short: "Answer a pending question; the answer becomes the session label",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		answer := strings.Join(args[1:], " ")

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.AnswerQuestion(sessionID, answer); err != nil {
			return fmt.Errorf("answering question: %w", err)
		}
		if err := store.ValidateSession(sessionID, answer); err != nil {
			return fmt.Errorf("applying answer to session: %w", err)
		}

		printSuccess("Answered %s: %q", sessionID, answer)
		return nil
	},
}

func init() {
	questionsCmd.AddCommand(questionsAnswerCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions or patterns as JSON or CSV",
	Long: `Export sessions or patterns as JSON or CSV.

Examples:
  flowx export --what sessions --period week --format csv
  flowx export --what patterns --format json --output patterns.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		what, _ := cmd.Flags().GetString("what")
		format, _ := cmd.Flags().GetString("format")
		period, _ := cmd.Flags().GetString("period")
		output, _ := cmd.Flags().GetString("output")

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var out string
		switch what {
		case "sessions":
			start, end, err := rangeForPeriod(period, time.Now())
			if err != nil {
				return err
			}
			sessions, err := store.SessionsBetween(start, end)
			if err != nil {
				return fmt.Errorf("loading sessions: %w", err)
			}
			if format == "csv" {
				out, err = report.SessionsCSV(sessions)
			} else {
				out, err = report.SessionsJSON(sessions)
			}
			if err != nil {
				return err
			}
		case "patterns":
			patterns, err := store.ListPatterns()
			if err != nil {
				return fmt.Errorf("listing patterns: %w", err)
			}
			if format == "csv" {
				out, err = report.PatternsCSV(patterns)
			} else {
				out, err = report.PatternsJSON(patterns)
			}
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown export target %q (use sessions or patterns)", what)
		}

		if output == "" {
			fmt.Print(out)
			if !strings.HasSuffix(out, "\n") {
				fmt.Println()
			}
			return nil
		}
		if err := os.WriteFile(output, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Exported %s to %s", what, output)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("what", "sessions", "what to export: sessions or patterns")
	exportCmd.Flags().String("format", "json", "output format: json or csv")
	exportCmd.Flags().String("period", "week", "time window for sessions: today, week, or month")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
