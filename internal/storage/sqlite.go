package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/flowx/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for events, sessions,
// patterns, adoptions, classification questions, and scheduler state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "flowx.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Events ---

// SaveEvents appends a capture batch in a single transaction.
func (s *Store) SaveEvents(events []model.RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning event batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (timestamp, source, app_name, window_title, captured_text)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(
			e.Timestamp.UTC().Format(time.RFC3339), string(e.Source),
			e.AppName, e.WindowTitle, e.CapturedText,
		); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}
	return tx.Commit()
}

// EventsBetween returns events with start <= timestamp < end, oldest first.
func (s *Store) EventsBetween(start, end time.Time) ([]model.RawEvent, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, source, app_name, window_title, captured_text
		FROM events WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.RawEvent
	for rows.Next() {
		var e model.RawEvent
		var ts, source string
		if err := rows.Scan(&ts, &source, &e.AppName, &e.WindowTitle, &e.CapturedText); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		e.Timestamp = t
		e.Source = model.EventSource(source)
		results = append(results, e)
	}
	return results, rows.Err()
}

// PruneEvents deletes events older than cutoff and reports how many went.
func (s *Store) PruneEvents(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM events WHERE timestamp < ?", cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Sessions ---

// UpsertSession writes a session. On conflict the structural fields
// (times, apps, switches, friction) are taken from the incoming row,
// while inference and validation fields already in the database win over
// empty incoming values, so re-clustering never wipes out analysis.
func (s *Store) UpsertSession(sess model.WorkflowSession) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, start_time, end_time, apps_used, total_duration_minutes,
			context_switches, friction_rate, friction_level, intent, confidence,
			friction_details, user_validated, user_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			apps_used = excluded.apps_used,
			total_duration_minutes = excluded.total_duration_minutes,
			context_switches = excluded.context_switches,
			friction_rate = excluded.friction_rate,
			friction_level = excluded.friction_level,
			intent = CASE WHEN excluded.intent <> '' THEN excluded.intent ELSE sessions.intent END,
			confidence = CASE WHEN excluded.intent <> '' THEN excluded.confidence ELSE sessions.confidence END,
			friction_details = CASE WHEN excluded.friction_details <> '' THEN excluded.friction_details ELSE sessions.friction_details END,
			user_validated = sessions.user_validated OR excluded.user_validated,
			user_label = CASE WHEN excluded.user_label <> '' THEN excluded.user_label ELSE sessions.user_label END`,
		sess.ID, sess.StartTime.UTC().Format(time.RFC3339), sess.EndTime.UTC().Format(time.RFC3339),
		jsonList(sess.AppsUsed), sess.TotalDurationMinutes, sess.ContextSwitches,
		sess.FrictionRate, string(sess.FrictionLevel), sess.Intent, sess.Confidence,
		sess.FrictionDetails, sess.UserValidated, sess.UserLabel,
	)
	return err
}

const sessionColumns = `id, start_time, end_time, apps_used, total_duration_minutes,
	context_switches, friction_rate, friction_level, intent, confidence,
	friction_details, user_validated, user_label`

func scanSession(scan func(dest ...any) error) (model.WorkflowSession, error) {
	var sess model.WorkflowSession
	var startTime, endTime, appsUsed, level string
	err := scan(&sess.ID, &startTime, &endTime, &appsUsed, &sess.TotalDurationMinutes,
		&sess.ContextSwitches, &sess.FrictionRate, &level, &sess.Intent, &sess.Confidence,
		&sess.FrictionDetails, &sess.UserValidated, &sess.UserLabel)
	if err != nil {
		return model.WorkflowSession{}, err
	}
	if sess.StartTime, err = time.Parse(time.RFC3339, startTime); err != nil {
		return model.WorkflowSession{}, fmt.Errorf("parsing start_time: %w", err)
	}
	if sess.EndTime, err = time.Parse(time.RFC3339, endTime); err != nil {
		return model.WorkflowSession{}, fmt.Errorf("parsing end_time: %w", err)
	}
	sess.AppsUsed = parseJSONList(appsUsed)
	sess.FrictionLevel = model.FrictionLevel(level)
	return sess, nil
}

func (s *Store) GetSession(id string) (model.WorkflowSession, error) {
	row := s.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return model.WorkflowSession{}, ErrNotFound
	}
	return sess, err
}

// SessionsBetween returns sessions starting in [start, end), oldest first.
func (s *Store) SessionsBetween(start, end time.Time) ([]model.WorkflowSession, error) {
	rows, err := s.db.Query(
		"SELECT "+sessionColumns+" FROM sessions WHERE start_time >= ? AND start_time < ? ORDER BY start_time ASC",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.WorkflowSession
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// SetSessionIntent records the outcome of intent inference for a session.
func (s *Store) SetSessionIntent(id, intent string, confidence float64, details string) error {
	res, err := s.db.Exec(
		"UPDATE sessions SET intent = ?, confidence = ?, friction_details = ? WHERE id = ?",
		intent, confidence, details, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidateSession applies a user-confirmed label: the label becomes the
// intent at full confidence and the session is marked validated.
func (s *Store) ValidateSession(id, label string) error {
	res, err := s.db.Exec(
		"UPDATE sessions SET intent = ?, confidence = 1.0, user_validated = 1, user_label = ? WHERE id = ?",
		label, label, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Patterns ---

// ReplacePatterns swaps the stored pattern set for a freshly detected one.
// Patterns are derived data, recomputed wholesale on every analyze pass.
func (s *Store) ReplacePatterns(patterns []model.Pattern) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning pattern replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM patterns"); err != nil {
		return fmt.Errorf("clearing patterns: %w", err)
	}
	for _, p := range patterns {
		if _, err := tx.Exec(`
			INSERT INTO patterns (id, intent, occurrences, first_seen, last_seen,
				avg_friction_rate, avg_duration_minutes, total_minutes,
				most_common_friction, session_ids, apps_involved)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Intent, p.Occurrences,
			p.FirstSeen.UTC().Format(time.RFC3339), p.LastSeen.UTC().Format(time.RFC3339),
			p.AvgFrictionRate, p.AvgDurationMinutes, p.TotalMinutes,
			string(p.MostCommonFriction), jsonList(p.SessionIDs), jsonList(p.AppsInvolved),
		); err != nil {
			return fmt.Errorf("inserting pattern %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// ListPatterns returns all patterns, most time-consuming first.
func (s *Store) ListPatterns() ([]model.Pattern, error) {
	rows, err := s.db.Query(`
		SELECT id, intent, occurrences, first_seen, last_seen, avg_friction_rate,
			avg_duration_minutes, total_minutes, most_common_friction, session_ids, apps_involved
		FROM patterns ORDER BY total_minutes DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Pattern
	for rows.Next() {
		var p model.Pattern
		var firstSeen, lastSeen, friction, sessionIDs, apps string
		if err := rows.Scan(&p.ID, &p.Intent, &p.Occurrences, &firstSeen, &lastSeen,
			&p.AvgFrictionRate, &p.AvgDurationMinutes, &p.TotalMinutes,
			&friction, &sessionIDs, &apps); err != nil {
			return nil, err
		}
		if p.FirstSeen, err = time.Parse(time.RFC3339, firstSeen); err != nil {
			return nil, fmt.Errorf("parsing first_seen: %w", err)
		}
		if p.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		p.MostCommonFriction = model.FrictionLevel(friction)
		p.SessionIDs = parseJSONList(sessionIDs)
		p.AppsInvolved = parseJSONList(apps)
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Adoptions ---

func (s *Store) SaveAdoption(a model.Adoption) error {
	_, err := s.db.Exec(`
		INSERT INTO adoptions (id, intent, adopted_at, before_minutes_per_week,
			after_minutes_per_week, savings_minutes_per_week, cumulative_savings_minutes,
			weeks_tracked, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Intent, a.AdoptedAt.UTC().Format(time.RFC3339),
		a.BeforeMinutesPerWeek, a.AfterMinutesPerWeek, a.SavingsMinutesPerWeek,
		a.CumulativeSavingsMinutes, a.WeeksTracked, string(a.Status),
	)
	return err
}

func (s *Store) UpdateAdoption(a model.Adoption) error {
	res, err := s.db.Exec(`
		UPDATE adoptions SET after_minutes_per_week = ?, savings_minutes_per_week = ?,
			cumulative_savings_minutes = ?, weeks_tracked = ?, status = ?
		WHERE id = ?`,
		a.AfterMinutesPerWeek, a.SavingsMinutesPerWeek, a.CumulativeSavingsMinutes,
		a.WeeksTracked, string(a.Status), a.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetAdoption(id string) (model.Adoption, error) {
	row := s.db.QueryRow(`
		SELECT id, intent, adopted_at, before_minutes_per_week, after_minutes_per_week,
			savings_minutes_per_week, cumulative_savings_minutes, weeks_tracked, status
		FROM adoptions WHERE id = ?`, id)
	a, err := scanAdoption(row.Scan)
	if err == sql.ErrNoRows {
		return model.Adoption{}, ErrNotFound
	}
	return a, err
}

// ListAdoptions returns all tracked adoptions, oldest first.
func (s *Store) ListAdoptions() ([]model.Adoption, error) {
	rows, err := s.db.Query(`
		SELECT id, intent, adopted_at, before_minutes_per_week, after_minutes_per_week,
			savings_minutes_per_week, cumulative_savings_minutes, weeks_tracked, status
		FROM adoptions ORDER BY adopted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Adoption
	for rows.Next() {
		a, err := scanAdoption(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func scanAdoption(scan func(dest ...any) error) (model.Adoption, error) {
	var a model.Adoption
	var adoptedAt, status string
	err := scan(&a.ID, &a.Intent, &adoptedAt, &a.BeforeMinutesPerWeek, &a.AfterMinutesPerWeek,
		&a.SavingsMinutesPerWeek, &a.CumulativeSavingsMinutes, &a.WeeksTracked, &status)
	if err != nil {
		return model.Adoption{}, err
	}
	if a.AdoptedAt, err = time.Parse(time.RFC3339, adoptedAt); err != nil {
		return model.Adoption{}, fmt.Errorf("parsing adopted_at: %w", err)
	}
	a.Status = model.AdoptionStatus(status)
	return a, nil
}

// --- Classification Questions ---

func (s *Store) SaveQuestion(q model.ClassificationQuestion) error {
	_, err := s.db.Exec(`
		INSERT INTO questions (session_id, question, options, context, answer, answered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			question = excluded.question,
			options = excluded.options,
			context = excluded.context`,
		q.SessionID, q.Question, jsonList(q.Options), q.Context, q.Answer, q.Answered,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// PendingQuestions returns unanswered questions, oldest first.
func (s *Store) PendingQuestions() ([]model.ClassificationQuestion, error) {
	rows, err := s.db.Query(`
		SELECT session_id, question, options, context, answer, answered
		FROM questions WHERE answered = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ClassificationQuestion
	for rows.Next() {
		var q model.ClassificationQuestion
		var options string
		if err := rows.Scan(&q.SessionID, &q.Question, &options, &q.Context, &q.Answer, &q.Answered); err != nil {
			return nil, err
		}
		q.Options = parseJSONList(options)
		results = append(results, q)
	}
	return results, rows.Err()
}

func (s *Store) AnswerQuestion(sessionID, answer string) error {
	res, err := s.db.Exec(
		"UPDATE questions SET answer = ?, answered = 1 WHERE session_id = ?",
		answer, sessionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Scheduler State ---

func (s *Store) SetStateValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduler_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetStateValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM scheduler_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}
