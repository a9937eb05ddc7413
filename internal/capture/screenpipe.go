package capture

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/flowx/internal/model"
)

// readLimit bounds how many rows a single capture pass pulls per table.
const readLimit = 1000

// Screenpipe reads events from Screenpipe's local SQLite database.
// Screenpipe captures screen OCR and audio transcription 24/7; this
// adapter only reads its output.
type Screenpipe struct {
	dbPath string
}

// DefaultScreenpipeDB returns the standard Screenpipe database location.
func DefaultScreenpipeDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".screenpipe", "db.sqlite")
}

// NewScreenpipe creates an adapter for the database at dbPath.
func NewScreenpipe(dbPath string) *Screenpipe {
	return &Screenpipe{dbPath: dbPath}
}

func (s *Screenpipe) Name() string { return "screenpipe" }

// Available reports whether the Screenpipe database file exists.
func (s *Screenpipe) Available(_ context.Context) bool {
	if s.dbPath == "" {
		return false
	}
	_, err := os.Stat(s.dbPath)
	return err == nil
}

// Read pulls OCR frames and audio transcriptions from the window.
func (s *Screenpipe) Read(ctx context.Context, since, until time.Time) ([]model.RawEvent, error) {
	db, err := sql.Open("sqlite", "file:"+s.dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening screenpipe database: %w", err)
	}
	defer db.Close()

	var events []model.RawEvent

	ocr, err := s.readOCRFrames(ctx, db, since, until)
	if err != nil {
		return nil, err
	}
	events = append(events, ocr...)

	audio, err := s.readAudio(ctx, db, since, until)
	if err != nil {
		return nil, err
	}
	events = append(events, audio...)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (s *Screenpipe) readOCRFrames(ctx context.Context, db *sql.DB, since, until time.Time) ([]model.RawEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT f.timestamp, f.app_name, f.window_name, ot.text
		FROM ocr_text ot
		JOIN frames f ON ot.frame_id = f.id
		WHERE f.timestamp >= ? AND f.timestamp <= ?
		ORDER BY f.timestamp DESC LIMIT ?`,
		since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339), readLimit,
	)
	if err != nil {
		// The table only appears once Screenpipe has captured something.
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying ocr frames: %w", err)
	}
	defer rows.Close()

	var events []model.RawEvent
	for rows.Next() {
		var ts string
		var appName, windowName, text sql.NullString
		if err := rows.Scan(&ts, &appName, &windowName, &text); err != nil {
			return nil, err
		}
		t, err := parseTimestamp(ts)
		if err != nil {
			continue
		}
		events = append(events, model.RawEvent{
			Timestamp:    t,
			Source:       model.SourceScreenpipe,
			AppName:      appName.String,
			WindowTitle:  windowName.String,
			CapturedText: text.String,
		})
	}
	return events, rows.Err()
}

func (s *Screenpipe) readAudio(ctx context.Context, db *sql.DB, since, until time.Time) ([]model.RawEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT timestamp, transcription, device
		FROM audio_transcriptions
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC LIMIT ?`,
		since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339), readLimit,
	)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying audio transcriptions: %w", err)
	}
	defer rows.Close()

	var events []model.RawEvent
	for rows.Next() {
		var ts string
		var transcription, device sql.NullString
		if err := rows.Scan(&ts, &transcription, &device); err != nil {
			return nil, err
		}
		t, err := parseTimestamp(ts)
		if err != nil {
			continue
		}
		events = append(events, model.RawEvent{
			Timestamp:    t,
			Source:       model.SourceScreenpipe,
			AppName:      "audio",
			WindowTitle:  device.String,
			CapturedText: transcription.String,
		})
	}
	return events, rows.Err()
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
