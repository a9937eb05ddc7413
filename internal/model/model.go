// Package model holds the core domain types shared by the analytics
// pipeline: raw capture events, clustered workflow sessions, recurring
// patterns, friction trends, and adoption records.
package model

import "time"

// EventSource identifies where a raw event came from.
type EventSource string

const (
	SourceScreenpipe    EventSource = "screenpipe"
	SourceActivityWatch EventSource = "activitywatch"
	SourceManual        EventSource = "manual"
)

// RawEvent is a single observed activity event from the capture layer.
// Events are immutable; ordering by Timestamp is significant.
type RawEvent struct {
	Timestamp    time.Time   `json:"timestamp"`
	Source       EventSource `json:"source"`
	AppName      string      `json:"app_name"`
	WindowTitle  string      `json:"window_title"`
	CapturedText string      `json:"captured_text,omitempty"`
}

// FrictionLevel is the ordinal friction scale for a session.
type FrictionLevel string

const (
	FrictionLow      FrictionLevel = "low"
	FrictionMedium   FrictionLevel = "medium"
	FrictionHigh     FrictionLevel = "high"
	FrictionCritical FrictionLevel = "critical"
)

// High reports whether the level warrants attention (HIGH or CRITICAL).
func (l FrictionLevel) High() bool {
	return l == FrictionHigh || l == FrictionCritical
}

// WorkflowSession is a contiguous run of events bounded by inactivity gaps.
//
// Field ownership: the clusterer writes the structural fields (events,
// timings, switches, friction); the inference layer is the only writer of
// Intent/Confidence/FrictionDetails; the validation flow is the only writer
// of UserValidated/UserLabel. Upserts must respect that split.
type WorkflowSession struct {
	ID                   string        `json:"id"`
	StartTime            time.Time     `json:"start_time"`
	EndTime              time.Time     `json:"end_time"`
	Events               []RawEvent    `json:"events,omitempty"`
	AppsUsed             []string      `json:"apps_used"`
	TotalDurationMinutes float64       `json:"total_duration_minutes"`
	ContextSwitches      int           `json:"context_switches"`
	FrictionRate         float64       `json:"friction_rate"`
	FrictionLevel        FrictionLevel `json:"friction_level"`
	Intent               string        `json:"intent,omitempty"`
	Confidence           float64       `json:"confidence,omitempty"`
	FrictionDetails      string        `json:"friction_details,omitempty"`
	UserValidated        bool          `json:"user_validated"`
	UserLabel            string        `json:"user_label,omitempty"`
}

// Analyzed reports whether intent inference has produced a usable intent.
func (s WorkflowSession) Analyzed() bool {
	return s.Intent != "" && s.Intent != InferenceFailed
}

// InferenceFailed is the sentinel intent written when the inference
// collaborator errored. Such sessions are re-analyzed on the next run and
// excluded from pattern detection.
const InferenceFailed = "inference_failed"

// Pattern is a recurring cluster of sessions sharing similar intent.
type Pattern struct {
	ID                 string        `json:"id"`
	Intent             string        `json:"intent"`
	Occurrences        int           `json:"occurrences"`
	FirstSeen          time.Time     `json:"first_seen"`
	LastSeen           time.Time     `json:"last_seen"`
	AvgFrictionRate    float64       `json:"avg_friction_rate"`
	AvgDurationMinutes float64       `json:"avg_duration_minutes"`
	TotalMinutes       float64       `json:"total_minutes"`
	MostCommonFriction FrictionLevel `json:"most_common_friction"`
	SessionIDs         []string      `json:"session_ids"`
	AppsInvolved       []string      `json:"apps_involved"`
}

// TrendDirection classifies the trajectory of the most recent week
// against the prior one.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendWorsening TrendDirection = "worsening"
	TrendFlat      TrendDirection = "flat"
)

// FrictionTrend is one week-aligned bucket of aggregated friction.
// Derived on demand from session history, never persisted.
type FrictionTrend struct {
	WeekStart           time.Time `json:"week_start"`
	TotalSessions       int       `json:"total_sessions"`
	TotalMinutes        float64   `json:"total_minutes"`
	MeanFrictionRate    float64   `json:"mean_friction_rate"`
	HighFrictionMinutes float64   `json:"high_friction_minutes"`
}

// AdoptionStatus tracks how a replacement adoption is doing.
type AdoptionStatus string

const (
	AdoptionMeasuring AdoptionStatus = "measuring"
	AdoptionWorking   AdoptionStatus = "working"
	AdoptionRejected  AdoptionStatus = "rejected"
)

// Adoption is a user-declared baseline against which post-change time
// spent on an intent is measured.
type Adoption struct {
	ID                       string         `json:"id"`
	Intent                   string         `json:"intent"`
	AdoptedAt                time.Time      `json:"adopted_at"`
	BeforeMinutesPerWeek     float64        `json:"before_minutes_per_week"`
	AfterMinutesPerWeek      float64        `json:"after_minutes_per_week"`
	SavingsMinutesPerWeek    float64        `json:"savings_minutes_per_week"`
	CumulativeSavingsMinutes float64        `json:"cumulative_savings_minutes"`
	WeeksTracked             int            `json:"weeks_tracked"`
	Status                   AdoptionStatus `json:"status"`
}

// ClassificationQuestion is posed to the user when inference confidence
// is below the validation threshold.
type ClassificationQuestion struct {
	SessionID string   `json:"session_id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Context   string   `json:"context,omitempty"`
	Answer    string   `json:"answer,omitempty"`
	Answered  bool     `json:"answered"`
}
