package schedule

import "time"

// State is the scheduler's persisted bookkeeping. It is an explicit
// value passed into and out of decision functions — there is no ambient
// singleton — which keeps every decision reproducible under test.
type State struct {
	LastRun          map[string]time.Time `json:"last_run"`
	NotifiedSessions map[string]time.Time `json:"notified_sessions"`
	PatternTriggers  map[string]time.Time `json:"pattern_triggers"`
}

// NewState returns an empty State with all maps allocated.
func NewState() *State {
	return &State{
		LastRun:          map[string]time.Time{},
		NotifiedSessions: map[string]time.Time{},
		PatternTriggers:  map[string]time.Time{},
	}
}

// Normalize allocates any nil maps, e.g. after JSON decoding of a
// partial state blob.
func (s *State) Normalize() {
	if s.LastRun == nil {
		s.LastRun = map[string]time.Time{}
	}
	if s.NotifiedSessions == nil {
		s.NotifiedSessions = map[string]time.Time{}
	}
	if s.PatternTriggers == nil {
		s.PatternTriggers = map[string]time.Time{}
	}
}

// MarkRun records that a stage fired at t.
func (s *State) MarkRun(stage string, t time.Time) {
	s.LastRun[stage] = t
}

// MarkNotified records proposal notifications for the given session ids.
func (s *State) MarkNotified(sessionIDs []string, t time.Time) {
	for _, id := range sessionIDs {
		s.NotifiedSessions[id] = t
	}
}

// MarkPatternTrigger records that a pattern drove a trigger at t.
func (s *State) MarkPatternTrigger(patternID string, t time.Time) {
	s.PatternTriggers[patternID] = t
}

// Prune drops notified-session and pattern-trigger entries older than
// RetentionDays, bounding state growth. Called before every persist.
func (s *State) Prune(now time.Time) {
	cutoff := now.AddDate(0, 0, -RetentionDays)
	for id, t := range s.NotifiedSessions {
		if t.Before(cutoff) {
			delete(s.NotifiedSessions, id)
		}
	}
	for id, t := range s.PatternTriggers {
		if t.Before(cutoff) {
			delete(s.PatternTriggers, id)
		}
	}
}
