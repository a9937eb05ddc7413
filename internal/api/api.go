// Package api exposes analysis results over a localhost HTTP API and an
// MCP server so other local tools can query them.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/flowx/internal/measure"
	"github.com/kalambet/flowx/internal/model"
	"github.com/kalambet/flowx/internal/pattern"
	"github.com/kalambet/flowx/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// trendWeeks is how many weeks of history the trends endpoint covers.
const trendWeeks = 12

type Deps struct {
	Store      *storage.Store
	HourlyRate float64

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NewHandler returns the HTTP API handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/sessions", handleListSessions(deps))
	r.Get("/sessions/{id}", handleGetSession(deps))
	r.Post("/sessions/{id}/validate", handleValidateSession(deps))
	r.Get("/patterns", handleListPatterns(deps))
	r.Get("/trends", handleTrends(deps))
	r.Get("/roi", handleROI(deps))
	r.Get("/questions", handleListQuestions(deps))
	r.Post("/questions/{id}/answer", handleAnswerQuestion(deps))
	r.Get("/adoptions", handleListAdoptions(deps))
	r.Post("/adoptions", handleCreateAdoption(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// periodRange maps a period query value to a half-open [start, end) window.
func periodRange(period string, now time.Time) (time.Time, time.Time, error) {
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
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", period)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end, err := periodRange(r.URL.Query().Get("period"), deps.now())
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		sessions, err := deps.Store.SessionsBetween(start, end)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if sessions == nil {
			sessions = []model.WorkflowSession{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessions)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		session, err := deps.Store.GetSession(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session)
	}
}

func handleValidateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Label string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Label == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "label is required")
			return
		}

		err := deps.Store.ValidateSession(id, req.Label)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to validate session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "validated"})
	}
}

func handleListPatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patterns, err := deps.Store.ListPatterns()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list patterns: %v", err)
			return
		}
		if patterns == nil {
			patterns = []model.Pattern{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(patterns)
	}
}

// TrendsResponse is the /trends payload.
type TrendsResponse struct {
	Weeks     []model.FrictionTrend `json:"weeks"`
	Direction model.TrendDirection  `json:"direction"`
}

func handleTrends(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := deps.now()
		sessions, err := deps.Store.SessionsBetween(now.AddDate(0, 0, -trendWeeks*7), now.Add(time.Minute))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load sessions: %v", err)
			return
		}

		trends := pattern.WeeklyTrends(sessions, time.Monday)
		resp := TrendsResponse{
			Weeks:     trends,
			Direction: pattern.Direction(trends),
		}
		if resp.Weeks == nil {
			resp.Weeks = []model.FrictionTrend{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// ROIResponse is the /roi payload: the adoption summary priced at the
// configured hourly rate.
type ROIResponse struct {
	measure.Summary
	WeeklySavingsUSD float64 `json:"weekly_savings_usd"`
}

func handleROI(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adoptions, err := deps.Store.ListAdoptions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list adoptions: %v", err)
			return
		}

		summary := measure.Summarize(adoptions)
		resp := ROIResponse{
			Summary:          summary,
			WeeklySavingsUSD: summary.WeeklySavingsMinutes / 60 * deps.HourlyRate,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleListQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questions, err := deps.Store.PendingQuestions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list questions: %v", err)
			return
		}
		if questions == nil {
			questions = []model.ClassificationQuestion{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(questions)
	}
}

func handleAnswerQuestion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Answer string `json:"answer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Answer == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "answer is required")
			return
		}

		err := deps.Store.AnswerQuestion(sessionID, req.Answer)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "question not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to answer question: %v", err)
			return
		}

		// The answer is the user's label for the session.
		err = deps.Store.ValidateSession(sessionID, req.Answer)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply answer: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "answered"})
	}
}

func handleListAdoptions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adoptions, err := deps.Store.ListAdoptions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list adoptions: %v", err)
			return
		}
		if adoptions == nil {
			adoptions = []model.Adoption{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(adoptions)
	}
}

func handleCreateAdoption(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Intent               string  `json:"intent"`
			BeforeMinutesPerWeek float64 `json:"before_minutes_per_week"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Intent == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "intent is required")
			return
		}
		if req.BeforeMinutesPerWeek <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "before_minutes_per_week must be positive")
			return
		}

		adoption := model.Adoption{
			ID:                   uuid.New().String(),
			Intent:               req.Intent,
			AdoptedAt:            deps.now().UTC(),
			BeforeMinutesPerWeek: req.BeforeMinutesPerWeek,
			Status:               model.AdoptionMeasuring,
		}
		if err := deps.Store.SaveAdoption(adoption); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save adoption: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(adoption)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
