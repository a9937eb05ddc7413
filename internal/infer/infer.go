// Package infer labels clustered sessions with the user's likely intent
// using a small local model. Inference is best-effort: a failed or
// low-confidence call never blocks the pipeline, it either marks the
// session as failed or turns into a clarification question for the user.
package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/flowx/internal/llm"
	"github.com/kalambet/flowx/internal/model"
)

const inferenceTimeout = 45 * time.Second

// confidenceThreshold is the floor below which the model's guess becomes
// a clarification question instead of being recorded as the intent.
const confidenceThreshold = 0.7

// Chatter is the interface for chat completion via the local model server.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// Result is the outcome of inferring one session's intent.
type Result struct {
	Intent             string
	Confidence         float64
	FrictionDetails    string
	NeedsClarification bool
	Question           model.ClassificationQuestion
}

// inferOutput mirrors the structured JSON the model is asked to produce.
type inferOutput struct {
	Intent          string  `json:"intent"`
	Confidence      float64 `json:"confidence"`
	FrictionDetails string  `json:"friction_details"`
}

// Inferrer labels sessions using a local LLM.
type Inferrer struct {
	client Chatter
	model  string
}

// New creates an Inferrer using the given chat client and model name.
func New(client Chatter, model string) *Inferrer {
	return &Inferrer{client: client, model: model}
}

// Infer asks the model what the session was about. A chat or parse
// failure yields the failure marker so callers can retry on a later
// pass; a low-confidence guess yields a clarification question.
func (in *Inferrer) Infer(ctx context.Context, s model.WorkflowSession) Result {
	ctx, cancel := context.WithTimeout(ctx, inferenceTimeout)
	defer cancel()

	raw, err := in.client.Chat(ctx, in.model, BuildPrompt(s), intentSchema())
	if err != nil {
		slog.Warn("intent inference chat failed", "session", s.ID, "error", err)
		return Result{Intent: model.InferenceFailed}
	}

	var out inferOutput
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		slog.Warn("failed to unmarshal intent from model response", "session", s.ID, "error", err, "response", raw)
		return Result{Intent: model.InferenceFailed}
	}

	out.Intent = strings.TrimSpace(out.Intent)
	if out.Intent == "" {
		return Result{Intent: model.InferenceFailed}
	}

	if out.Confidence < confidenceThreshold {
		return Result{
			Intent:             out.Intent,
			Confidence:         out.Confidence,
			FrictionDetails:    out.FrictionDetails,
			NeedsClarification: true,
			Question:           buildQuestion(s, out.Intent),
		}
	}

	return Result{
		Intent:          out.Intent,
		Confidence:      out.Confidence,
		FrictionDetails: out.FrictionDetails,
	}
}

// buildQuestion turns an uncertain guess into a question the user can
// answer later from the CLI.
func buildQuestion(s model.WorkflowSession, guess string) model.ClassificationQuestion {
	apps := strings.Join(s.AppsUsed, ", ")
	return model.ClassificationQuestion{
		SessionID: s.ID,
		Question: fmt.Sprintf("Around %s you spent %.0f minutes in %s. What were you working on?",
			s.StartTime.Format("15:04"), s.TotalDurationMinutes, apps),
		Options: []string{guess, "something else"},
		Context: fmt.Sprintf("%d app switches across %s", s.ContextSwitches, apps),
	}
}

// intentSchema returns the JSON schema for structured inference output.
func intentSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"intent":           {Type: "string", Description: "Short task description, e.g. 'competitive research on pricing'"},
			"confidence":       {Type: "number", Description: "0.0-1.0 confidence in the intent"},
			"friction_details": {Type: "string", Description: "One sentence on what made the session inefficient, empty if nothing stands out"},
		},
		Required: []string{"intent", "confidence"},
	}
}

// stripFences removes a markdown code fence wrapper if the model added
// one despite the structured-output request.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
