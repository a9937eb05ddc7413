package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/flowx/internal/model"
	"github.com/kalambet/flowx/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:      store,
		HourlyRate: 75,
		Now:        func() time.Time { return apiNow },
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_GetSessions(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if err := store.UpsertSession(apiSession("s1", apiNow.Add(-2*time.Hour), "expense report")); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	handler := mcpGetSessions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_sessions", map[string]interface{}{
		"period": "today",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var sessions []model.WorkflowSession
	if err := json.Unmarshal([]byte(toolText(t, result)), &sessions); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestMCPTool_GetSessions_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetSessions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_sessions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_GetSessions_BadPeriod(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetSessions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_sessions", map[string]interface{}{
		"period": "decade",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown period")
	}
}

func TestMCPTool_GetFriction(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	calm := apiSession("s-low", apiNow.Add(-3*time.Hour), "reading docs")
	if err := store.UpsertSession(calm); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	hot := apiSession("s-high", apiNow.Add(-2*time.Hour), "invoice processing")
	hot.FrictionRate = 2.1
	hot.FrictionLevel = model.FrictionHigh
	if err := store.UpsertSession(hot); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	handler := mcpGetFriction(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_friction", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var sessions []model.WorkflowSession
	if err := json.Unmarshal([]byte(toolText(t, result)), &sessions); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s-high" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestMCPTool_ValidateSession(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	if err := store.UpsertSession(apiSession("s1", apiNow.Add(-time.Hour), "")); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	handler := mcpValidateSession(deps)

	result, err := handler(context.Background(), makeCallToolRequest("validate_session", map[string]interface{}{
		"session_id": "s1",
		"label":      "monthly invoicing",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	got, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("reading session: %v", err)
	}
	if !got.UserValidated || got.Intent != "monthly invoicing" {
		t.Fatalf("session = %+v", got)
	}
}

func TestMCPTool_ValidateSession_Missing(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpValidateSession(deps)

	result, err := handler(context.Background(), makeCallToolRequest("validate_session", map[string]interface{}{
		"session_id": "nope",
		"label":      "x",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing session")
	}
}

func TestMCPTool_AddAdoption(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpAddAdoption(deps)

	result, err := handler(context.Background(), makeCallToolRequest("add_adoption", map[string]interface{}{
		"intent":                  "weekly expense report",
		"before_minutes_per_week": 120,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "weekly expense report") {
		t.Errorf("response = %s", toolText(t, result))
	}

	adoptions, err := store.ListAdoptions()
	if err != nil {
		t.Fatalf("listing adoptions: %v", err)
	}
	if len(adoptions) != 1 || adoptions[0].Status != model.AdoptionMeasuring {
		t.Fatalf("adoptions = %+v", adoptions)
	}
}

func TestMCPTool_AddAdoption_BadInput(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAddAdoption(deps)

	result, err := handler(context.Background(), makeCallToolRequest("add_adoption", map[string]interface{}{
		"intent": "x",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing before_minutes_per_week")
	}
}

func TestMCPTool_GetROI(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	a := model.Adoption{
		ID:                    "a1",
		Intent:                "weekly expense report",
		AdoptedAt:             apiNow.AddDate(0, 0, -14),
		BeforeMinutesPerWeek:  180,
		AfterMinutesPerWeek:   60,
		SavingsMinutesPerWeek: 120,
		WeeksTracked:          2,
		Status:                model.AdoptionWorking,
	}
	if err := store.SaveAdoption(a); err != nil {
		t.Fatalf("seeding adoption: %v", err)
	}
	handler := mcpGetROI(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_roi", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp ROIResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Working != 1 || resp.WeeklySavingsUSD != 150 {
		t.Fatalf("roi = %+v", resp)
	}
}

func TestMCPResource_Questions(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	q := model.ClassificationQuestion{
		SessionID: "s1",
		Question:  "What were you working on?",
		Options:   []string{"expense report", "something else"},
	}
	if err := store.SaveQuestion(q); err != nil {
		t.Fatalf("seeding question: %v", err)
	}

	handler := mcpResourceQuestions(deps)
	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "flowx://questions"},
	}

	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var questions []model.ClassificationQuestion
	if err := json.Unmarshal([]byte(tc.Text), &questions); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(questions) != 1 || questions[0].SessionID != "s1" {
		t.Fatalf("questions = %+v", questions)
	}
}
