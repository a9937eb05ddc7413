package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/flowx/internal/measure"
	"github.com/kalambet/flowx/internal/model"
	"github.com/kalambet/flowx/internal/pattern"
	"github.com/kalambet/flowx/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	HourlyRate float64

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (d MCPDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NewMCPServer creates an MCP server with all flowx tools and resources
// registered, so assistants can query workflow analytics directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"flowx",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("flowx — local workflow analytics: sessions, friction, recurring patterns, and adoption ROI."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_sessions",
			mcp.WithDescription("List captured workflow sessions with friction scores and inferred intents."),
			mcp.WithString("period", mcp.Description("Time window: today, week, or month (default today)")),
		),
		mcpGetSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_friction",
			mcp.WithDescription("List only high- and critical-friction sessions, the ones worth replacing."),
			mcp.WithString("period", mcp.Description("Time window: today, week, or month (default week)")),
		),
		mcpGetFriction(deps),
	)

	s.AddTool(
		mcp.NewTool("get_patterns",
			mcp.WithDescription("List recurring workflow patterns, most time-consuming first."),
		),
		mcpGetPatterns(deps),
	)

	s.AddTool(
		mcp.NewTool("get_trends",
			mcp.WithDescription("Weekly friction trend with an overall direction (improving, worsening, or flat)."),
		),
		mcpGetTrends(deps),
	)

	s.AddTool(
		mcp.NewTool("get_roi",
			mcp.WithDescription("Adoption ROI summary: weekly and cumulative time saved by workflow replacements."),
		),
		mcpGetROI(deps),
	)

	s.AddTool(
		mcp.NewTool("validate_session",
			mcp.WithDescription("Confirm what a session was about. The label becomes the session's validated intent."),
			mcp.WithString("session_id", mcp.Description("Session ID"), mcp.Required()),
			mcp.WithString("label", mcp.Description("What the user was actually doing"), mcp.Required()),
		),
		mcpValidateSession(deps),
	)

	s.AddTool(
		mcp.NewTool("add_adoption",
			mcp.WithDescription("Start tracking a workflow replacement to measure time saved."),
			mcp.WithString("intent", mcp.Description("The workflow being replaced"), mcp.Required()),
			mcp.WithNumber("before_minutes_per_week", mcp.Description("Minutes per week the workflow took before"), mcp.Required()),
		),
		mcpAddAdoption(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"flowx://questions",
			"Pending Questions",
			mcp.WithResourceDescription("Classification questions awaiting a user answer"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceQuestions(deps),
	)

	return s
}

func mcpGetSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		period := req.GetString("period", "today")

		start, end, err := periodRange(period, deps.now())
		if err != nil {
			return mcpError(err.Error()), nil
		}

		sessions, err := deps.Store.SessionsBetween(start, end)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list sessions: %v", err)), nil
		}
		if len(sessions) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(sessions)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetFriction(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		period := req.GetString("period", "week")

		start, end, err := periodRange(period, deps.now())
		if err != nil {
			return mcpError(err.Error()), nil
		}

		sessions, err := deps.Store.SessionsBetween(start, end)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list sessions: %v", err)), nil
		}

		frictional := make([]model.WorkflowSession, 0, len(sessions))
		for _, s := range sessions {
			if s.FrictionLevel.High() {
				frictional = append(frictional, s)
			}
		}
		if len(frictional) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(frictional)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetPatterns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		patterns, err := deps.Store.ListPatterns()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list patterns: %v", err)), nil
		}
		if len(patterns) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(patterns)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal patterns: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetTrends(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		now := deps.now()
		sessions, err := deps.Store.SessionsBetween(now.AddDate(0, 0, -trendWeeks*7), now.Add(time.Minute))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load sessions: %v", err)), nil
		}

		trends := pattern.WeeklyTrends(sessions, time.Monday)
		resp := TrendsResponse{
			Weeks:     trends,
			Direction: pattern.Direction(trends),
		}
		if resp.Weeks == nil {
			resp.Weeks = []model.FrictionTrend{}
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal trends: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetROI(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		adoptions, err := deps.Store.ListAdoptions()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list adoptions: %v", err)), nil
		}

		summary := measure.Summarize(adoptions)
		resp := ROIResponse{
			Summary:          summary,
			WeeklySavingsUSD: summary.WeeklySavingsMinutes / 60 * deps.HourlyRate,
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpValidateSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		label, err := req.RequireString("label")
		if err != nil {
			return mcpError("label is required"), nil
		}

		if err := deps.Store.ValidateSession(sessionID, label); err != nil {
			return mcpError(fmt.Sprintf("failed to validate session: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Session %s validated as %q", sessionID, label)), nil
	}
}

func mcpAddAdoption(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		intent, err := req.RequireString("intent")
		if err != nil {
			return mcpError("intent is required"), nil
		}
		before := req.GetFloat("before_minutes_per_week", 0)
		if before <= 0 {
			return mcpError("before_minutes_per_week must be positive"), nil
		}

		adoption := model.Adoption{
			ID:                   uuid.New().String(),
			Intent:               intent,
			AdoptedAt:            deps.now().UTC(),
			BeforeMinutesPerWeek: before,
			Status:               model.AdoptionMeasuring,
		}
		if err := deps.Store.SaveAdoption(adoption); err != nil {
			return mcpError(fmt.Sprintf("failed to save adoption: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Tracking adoption %s for %q", adoption.ID, intent)), nil
	}
}

func mcpResourceQuestions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		questions, err := deps.Store.PendingQuestions()
		if err != nil {
			return nil, fmt.Errorf("failed to list questions: %w", err)
		}
		if questions == nil {
			questions = []model.ClassificationQuestion{}
		}

		b, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal questions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
