package memtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tomcat65/neural-memory/internal/assemble"
)

// GetAgentContextTool handles the get_agent_context MCP tool.
type GetAgentContextTool struct {
	assembler *assemble.Assembler
	tenant    string
}

// NewGetAgentContextTool creates a GetAgentContextTool.
func NewGetAgentContextTool(assembler *assemble.Assembler, tenant string) *GetAgentContextTool {
	return &GetAgentContextTool{assembler: assembler, tenant: tenant}
}

// Definition returns the MCP tool definition for get_agent_context.
func (t *GetAgentContextTool) Definition() mcp.Tool {
	return mcp.NewTool("get_agent_context",
		mcp.WithDescription(
			"Assemble your working memory: identity, unread messages, active handoff, "+
				"guardrails, and (at deeper tiers) project summary, recent decisions, "+
				"and full observation history. Call this first in every session.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithString("project_id",
			mcp.Description("Project to load WARM/COLD context for"),
		),
		mcp.WithString("depth",
			mcp.Description("Context tier: hot, warm (default), or cold"),
		),
	)
}

// Handle processes the get_agent_context tool call.
func (t *GetAgentContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	projectID := req.GetString("project_id", "")
	tier := assemble.ParseTier(req.GetString("depth", ""))

	bundle, err := t.assembler.AgentContext(t.tenant, agentID, projectID, tier)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assemble context: %v", err)), nil
	}

	return jsonResult(bundle)
}

// BeginSessionTool handles the begin_session MCP tool.
type BeginSessionTool struct {
	assembler *assemble.Assembler
	tenant    string
}

// NewBeginSessionTool creates a BeginSessionTool.
func NewBeginSessionTool(assembler *assemble.Assembler, tenant string) *BeginSessionTool {
	return &BeginSessionTool{assembler: assembler, tenant: tenant}
}

// Definition returns the MCP tool definition for begin_session.
func (t *BeginSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("begin_session",
		mcp.WithDescription(
			"Start a working session on a project. Returns the WARM context bundle "+
				"and consumes the active handoff from the previous session, so call "+
				"it exactly once per session.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project the session works on"),
		),
	)
}

// Handle processes the begin_session tool call.
func (t *BeginSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	projectID := req.GetString("project_id", "")

	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}

	start, err := t.assembler.BeginSession(t.tenant, agentID, projectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to begin session: %v", err)), nil
	}

	return jsonResult(start)
}

// EndSessionTool handles the end_session MCP tool.
type EndSessionTool struct {
	assembler *assemble.Assembler
	tenant    string
}

// NewEndSessionTool creates an EndSessionTool.
func NewEndSessionTool(assembler *assemble.Assembler, tenant string) *EndSessionTool {
	return &EndSessionTool{assembler: assembler, tenant: tenant}
}

// Definition returns the MCP tool definition for end_session.
func (t *EndSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("end_session",
		mcp.WithDescription(
			"End a working session. Writes a handoff summary for the next session, "+
				"persists learnings as observations, and notifies the team webhook "+
				"if one is configured.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project the session worked on"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("What was accomplished this session"),
		),
		mcp.WithArray("learnings",
			mcp.Description("Durable insights to persist as observations"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("open_items",
			mcp.Description("Unfinished work to hand to the next session"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

// Handle processes the end_session tool call.
func (t *EndSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	projectID := req.GetString("project_id", "")
	summary := req.GetString("summary", "")

	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	if summary == "" {
		return mcp.NewToolResultError("'summary' is required"), nil
	}

	learnings := stringSliceArg(req, "learnings")
	openItems := stringSliceArg(req, "open_items")

	end, err := t.assembler.EndSession(ctx, t.tenant, agentID, projectID, summary, learnings, openItems)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to end session: %v", err)), nil
	}

	return jsonResult(end)
}

// jsonResult renders v as an indented JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
