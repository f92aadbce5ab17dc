package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tomcat65/neural-memory/internal/memory"
)

// SearchMemoryTool handles the search_memory MCP tool.
type SearchMemoryTool struct {
	store  *memory.Store
	tenant string
}

// NewSearchMemoryTool creates a SearchMemoryTool.
func NewSearchMemoryTool(store *memory.Store, tenant string) *SearchMemoryTool {
	return &SearchMemoryTool{store: store, tenant: tenant}
}

// Definition returns the MCP tool definition for search_memory.
func (t *SearchMemoryTool) Definition() mcp.Tool {
	return mcp.NewTool("search_memory",
		mcp.WithDescription(
			"Search shared memory across entities, relations, observations, and "+
				"messages. Use this to find past decisions, project facts, or "+
				"context from other agents.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query — keywords matched against stored content"),
		),
		mcp.WithString("scope",
			mcp.Description("Filter by scope: shared or individual (default: both)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default 20)"),
		),
	)
}

// Handle processes the search_memory tool call.
func (t *SearchMemoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	// Empty scope means both; anything else must name a real scope so a
	// typo surfaces as an error instead of an empty result set.
	var scope memory.Scope
	switch raw := strings.ToLower(strings.TrimSpace(req.GetString("scope", ""))); raw {
	case "":
	case string(memory.ScopeShared), string(memory.ScopeIndividual):
		scope = memory.Scope(raw)
	default:
		return mcp.NewToolResultError("'scope' must be shared or individual"), nil
	}
	limit := intArg(req, "limit", 20)

	rows, err := t.store.Search(t.tenant, query, scope, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(rows) == 0 {
		return mcp.NewToolResultText("No memories found matching your query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n\n", len(rows))
	for i, r := range rows {
		snippet := string(r.Content)
		if len(snippet) > 300 {
			snippet = snippet[:300] + "..."
		}
		fmt.Fprintf(&b, "[%d] %s (%s, scope: %s, updated %s)\n    %s\n\n",
			i+1, r.ID, r.MemoryType, r.Scope, r.UpdatedAt, snippet)
	}

	return mcp.NewToolResultText(b.String()), nil
}
