package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tomcat65/neural-memory/internal/memory"
)

// SendMessageTool handles the send_message MCP tool.
type SendMessageTool struct {
	store  *memory.Store
	tenant string
}

// NewSendMessageTool creates a SendMessageTool.
func NewSendMessageTool(store *memory.Store, tenant string) *SendMessageTool {
	return &SendMessageTool{store: store, tenant: tenant}
}

// Definition returns the MCP tool definition for send_message.
func (t *SendMessageTool) Definition() mcp.Tool {
	return mcp.NewTool("send_message",
		mcp.WithDescription(
			"Send a directed message to another agent. Messages stay unread "+
				"until the recipient fetches its context or marks them read.",
		),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Sender agent identifier"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient agent identifier"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message body"),
		),
		mcp.WithString("type",
			mcp.Description("Message kind, e.g. question, status, coordination"),
		),
	)
}

// Handle processes the send_message tool call.
func (t *SendMessageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	to := req.GetString("to", "")
	message := req.GetString("message", "")

	if from == "" {
		return mcp.NewToolResultError("'from' is required"), nil
	}
	if to == "" {
		return mcp.NewToolResultError("'to' is required"), nil
	}
	if message == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}

	id, err := t.store.SendMessage(t.tenant, memory.SendMessageParams{
		From:    from,
		To:      to,
		Message: message,
		Type:    req.GetString("type", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Message %s sent to %q", id, to)), nil
}

// GetMessagesTool handles the get_messages MCP tool.
type GetMessagesTool struct {
	store  *memory.Store
	tenant string
}

// NewGetMessagesTool creates a GetMessagesTool.
func NewGetMessagesTool(store *memory.Store, tenant string) *GetMessagesTool {
	return &GetMessagesTool{store: store, tenant: tenant}
}

// Definition returns the MCP tool definition for get_messages.
func (t *GetMessagesTool) Definition() mcp.Tool {
	return mcp.NewTool("get_messages",
		mcp.WithDescription(
			"Fetch your inbox. By default returns unread messages and marks "+
				"them read.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithBoolean("include_read",
			mcp.Description("Also return messages already marked read"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max messages to return (default 50)"),
		),
	)
}

// Handle processes the get_messages tool call.
func (t *GetMessagesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	includeRead := boolArg(req, "include_read", false)
	limit := intArg(req, "limit", 50)

	msgs, err := t.store.MessagesFor(t.tenant, agentID, !includeRead, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch messages: %v", err)), nil
	}

	if len(msgs) == 0 {
		return mcp.NewToolResultText("No messages."), nil
	}

	// Only the messages actually returned get marked read; anything past
	// the limit stays unread for the next fetch.
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if _, err := t.store.MarkMessagesRead(t.tenant, agentID, ids); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to mark messages read: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d messages:\n\n", len(msgs))
	for i, m := range msgs {
		kind := ""
		if m.Type != "" {
			kind = fmt.Sprintf(" (%s)", m.Type)
		}
		fmt.Fprintf(&b, "[%d] from %s%s at %s\n    %s\n\n", i+1, m.From, kind, m.CreatedAt, m.Message)
	}

	return mcp.NewToolResultText(b.String()), nil
}
