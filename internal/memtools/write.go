package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tomcat65/neural-memory/internal/memory"
)

// CreateEntitiesTool handles the create_entities MCP tool.
type CreateEntitiesTool struct {
	store  *memory.Store
	tenant string
}

// NewCreateEntitiesTool creates a CreateEntitiesTool.
func NewCreateEntitiesTool(store *memory.Store, tenant string) *CreateEntitiesTool {
	return &CreateEntitiesTool{store: store, tenant: tenant}
}

// Definition returns the MCP tool definition for create_entities.
func (t *CreateEntitiesTool) Definition() mcp.Tool {
	return mcp.NewTool("create_entities",
		mcp.WithDescription(
			"Create or update named entities in shared memory. Entity names are "+
				"unique: creating an existing name updates it in place.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithArray("entities",
			mcp.Required(),
			mcp.Description("Entities to create: objects with name, entityType, and optional summary"),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithString("scope",
			mcp.Description("Memory scope: shared (default) or individual"),
		),
	)
}

// Handle processes the create_entities tool call.
func (t *CreateEntitiesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	var entities []memory.Entity
	if err := objectSliceArg(req, "entities", &entities); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entities) == 0 {
		return mcp.NewToolResultError("'entities' must not be empty"), nil
	}

	scope := memory.NormalizeScope(req.GetString("scope", ""))

	var names []string
	for _, e := range entities {
		if _, err := t.store.Put(t.tenant, agentID, memory.TypeEntity, e, scope); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store entity %q: %v", e.Name, err)), nil
		}
		names = append(names, e.Name)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Stored %d entities: %s", len(names), strings.Join(names, ", "))), nil
}

// CreateRelationsTool handles the create_relations MCP tool.
type CreateRelationsTool struct {
	store  *memory.Store
	tenant string
}

// NewCreateRelationsTool creates a CreateRelationsTool.
func NewCreateRelationsTool(store *memory.Store, tenant string) *CreateRelationsTool {
	return &CreateRelationsTool{store: store, tenant: tenant}
}

// Definition returns the MCP tool definition for create_relations.
func (t *CreateRelationsTool) Definition() mcp.Tool {
	return mcp.NewTool("create_relations",
		mcp.WithDescription(
			"Create typed relations between entities. Endpoints are referenced by "+
				"name and do not have to exist yet.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithArray("relations",
			mcp.Required(),
			mcp.Description("Relations to create: objects with from, to, and relationType"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

// Handle processes the create_relations tool call.
func (t *CreateRelationsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	var relations []memory.Relation
	if err := objectSliceArg(req, "relations", &relations); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(relations) == 0 {
		return mcp.NewToolResultError("'relations' must not be empty"), nil
	}

	for _, r := range relations {
		if _, err := t.store.Put(t.tenant, agentID, memory.TypeRelation, r, memory.ScopeShared); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store relation %s -> %s: %v", r.From, r.To, err)), nil
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf("Stored %d relations", len(relations))), nil
}

// AddObservationsTool handles the add_observations MCP tool.
type AddObservationsTool struct {
	store  *memory.Store
	tenant string
}

// NewAddObservationsTool creates an AddObservationsTool.
func NewAddObservationsTool(store *memory.Store, tenant string) *AddObservationsTool {
	return &AddObservationsTool{store: store, tenant: tenant}
}

// Definition returns the MCP tool definition for add_observations.
func (t *AddObservationsTool) Definition() mcp.Tool {
	return mcp.NewTool("add_observations",
		mcp.WithDescription(
			"Attach observations to an entity. Each observation carries one or "+
				"more content entries plus an optional message type (decision, "+
				"learning, system, ...).",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithString("entity_name",
			mcp.Required(),
			mcp.Description("Entity to attach the observations to"),
		),
		mcp.WithArray("contents",
			mcp.Required(),
			mcp.Description("Observation content entries"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("message_type",
			mcp.Description("Kind of observation, e.g. decision or learning"),
		),
		mcp.WithBoolean("sensitive",
			mcp.Description("Mark the observation sensitive regardless of content"),
		),
		mcp.WithString("scope",
			mcp.Description("Memory scope: shared (default) or individual"),
		),
	)
}

// Handle processes the add_observations tool call.
func (t *AddObservationsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	entityName := req.GetString("entity_name", "")

	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if entityName == "" {
		return mcp.NewToolResultError("'entity_name' is required"), nil
	}

	contents := stringSliceArg(req, "contents")
	if len(contents) == 0 {
		return mcp.NewToolResultError("'contents' must not be empty"), nil
	}

	obs := memory.Observation{
		EntityName:  entityName,
		Contents:    contents,
		AddedBy:     agentID,
		MessageType: req.GetString("message_type", ""),
		Metadata:    memory.ObservationMetadata{Sensitive: boolArg(req, "sensitive", false)},
		Timestamp:   memory.Now(),
	}

	scope := memory.NormalizeScope(req.GetString("scope", ""))

	id, err := t.store.Put(t.tenant, agentID, memory.TypeObservation, obs, scope)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store observation: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Stored observation %s on %q (%d entries)", id, entityName, len(contents))), nil
}

// RegisterAgentTool handles the register_agent MCP tool.
type RegisterAgentTool struct {
	store  *memory.Store
	tenant string
}

// NewRegisterAgentTool creates a RegisterAgentTool.
func NewRegisterAgentTool(store *memory.Store, tenant string) *RegisterAgentTool {
	return &RegisterAgentTool{store: store, tenant: tenant}
}

// Definition returns the MCP tool definition for register_agent.
func (t *RegisterAgentTool) Definition() mcp.Tool {
	return mcp.NewTool("register_agent",
		mcp.WithDescription(
			"Register your identity, capabilities, and preferences so other "+
				"agents and future sessions can find you.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Your agent identifier"),
		),
		mcp.WithString("name",
			mcp.Description("Human-readable agent name"),
		),
		mcp.WithArray("capabilities",
			mcp.Description("What this agent can do"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithObject("preferences",
			mcp.Description("String key/value preference map"),
		),
	)
}

// Handle processes the register_agent tool call.
func (t *RegisterAgentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	reg := memory.AgentRegistration{
		AgentID:      agentID,
		Name:         req.GetString("name", ""),
		Capabilities: stringSliceArg(req, "capabilities"),
	}

	if prefs, ok := req.GetArguments()["preferences"].(map[string]any); ok {
		reg.Preferences = make(map[string]string, len(prefs))
		for k, v := range prefs {
			if s, ok := v.(string); ok {
				reg.Preferences[k] = s
			}
		}
	}

	if _, err := t.store.Put(t.tenant, agentID, memory.TypeAgentRegistration, reg, memory.ScopeShared); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Agent %q registered", agentID)), nil
}
