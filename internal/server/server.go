// Package server wires all components and creates the server instances.
//
// This is the composition root: it creates concrete implementations and
// injects them into the tools and handlers that depend on them. No
// business logic lives here — only wiring.
package server

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tomcat65/neural-memory/internal/access"
	"github.com/tomcat65/neural-memory/internal/assemble"
	"github.com/tomcat65/neural-memory/internal/audit"
	"github.com/tomcat65/neural-memory/internal/config"
	"github.com/tomcat65/neural-memory/internal/graph"
	"github.com/tomcat65/neural-memory/internal/httpapi"
	"github.com/tomcat65/neural-memory/internal/memory"
	"github.com/tomcat65/neural-memory/internal/memtools"
	"github.com/tomcat65/neural-memory/internal/notify"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server and HTTP API with all dependencies resolved.
//
// The returned cleanup function closes the memory store's database
// connection and must be called on shutdown (typically via defer). It is
// always non-nil and safe to call even when initialization failed.
func New(cfg config.Config, log *slog.Logger) (*server.MCPServer, *httpapi.Server, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, noop, err
	}

	store, err := memory.New(memory.Config{DataDir: cfg.DataDir})
	if err != nil {
		return nil, nil, noop, goerr.Wrap(err, "opening memory store")
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warn("memory store close", "error", err)
		}
	}

	// NewWebhook returns a typed nil on an empty URL; assigning that
	// directly to the interface would defeat the nil checks downstream.
	var publisher notify.Publisher
	if wh := notify.NewWebhook(cfg.WebhookURL); wh != nil {
		publisher = wh
	}

	assembler := assemble.New(store, publisher, cfg.TokenBudget, log)

	graphSvc, err := graph.New(store)
	if err != nil {
		cleanup()
		return nil, nil, noop, goerr.Wrap(err, "creating graph export service")
	}

	accessCfg, err := cfg.AccessConfig()
	if err != nil {
		cleanup()
		return nil, nil, noop, err
	}
	resolver := access.NewResolver(accessCfg)
	auditLog := audit.New(log)

	api := httpapi.New(resolver, graphSvc, auditLog, log)

	s := server.NewMCPServer(
		"neural-memory",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)
	registerMemoryTools(s, store, assembler, cfg.Tenant)

	return s, api, cleanup, nil
}

// registerMemoryTools registers every memory tool on the MCP server.
// Stdio tools act for a local trusted caller inside cfg.Tenant.
func registerMemoryTools(s *server.MCPServer, store *memory.Store, assembler *assemble.Assembler, tenant string) {
	contextTool := memtools.NewGetAgentContextTool(assembler, tenant)
	s.AddTool(contextTool.Definition(), contextTool.Handle)

	beginTool := memtools.NewBeginSessionTool(assembler, tenant)
	s.AddTool(beginTool.Definition(), beginTool.Handle)

	endTool := memtools.NewEndSessionTool(assembler, tenant)
	s.AddTool(endTool.Definition(), endTool.Handle)

	registerTool := memtools.NewRegisterAgentTool(store, tenant)
	s.AddTool(registerTool.Definition(), registerTool.Handle)

	entitiesTool := memtools.NewCreateEntitiesTool(store, tenant)
	s.AddTool(entitiesTool.Definition(), entitiesTool.Handle)

	relationsTool := memtools.NewCreateRelationsTool(store, tenant)
	s.AddTool(relationsTool.Definition(), relationsTool.Handle)

	observationsTool := memtools.NewAddObservationsTool(store, tenant)
	s.AddTool(observationsTool.Definition(), observationsTool.Handle)

	sendTool := memtools.NewSendMessageTool(store, tenant)
	s.AddTool(sendTool.Definition(), sendTool.Handle)

	messagesTool := memtools.NewGetMessagesTool(store, tenant)
	s.AddTool(messagesTool.Definition(), messagesTool.Handle)

	searchTool := memtools.NewSearchMemoryTool(store, tenant)
	s.AddTool(searchTool.Definition(), searchTool.Handle)
}

func noop() {}

// serverInstructions tells the connected AI how to use the memory system.
func serverInstructions() string {
	return `This server is a shared memory for collaborating AI agents.

Workflow:
1. Call begin_session(agent_id, project_id) at the start of every session.
   It returns your working context and the handoff left by the previous
   session.
2. During work, persist facts with create_entities, create_relations, and
   add_observations. Coordinate with other agents via send_message and
   get_messages. Use search_memory to recall past context.
3. Call end_session(agent_id, project_id, summary, learnings, open_items)
   before finishing. The summary and open items become the next session's
   handoff.

Use get_agent_context with depth "hot", "warm", or "cold" when you need a
fresh snapshot at a different level of detail.`
}
