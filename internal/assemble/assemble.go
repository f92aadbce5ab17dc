// Package assemble builds tiered context bundles that agents use to
// reconstruct working memory across stateless calls, and owns the
// session begin/end lifecycle around them.
package assemble

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/apperr"
	"github.com/tomcat65/neural-memory/internal/memory"
	"github.com/tomcat65/neural-memory/internal/notify"
)

// DefaultTokenBudget caps a serialized bundle's estimated token count.
const DefaultTokenBudget = 2000

// guardrailEntityType marks entities that are always loaded into HOT.
const guardrailEntityType = "guardrail"

// decisionMessageType marks observations surfaced in the WARM decision list.
const decisionMessageType = "decision"

// maxWarmDecisions bounds the WARM tier's recent-decision list.
const maxWarmDecisions = 5

// ProjectInfo is the WARM-tier project summary.
type ProjectInfo struct {
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
}

// ContextBundle is the ephemeral working-memory snapshot returned to an
// agent. It is computed per request and never persisted.
type ContextBundle struct {
	Tier           Tier                       `json:"tier"`
	Identity       *memory.AgentRegistration  `json:"identity,omitempty"`
	UnreadMessages []memory.AiMessage         `json:"unreadMessages,omitempty"`
	Handoff        *memory.SessionHandoff     `json:"handoff,omitempty"`
	Guardrails     []memory.Entity            `json:"guardrails,omitempty"`
	Project        *ProjectInfo               `json:"project,omitempty"`
	Decisions      []memory.StoredObservation `json:"decisions,omitempty"`
	OpenItems      []string                   `json:"openItems,omitempty"`
	Observations   []memory.StoredObservation `json:"observations,omitempty"`
	Entities       []memory.Entity            `json:"entities,omitempty"`

	EstimatedTokens int `json:"estimatedTokens"`
	TruncatedItems  int `json:"truncatedItems,omitempty"`
}

// Assembler builds context bundles and runs the session lifecycle.
type Assembler struct {
	store     *memory.Store
	publisher notify.Publisher
	budget    int
	log       *slog.Logger
}

// New creates an Assembler. A nil publisher makes notifications report
// StatusSkipped; budget <= 0 uses DefaultTokenBudget.
func New(store *memory.Store, publisher notify.Publisher, budget int, log *slog.Logger) *Assembler {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{store: store, publisher: publisher, budget: budget, log: log}
}

// AgentContext assembles an agent's working memory at the requested tier,
// then enforces the token budget: COLD items are dropped first, then WARM,
// oldest first; HOT is never touched. Whole items are removed, never
// partial strings.
func (a *Assembler) AgentContext(tenantID, agentID, projectID string, tier Tier) (*ContextBundle, error) {
	if agentID == "" {
		return nil, apperr.Validation("agentId is required")
	}

	b := &ContextBundle{Tier: tier}

	// HOT: identity + unread messages + active handoff + guardrails.
	identity, err := a.identity(tenantID, agentID)
	if err != nil {
		return nil, err
	}
	b.Identity = identity

	unread, err := a.store.MessagesFor(tenantID, agentID, true, 50)
	if err != nil {
		return nil, err
	}
	b.UnreadMessages = unread

	if projectID != "" {
		handoff, err := a.store.ActiveHandoff(tenantID, projectID)
		if err != nil {
			return nil, err
		}
		b.Handoff = handoff
	}

	guardrails, err := a.entitiesOfType(tenantID, guardrailEntityType)
	if err != nil {
		return nil, err
	}
	b.Guardrails = guardrails

	// WARM: project summary + recent decisions + open items.
	if tier != TierHot && projectID != "" {
		if err := a.fillWarm(b, tenantID, projectID); err != nil {
			return nil, err
		}
	}

	// COLD: every observation in the tenant plus full entity content, not
	// just the rows attached to the project entity.
	if tier == TierCold && projectID != "" {
		observations, err := a.store.AllObservations(tenantID)
		if err != nil {
			return nil, err
		}
		b.Observations = observations

		entities, err := a.allEntities(tenantID)
		if err != nil {
			return nil, err
		}
		b.Entities = entities
	}

	a.enforceBudget(b)
	return b, nil
}

func (a *Assembler) fillWarm(b *ContextBundle, tenantID, projectID string) error {
	row, err := a.store.EntityByName(tenantID, projectID)
	if err != nil && !goerr.HasTag(err, apperr.TagNotFound) {
		return err
	}
	if row != nil {
		e, err := memory.DecodeEntity(*row)
		if err != nil {
			return err
		}
		b.Project = &ProjectInfo{Name: e.Name, Summary: e.Summary}
	}

	observations, err := a.store.ObservationsForEntity(tenantID, projectID)
	if err != nil {
		return err
	}
	var decisions []memory.StoredObservation
	for _, o := range observations {
		if strings.EqualFold(o.MessageType, decisionMessageType) {
			decisions = append(decisions, o)
		}
	}
	// Keep the most recent decisions; observations arrive oldest first.
	if len(decisions) > maxWarmDecisions {
		decisions = decisions[len(decisions)-maxWarmDecisions:]
	}
	b.Decisions = decisions

	if b.Handoff != nil {
		b.OpenItems = b.Handoff.OpenItems
	}
	return nil
}

// enforceBudget drops whole items in strict order — COLD first, then WARM
// — until the serialized estimate fits. Every surviving item remains
// independently valid data.
func (a *Assembler) enforceBudget(b *ContextBundle) {
	b.EstimatedTokens = estimateBundle(b)
	for b.EstimatedTokens > a.budget {
		switch {
		case len(b.Observations) > 0: // COLD, oldest first
			b.Observations = b.Observations[1:]
		case len(b.Entities) > 0: // COLD
			b.Entities = b.Entities[1:]
		case len(b.Decisions) > 0: // WARM, oldest first
			b.Decisions = b.Decisions[1:]
		case len(b.OpenItems) > 0: // WARM
			b.OpenItems = b.OpenItems[1:]
		case b.Project != nil: // WARM
			b.Project = nil
		default:
			// Only HOT remains; it is never truncated.
			return
		}
		b.TruncatedItems++
		b.EstimatedTokens = estimateBundle(b)
	}
}

func estimateBundle(b *ContextBundle) int {
	raw, err := json.Marshal(b)
	if err != nil {
		return 0
	}
	return EstimateTokens(string(raw))
}

func (a *Assembler) identity(tenantID, agentID string) (*memory.AgentRegistration, error) {
	rows, err := a.store.ByType(tenantID, memory.TypeAgentRegistration, memory.ByTypeFilter{})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		reg, err := memory.DecodeRegistration(row)
		if err != nil {
			return nil, err
		}
		if reg.AgentID == agentID {
			return &reg, nil
		}
	}
	return nil, nil
}

func (a *Assembler) entitiesOfType(tenantID, entityType string) ([]memory.Entity, error) {
	rows, err := a.store.ByType(tenantID, memory.TypeEntity, memory.ByTypeFilter{})
	if err != nil {
		return nil, err
	}
	var out []memory.Entity
	for _, row := range rows {
		e, err := memory.DecodeEntity(row)
		if err != nil {
			return nil, err
		}
		if e.EntityType == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *Assembler) allEntities(tenantID string) ([]memory.Entity, error) {
	rows, err := a.store.ByType(tenantID, memory.TypeEntity, memory.ByTypeFilter{})
	if err != nil {
		return nil, err
	}
	var out []memory.Entity
	for _, row := range rows {
		e, err := memory.DecodeEntity(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ─── Session lifecycle ───────────────────────────────────────────────────────

// SessionStart is the result of begin_session.
type SessionStart struct {
	Bundle  *ContextBundle         `json:"bundle"`
	Handoff *memory.SessionHandoff `json:"handoff,omitempty"`
}

// BeginSession assembles the WARM bundle for a project, creating a
// skeleton project entity if none exists, and consumes the active handoff.
func (a *Assembler) BeginSession(tenantID, agentID, projectID string) (*SessionStart, error) {
	if projectID == "" {
		return nil, apperr.Validation("projectId is required")
	}

	if _, err := a.store.EntityByName(tenantID, projectID); err != nil {
		if !goerr.HasTag(err, apperr.TagNotFound) {
			return nil, err
		}
		if _, err := a.store.Put(tenantID, agentID, memory.TypeEntity, memory.Entity{
			Name:       projectID,
			EntityType: "project",
		}, memory.ScopeShared); err != nil {
			return nil, err
		}
	}

	bundle, err := a.AgentContext(tenantID, agentID, projectID, TierWarm)
	if err != nil {
		return nil, err
	}

	if bundle.Handoff != nil {
		if err := a.store.ConsumeHandoff(tenantID, bundle.Handoff.ID); err != nil {
			return nil, err
		}
	}

	return &SessionStart{Bundle: bundle, Handoff: bundle.Handoff}, nil
}

// SessionEnd is the result of end_session. NotifyStatus reports the
// best-effort notification outcome; it never affects success.
type SessionEnd struct {
	Handoff      *memory.SessionHandoff `json:"handoff"`
	Learnings    int                    `json:"learnings"`
	NotifyStatus notify.Status          `json:"notifyStatus"`
}

// EndSession rotates the project handoff in one transaction, optionally
// persists learnings as observations, and emits a best-effort
// notification whose outcome is metadata only.
func (a *Assembler) EndSession(ctx context.Context, tenantID, agentID, projectID, summary string, learnings, openItems []string) (*SessionEnd, error) {
	handoff, err := a.store.RotateHandoff(tenantID, memory.HandoffParams{
		ProjectID: projectID,
		FromAgent: agentID,
		Summary:   summary,
		OpenItems: openItems,
	})
	if err != nil {
		return nil, err
	}

	saved := 0
	for _, learning := range learnings {
		if strings.TrimSpace(learning) == "" {
			continue
		}
		if _, err := a.store.Put(tenantID, agentID, memory.TypeObservation, memory.Observation{
			EntityName:  projectID,
			Contents:    []string{learning},
			AddedBy:     agentID,
			MessageType: "learning",
			Timestamp:   memory.Now(),
		}, memory.ScopeShared); err != nil {
			return nil, err
		}
		saved++
	}

	result := &SessionEnd{Handoff: handoff, Learnings: saved}
	result.NotifyStatus = a.notifySessionEnd(ctx, tenantID, agentID, projectID, summary)
	return result, nil
}

// notifySessionEnd publishes the session-end event with a hard deadline so
// the side effect cannot hold the response path open. The error, if any,
// is logged and collapsed into the tri-state status.
func (a *Assembler) notifySessionEnd(ctx context.Context, tenantID, agentID, projectID, summary string) notify.Status {
	if a.publisher == nil {
		return notify.StatusSkipped
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := a.publisher.Publish(ctx, notify.Event{
		Type:    "session_end",
		Tenant:  tenantID,
		Agent:   agentID,
		Project: projectID,
		Summary: summary,
		At:      memory.Now(),
	})
	if err != nil {
		a.log.Warn("session-end notification failed", "error", err, "project", projectID)
		return notify.StatusFailed
	}
	return notify.StatusSent
}
