package memory

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/apperr"
)

// MemoryType discriminates the payload variant stored in a row.
type MemoryType string

// Row variants. AiMessage rows live in their own table (see messages.go)
// but share the envelope type for search results.
const (
	TypeEntity            MemoryType = "entity"
	TypeRelation          MemoryType = "relation"
	TypeObservation       MemoryType = "observation"
	TypeAiMessage         MemoryType = "ai_message"
	TypeAgentRegistration MemoryType = "agent_registration"
)

// Scope discriminates tenant-wide rows from agent-private ones.
type Scope string

const (
	ScopeShared     Scope = "shared"
	ScopeIndividual Scope = "individual"
)

// NormalizeScope defaults unknown values to shared.
func NormalizeScope(s string) Scope {
	if Scope(strings.TrimSpace(strings.ToLower(s))) == ScopeIndividual {
		return ScopeIndividual
	}
	return ScopeShared
}

// MemoryRow is the generic envelope for every stored memory. TenantID is
// set exclusively from caller context — never from client parameters.
type MemoryRow struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	OwnerAgentID string          `json:"owner_agent_id"`
	MemoryType   MemoryType      `json:"memory_type"`
	Content      json.RawMessage `json:"content"`
	Scope        Scope           `json:"scope"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// Entity is a named node in the knowledge graph, unique per tenant.
type Entity struct {
	Name       string `json:"name"`
	EntityType string `json:"entityType"`
	Summary    string `json:"summary,omitempty"`
}

// Relation is a typed edge between two entity names. Endpoints are not
// referentially enforced — readers must tolerate dangling references.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// ObservationMetadata carries entity-level flags attached to an observation.
type ObservationMetadata struct {
	Sensitive bool `json:"sensitive,omitempty"`
}

// Observation attaches an ordered, non-empty list of content entries to an
// entity. Sensitivity is a property of the whole observation, derived from
// all entries (see internal/classify).
type Observation struct {
	EntityName  string              `json:"entityName"`
	Contents    []string            `json:"contents"`
	AddedBy     string              `json:"addedBy,omitempty"`
	MessageType string              `json:"messageType,omitempty"`
	Metadata    ObservationMetadata `json:"metadata,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

// AgentRegistration records an agent's identity and capabilities.
type AgentRegistration struct {
	AgentID      string            `json:"agentId"`
	Name         string            `json:"name,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty"`
}

// AiMessage is a directed message between agents. Highest-volume type,
// stored in its own indexed table.
type AiMessage struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// SessionHandoff is a durable marker of open work passed between agent
// sessions on a project. At most one row per project has Active=true,
// enforced by a partial unique index.
type SessionHandoff struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenant_id"`
	ProjectID  string   `json:"project_id"`
	FromAgent  string   `json:"from_agent"`
	Summary    string   `json:"summary"`
	OpenItems  []string `json:"open_items,omitempty"`
	Active     bool     `json:"active"`
	CreatedAt  string   `json:"created_at"`
	ConsumedAt *string  `json:"consumed_at,omitempty"`
}

// StoredObservation pairs a decoded observation with its row metadata.
type StoredObservation struct {
	ID string `json:"id"`
	Observation
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// marshalPayload validates a typed payload against its memory type and
// returns the JSON to persist. Validation happens here, at the storage
// boundary, so payload shapes cannot drift across write sites.
func marshalPayload(memoryType MemoryType, payload any) (json.RawMessage, error) {
	switch memoryType {
	case TypeEntity:
		e, ok := payload.(Entity)
		if !ok {
			return nil, apperr.Validation("entity payload has wrong type")
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, apperr.Validation("entity name is required")
		}
	case TypeRelation:
		r, ok := payload.(Relation)
		if !ok {
			return nil, apperr.Validation("relation payload has wrong type")
		}
		if r.From == "" || r.To == "" {
			return nil, apperr.Validation("relation requires from and to",
				goerr.V("from", r.From), goerr.V("to", r.To))
		}
		if r.RelationType == "" {
			return nil, apperr.Validation("relation requires relationType")
		}
	case TypeObservation:
		o, ok := payload.(Observation)
		if !ok {
			return nil, apperr.Validation("observation payload has wrong type")
		}
		if o.EntityName == "" {
			return nil, apperr.Validation("observation requires entityName")
		}
		if len(o.Contents) == 0 {
			return nil, apperr.Validation("observation contents must be a non-empty list",
				goerr.V("entityName", o.EntityName))
		}
	case TypeAgentRegistration:
		a, ok := payload.(AgentRegistration)
		if !ok {
			return nil, apperr.Validation("agent registration payload has wrong type")
		}
		if a.AgentID == "" {
			return nil, apperr.Validation("agent registration requires agentId")
		}
	default:
		return nil, apperr.Validation("unknown memory type", goerr.V("memory_type", string(memoryType)))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Validation("payload is not serializable")
	}
	return raw, nil
}

// DecodeEntity unmarshals an entity payload from a row.
func DecodeEntity(row MemoryRow) (Entity, error) {
	var e Entity
	if err := json.Unmarshal(row.Content, &e); err != nil {
		return Entity{}, apperr.Storage(err, "corrupt entity payload", goerr.V("id", row.ID))
	}
	return e, nil
}

// DecodeObservation unmarshals an observation payload from a row.
func DecodeObservation(row MemoryRow) (Observation, error) {
	var o Observation
	if err := json.Unmarshal(row.Content, &o); err != nil {
		return Observation{}, apperr.Storage(err, "corrupt observation payload", goerr.V("id", row.ID))
	}
	return o, nil
}

// DecodeRelation unmarshals a relation payload from a row.
func DecodeRelation(row MemoryRow) (Relation, error) {
	var r Relation
	if err := json.Unmarshal(row.Content, &r); err != nil {
		return Relation{}, apperr.Storage(err, "corrupt relation payload", goerr.V("id", row.ID))
	}
	return r, nil
}

// DecodeRegistration unmarshals an agent registration payload from a row.
func DecodeRegistration(row MemoryRow) (AgentRegistration, error) {
	var a AgentRegistration
	if err := json.Unmarshal(row.Content, &a); err != nil {
		return AgentRegistration{}, apperr.Storage(err, "corrupt registration payload", goerr.V("id", row.ID))
	}
	return a, nil
}
