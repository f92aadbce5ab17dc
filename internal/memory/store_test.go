package memory_test

import (
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/apperr"
	"github.com/tomcat65/neural-memory/internal/memory"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.Config{
		DataDir:          t.TempDir(),
		MaxSearchResults: 20,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func putEntity(t *testing.T, s *memory.Store, tenant, name, entityType string) string {
	t.Helper()
	id, err := s.Put(tenant, "agent-1", memory.TypeEntity, memory.Entity{
		Name:       name,
		EntityType: entityType,
	}, memory.ScopeShared)
	if err != nil {
		t.Fatalf("put entity %q: %v", name, err)
	}
	return id
}

// ─── New / Initialization ───────────────────────────────────────────────────

func TestNew_IdempotentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := memory.Config{DataDir: dir, MaxSearchResults: 20}

	s1, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	putEntity(t, s1, "acme", "svc-auth", "service")
	s1.Close()

	s2, err := memory.New(cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	row, err := s2.EntityByName("acme", "svc-auth")
	if err != nil {
		t.Fatalf("entity not found after reopen: %v", err)
	}
	if row.MemoryType != memory.TypeEntity {
		t.Errorf("memory type = %q, want %q", row.MemoryType, memory.TypeEntity)
	}
}

// ─── Put ────────────────────────────────────────────────────────────────────

func TestPut_EntityUpsertKeepsID(t *testing.T) {
	s := newTestStore(t)

	id1 := putEntity(t, s, "acme", "svc-auth", "service")
	id2, err := s.Put("acme", "agent-2", memory.TypeEntity, memory.Entity{
		Name:       "svc-auth",
		EntityType: "service",
		Summary:    "handles login",
	}, memory.ScopeShared)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert produced new id: %q != %q", id1, id2)
	}

	row, err := s.EntityByName("acme", "svc-auth")
	if err != nil {
		t.Fatalf("entity lookup: %v", err)
	}
	e, err := memory.DecodeEntity(*row)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Summary != "handles login" {
		t.Errorf("summary not updated: %q", e.Summary)
	}

	count, err := s.CountByType("acme", memory.TypeEntity)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("entity count = %d, want 1", count)
	}
}

func TestPut_SameEntityNameDifferentTenants(t *testing.T) {
	s := newTestStore(t)

	id1 := putEntity(t, s, "acme", "svc-auth", "service")
	id2 := putEntity(t, s, "globex", "svc-auth", "service")
	if id1 == id2 {
		t.Error("entities in different tenants share an id")
	}
}

func TestPut_ValidationErrors(t *testing.T) {
	s := newTestStore(t)

	cases := []struct {
		name    string
		memType memory.MemoryType
		payload any
	}{
		{"entity without name", memory.TypeEntity, memory.Entity{EntityType: "service"}},
		{"relation without endpoints", memory.TypeRelation, memory.Relation{RelationType: "calls"}},
		{"observation without contents", memory.TypeObservation, memory.Observation{EntityName: "svc-auth"}},
		{"registration without agent id", memory.TypeAgentRegistration, memory.AgentRegistration{Name: "bob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Put("acme", "agent-1", tc.memType, tc.payload, memory.ScopeShared)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !goerr.HasTag(err, apperr.TagValidation) {
				t.Errorf("error not tagged validation: %v", err)
			}
		})
	}
}

func TestPut_EmptyTenantRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put("", "agent-1", memory.TypeEntity, memory.Entity{
		Name: "svc-auth", EntityType: "service",
	}, memory.ScopeShared)
	if err == nil {
		t.Fatal("expected error for empty tenant")
	}
	if !goerr.HasTag(err, apperr.TagValidation) {
		t.Errorf("error not tagged validation: %v", err)
	}
}

// ─── Search ─────────────────────────────────────────────────────────────────

func TestSearch_TenantIsolation(t *testing.T) {
	s := newTestStore(t)

	putEntity(t, s, "acme", "billing-service", "service")
	putEntity(t, s, "globex", "billing-portal", "service")

	rows, err := s.Search("acme", "billing", "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if !strings.Contains(string(rows[0].Content), "billing-service") {
		t.Errorf("wrong row returned: %s", rows[0].Content)
	}
}

func TestSearch_ScopeFilter(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Put("acme", "agent-1", memory.TypeObservation, memory.Observation{
		EntityName: "svc-auth",
		Contents:   []string{"private note about deploys"},
	}, memory.ScopeIndividual); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put("acme", "agent-1", memory.TypeObservation, memory.Observation{
		EntityName: "svc-auth",
		Contents:   []string{"shared note about deploys"},
	}, memory.ScopeShared); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Search("acme", "deploys", memory.ScopeShared, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Scope != memory.ScopeShared {
		t.Errorf("scope = %q", rows[0].Scope)
	}
}

func TestSearch_IncludesMessages(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.SendMessage("acme", memory.SendMessageParams{
		From: "a", To: "b", Message: "the rollout is blocked on migrations",
	}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Search("acme", "rollout", "", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].MemoryType != memory.TypeAiMessage {
		t.Errorf("memory type = %q, want %q", rows[0].MemoryType, memory.TypeAiMessage)
	}
}

func TestSearch_RecencyAcrossSources(t *testing.T) {
	s := newTestStore(t)

	putEntity(t, s, "acme", "rollout-plan", "doc")
	time.Sleep(2 * time.Millisecond)
	if _, err := s.SendMessage("acme", memory.SendMessageParams{
		From: "a", To: "b", Message: "rollout finished on staging",
	}); err != nil {
		t.Fatal(err)
	}

	// Both rows match; at limit 1 the newer message must win over the
	// older entity, not get dropped for arriving from the other table.
	rows, err := s.Search("acme", "rollout", "", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].MemoryType != memory.TypeAiMessage {
		t.Errorf("kept %q, want the newer %q", rows[0].MemoryType, memory.TypeAiMessage)
	}

	// Unlimited, the message still ranks first.
	rows, err = s.Search("acme", "rollout", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].MemoryType != memory.TypeAiMessage {
		t.Errorf("merged order wrong: %+v", rows)
	}
}

// ─── ByType / EntityByName ──────────────────────────────────────────────────

func TestByType_OwnerFilter(t *testing.T) {
	s := newTestStore(t)

	for _, agent := range []string{"agent-1", "agent-2"} {
		if _, err := s.Put("acme", agent, memory.TypeObservation, memory.Observation{
			EntityName: "svc-auth",
			Contents:   []string{"note from " + agent},
			AddedBy:    agent,
		}, memory.ScopeShared); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := s.ByType("acme", memory.TypeObservation, memory.ByTypeFilter{OwnerAgentID: "agent-1"})
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].OwnerAgentID != "agent-1" {
		t.Errorf("owner = %q", rows[0].OwnerAgentID)
	}
}

func TestEntityByName_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.EntityByName("acme", "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !goerr.HasTag(err, apperr.TagNotFound) {
		t.Errorf("error not tagged not-found: %v", err)
	}
}
