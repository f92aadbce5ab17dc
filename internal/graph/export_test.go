package graph_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/access"
	"github.com/tomcat65/neural-memory/internal/apperr"
	"github.com/tomcat65/neural-memory/internal/graph"
	"github.com/tomcat65/neural-memory/internal/memory"
)

const tenant = "acme"

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.New(memory.Config{DataDir: t.TempDir(), MaxSearchResults: 20})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newService(t *testing.T, s *memory.Store) *graph.Service {
	t.Helper()
	svc, err := graph.New(s)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return svc
}

// callerWithScopes resolves an apikey caller holding exactly the given
// scopes, bound to the test tenant.
func callerWithScopes(t *testing.T, scopes ...string) *access.CallerContext {
	t.Helper()
	r := access.NewResolver(access.Config{
		Mode:          access.ModeAPIKey,
		DefaultTenant: tenant,
		APIKeys:       map[string]access.APIKey{"k": {Tenant: tenant, Scopes: scopes}},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "k")
	caller, err := r.FromHTTP(req)
	if err != nil {
		t.Fatalf("resolve caller: %v", err)
	}
	return caller
}

func seedGraph(t *testing.T, s *memory.Store) {
	t.Helper()
	for _, e := range []memory.Entity{
		{Name: "svc-auth", EntityType: "service"},
		{Name: "svc-billing", EntityType: "service"},
	} {
		if _, err := s.Put(tenant, "agent-1", memory.TypeEntity, e, memory.ScopeShared); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Put(tenant, "agent-1", memory.TypeRelation, memory.Relation{
		From: "svc-auth", To: "svc-billing", RelationType: "calls",
	}, memory.ScopeShared); err != nil {
		t.Fatal(err)
	}
	for _, obs := range []memory.Observation{
		{EntityName: "svc-auth", Contents: []string{"handles login"}, AddedBy: "agent-1"},
		{EntityName: "svc-auth", Contents: []string{"[internal] redeploy pending"}, AddedBy: "agent-2"},
	} {
		if _, err := s.Put(tenant, "agent-1", memory.TypeObservation, obs, memory.ScopeShared); err != nil {
			t.Fatal(err)
		}
	}
}

// ─── Export ─────────────────────────────────────────────────────────────────

func TestExport_Page(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)

	page, err := svc.Export(callerWithScopes(t, "graph:view"), graph.Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if len(page.Nodes) != 2 {
		t.Errorf("nodes = %d", len(page.Nodes))
	}
	if n, ok := page.Nodes["svc-auth"]; !ok || n.ObservationCount != 2 {
		t.Errorf("svc-auth node = %+v", n)
	}
	if len(page.Links) != 1 {
		t.Errorf("links = %d", len(page.Links))
	}
	if page.Observations != nil {
		t.Error("observations returned without includeObservations")
	}
	if page.Totals.Entities != 2 || page.Totals.Relations != 1 || page.Totals.Observations != 2 {
		t.Errorf("totals = %+v", page.Totals)
	}
	if page.NextCursor != "" {
		t.Errorf("unexpected next cursor on a complete page")
	}
	if page.ETag == "" || page.GeneratedAt == "" {
		t.Error("etag or generatedAt missing")
	}
}

func TestExport_PaginationCursor(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)
	caller := callerWithScopes(t, "graph:view")

	first, err := svc.Export(caller, graph.Options{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Nodes) != 1 || first.NextCursor == "" {
		t.Fatalf("first page: nodes=%d cursor=%q", len(first.Nodes), first.NextCursor)
	}

	second, err := svc.Export(caller, graph.Options{Limit: 1, Cursor: first.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	for name := range second.Nodes {
		if _, dup := first.Nodes[name]; dup {
			t.Errorf("node %q on both pages", name)
		}
	}
	if len(first.Nodes)+len(second.Nodes) != 2 {
		t.Error("pages do not cover all entities")
	}
}

func TestExport_MalformedCursor(t *testing.T) {
	svc := newService(t, newTestStore(t))

	_, err := svc.Export(callerWithScopes(t, "graph:view"), graph.Options{Cursor: "!!not-a-cursor!!"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !goerr.HasTag(err, apperr.TagValidation) {
		t.Errorf("error not tagged validation: %v", err)
	}
}

// ─── Authorization ──────────────────────────────────────────────────────────

func TestExport_AuthorizationBeforeRead(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)

	// Observations without the permission: explicit rejection.
	_, err := svc.Export(callerWithScopes(t, "graph:view"), graph.Options{IncludeObservations: true})
	if err == nil {
		t.Fatal("expected authorization error, not a stripped page")
	}
	if !goerr.HasTag(err, apperr.TagAuthorization) {
		t.Errorf("error not tagged authorization: %v", err)
	}
}

func TestExport_SensitiveFiltering(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)

	// Observations tier: the [internal] observation is dropped whole.
	page, err := svc.Export(callerWithScopes(t, "graph:observations:view"),
		graph.Options{IncludeObservations: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Observations) != 1 {
		t.Fatalf("observations = %d, want 1", len(page.Observations))
	}
	if page.Observations[0].Contents[0] != "handles login" {
		t.Errorf("wrong observation survived: %+v", page.Observations[0])
	}

	// Sensitive tier sees both.
	page, err = svc.Export(callerWithScopes(t, "graph:sensitive:view"),
		graph.Options{IncludeObservations: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Observations) != 2 {
		t.Errorf("observations = %d, want 2", len(page.Observations))
	}
}

// ─── ETag ───────────────────────────────────────────────────────────────────

func TestExport_ETagReflectsPermissions(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)

	obsPage, err := svc.Export(callerWithScopes(t, "graph:observations:view"),
		graph.Options{IncludeObservations: true})
	if err != nil {
		t.Fatal(err)
	}
	sensPage, err := svc.Export(callerWithScopes(t, "graph:sensitive:view"),
		graph.Options{IncludeObservations: true})
	if err != nil {
		t.Fatal(err)
	}

	// Identical data, different privilege: the digests must differ so a
	// cached 304 can never serve one caller the other's view.
	if obsPage.ETag == sensPage.ETag {
		t.Error("etag identical across permission sets")
	}
}

func TestExport_ETagStableAndChangesOnWrite(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)
	caller := callerWithScopes(t, "graph:view")

	a, err := svc.Export(caller, graph.Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Export(caller, graph.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.ETag != b.ETag {
		t.Error("etag unstable over identical data")
	}

	if _, err := s.Put(tenant, "agent-1", memory.TypeEntity, memory.Entity{
		Name: "svc-search", EntityType: "service",
	}, memory.ScopeShared); err != nil {
		t.Fatal(err)
	}
	c, err := svc.Export(caller, graph.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if c.ETag == a.ETag {
		t.Error("etag unchanged after write")
	}
}

// ─── Entity mode ────────────────────────────────────────────────────────────

func TestExport_EntityMode(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)

	page, err := svc.Export(callerWithScopes(t, "graph:sensitive:view"),
		graph.Options{EntityName: "svc-auth", IncludeObservations: true})
	if err != nil {
		t.Fatal(err)
	}
	if page.Nodes != nil || page.Links != nil {
		t.Error("entity mode must not return topology")
	}
	if len(page.Observations) != 2 {
		t.Errorf("observations = %d", len(page.Observations))
	}
}

func TestExport_EntityModeRequiresObservations(t *testing.T) {
	svc := newService(t, newTestStore(t))

	_, err := svc.Export(callerWithScopes(t, "graph:sensitive:view"),
		graph.Options{EntityName: "svc-auth"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !goerr.HasTag(err, apperr.TagValidation) {
		t.Errorf("error not tagged validation: %v", err)
	}
}

func TestExport_EntityModeUnknownEntity(t *testing.T) {
	svc := newService(t, newTestStore(t))

	_, err := svc.Export(callerWithScopes(t, "graph:sensitive:view"),
		graph.Options{EntityName: "ghost", IncludeObservations: true})
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !goerr.HasTag(err, apperr.TagNotFound) {
		t.Errorf("error not tagged not-found: %v", err)
	}
}

func TestExport_CachedETagOmittedLimit(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)
	caller := callerWithScopes(t, "graph:view")

	page, err := svc.Export(caller, graph.Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// An omitted limit and the explicit default limit are the same query
	// shape and must resolve to the same cache entry.
	etag, ok := svc.CachedETag(caller, graph.Options{})
	if !ok {
		t.Fatal("cache miss for the options just exported")
	}
	if etag != page.ETag {
		t.Errorf("cached etag = %q, want %q", etag, page.ETag)
	}
	if etag, ok := svc.CachedETag(caller, graph.Options{Limit: graph.DefaultLimit}); !ok || etag != page.ETag {
		t.Errorf("explicit default limit missed the cache (ok=%v etag=%q)", ok, etag)
	}

	// A genuinely different limit is a different entry.
	if _, ok := svc.CachedETag(caller, graph.Options{Limit: 5}); ok {
		t.Error("unexpected cache hit for a limit never exported")
	}
}

func TestExport_TenantIsolation(t *testing.T) {
	s := newTestStore(t)
	seedGraph(t, s)
	svc := newService(t, s)

	// Another tenant's graph sharing the same store.
	if _, err := s.Put("globex", "agent-9", memory.TypeEntity,
		memory.Entity{Name: "globex-core", EntityType: "service"}, memory.ScopeShared); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put("globex", "agent-9", memory.TypeObservation,
		memory.Observation{EntityName: "globex-core", Contents: []string{"globex only"}}, memory.ScopeShared); err != nil {
		t.Fatal(err)
	}

	caller := callerWithScopes(t, "graph:view", "graph:observations:view")

	// Entity mode against the other tenant's entity reads as absent, not
	// as someone else's data.
	_, err := svc.Export(caller, graph.Options{EntityName: "globex-core", IncludeObservations: true})
	if err == nil {
		t.Fatal("expected not-found for another tenant's entity")
	}
	if !goerr.HasTag(err, apperr.TagNotFound) {
		t.Errorf("error not tagged not-found: %v", err)
	}

	// The full page carries no trace of the other tenant.
	page, err := svc.Export(caller, graph.Options{IncludeObservations: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, ok := page.Nodes["globex-core"]; ok {
		t.Error("another tenant's entity leaked into the page")
	}
	if page.Totals.Entities != 2 || page.Totals.Observations != 2 {
		t.Errorf("totals include foreign rows: %+v", page.Totals)
	}
	for _, obs := range page.Observations {
		if obs.EntityName == "globex-core" {
			t.Errorf("another tenant's observation leaked: %+v", obs)
		}
	}
}
