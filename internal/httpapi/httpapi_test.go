package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tomcat65/neural-memory/internal/access"
	"github.com/tomcat65/neural-memory/internal/audit"
	"github.com/tomcat65/neural-memory/internal/graph"
	"github.com/tomcat65/neural-memory/internal/httpapi"
	"github.com/tomcat65/neural-memory/internal/logging"
	"github.com/tomcat65/neural-memory/internal/memory"
)

const tenant = "acme"

// newTestAPI builds the full read path: store -> export service -> HTTP
// handler, with apikey auth and two keys at different privilege levels.
func newTestAPI(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()

	store, err := memory.New(memory.Config{DataDir: t.TempDir(), MaxSearchResults: 20})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc, err := graph.New(store)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	resolver := access.NewResolver(access.Config{
		Mode:          access.ModeAPIKey,
		DefaultTenant: tenant,
		APIKeys: map[string]access.APIKey{
			"k-admin":  {Tenant: tenant, Scopes: []string{"graph:sensitive:view"}},
			"k-viewer": {Tenant: tenant, Scopes: []string{"graph:view"}},
		},
	})

	log := logging.New("error", &strings.Builder{})
	api := httpapi.New(resolver, svc, audit.New(log), log)
	return store, api.Routes()
}

func seed(t *testing.T, s *memory.Store) {
	t.Helper()
	if _, err := s.Put(tenant, "agent-1", memory.TypeEntity, memory.Entity{
		Name: "svc-auth", EntityType: "service",
	}, memory.ScopeShared); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h http.Handler, key string, headers map[string]string, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/graph-export"+query, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGraphExport_OK(t *testing.T) {
	store, h := newTestAPI(t)
	seed(t, store)

	rec := do(t, h, "k-viewer", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if etag := rec.Header().Get("ETag"); etag == "" || !strings.HasPrefix(etag, `"`) {
		t.Errorf("etag = %q", etag)
	}

	var page graph.Page
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(page.Nodes) != 1 {
		t.Errorf("nodes = %d", len(page.Nodes))
	}
}

func TestGraphExport_IfNoneMatch304(t *testing.T) {
	store, h := newTestAPI(t)
	seed(t, store)

	first := do(t, h, "k-viewer", nil, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	etag := first.Header().Get("ETag")

	second := do(t, h, "k-viewer", map[string]string{"If-None-Match": etag}, "")
	if second.Code != http.StatusNotModified {
		t.Fatalf("second status = %d, want 304", second.Code)
	}
	if second.Body.Len() != 0 {
		t.Error("304 carried a body")
	}

	// After a write an unconditional fetch carries a rotated etag.
	if _, err := store.Put(tenant, "agent-1", memory.TypeEntity, memory.Entity{
		Name: "svc-billing", EntityType: "service",
	}, memory.ScopeShared); err != nil {
		t.Fatal(err)
	}
	third := do(t, h, "k-viewer", nil, "")
	if third.Code != http.StatusOK {
		t.Fatalf("third status = %d", third.Code)
	}
	if third.Header().Get("ETag") == etag {
		t.Error("etag did not rotate after a write")
	}
}

func TestGraphExport_AuthFailures(t *testing.T) {
	store, h := newTestAPI(t)
	seed(t, store)

	// No credentials.
	if rec := do(t, h, "", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}
	// Unknown key.
	if rec := do(t, h, "k-nope", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown key status = %d", rec.Code)
	}
	// Authenticated but underprivileged for observations: 403, not a
	// silently stripped page.
	rec := do(t, h, "k-viewer", nil, "?includeObservations=true")
	if rec.Code != http.StatusForbidden {
		t.Errorf("observation request status = %d, want 403", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] == "" {
		t.Error("403 without an error message")
	}
}

func TestGraphExport_BadParams(t *testing.T) {
	_, h := newTestAPI(t)

	if rec := do(t, h, "k-admin", nil, "?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
	if rec := do(t, h, "k-admin", nil, "?includeObservations=maybe"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad bool status = %d", rec.Code)
	}
	if rec := do(t, h, "k-admin", nil, "?cursor=%21%21"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d", rec.Code)
	}
}

func TestGraphExport_TimezoneDisplayOnly(t *testing.T) {
	store, h := newTestAPI(t)
	seed(t, store)

	rec := do(t, h, "k-viewer", map[string]string{"X-Timezone": "America/New_York"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page struct {
		GeneratedAt string `json:"generatedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	// RFC3339 with a zone offset, not the storage layout.
	if !strings.Contains(page.GeneratedAt, "T") {
		t.Errorf("generatedAt not re-rendered: %q", page.GeneratedAt)
	}

	// An unknown zone falls back to the stored UTC form.
	rec = do(t, h, "k-viewer", map[string]string{"X-Timezone": "Atlantis/Nowhere"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(page.GeneratedAt, "T") {
		t.Errorf("unknown zone should keep storage format: %q", page.GeneratedAt)
	}
}

func TestHealthz(t *testing.T) {
	_, h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
