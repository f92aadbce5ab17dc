// Package httpapi exposes the graph-export read path over HTTP.
//
// One route does the work: GET /api/graph-export. Credentials resolve to a
// CallerContext once, at the edge; everything below receives the resolved
// context, never raw headers.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tomcat65/neural-memory/internal/access"
	"github.com/tomcat65/neural-memory/internal/apperr"
	"github.com/tomcat65/neural-memory/internal/audit"
	"github.com/tomcat65/neural-memory/internal/graph"
	"github.com/tomcat65/neural-memory/internal/memory"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	resolver *access.Resolver
	svc      *graph.Service
	audit    *audit.Logger
	log      *slog.Logger
}

// New creates the HTTP API server.
func New(resolver *access.Resolver, svc *graph.Service, auditLog *audit.Logger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{resolver: resolver, svc: svc, audit: auditLog, log: log}
}

// Routes returns the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/graph-export", s.handleGraphExport)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleGraphExport(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	caller, err := s.resolver.FromHTTP(req)
	if err != nil {
		s.writeError(w, nil, "graph-export", err)
		return
	}

	opts, err := parseOptions(req)
	if err != nil {
		s.writeError(w, caller, "graph-export", err)
		return
	}

	// A fresh cached digest lets a conditional request short-circuit
	// before any row is read. The cache key includes the permission
	// fingerprint, so a 304 can never cross privilege levels.
	if inm := req.Header.Get("If-None-Match"); inm != "" {
		if etag, ok := s.svc.CachedETag(caller, opts); ok && inm == quoteETag(etag) {
			if err := access.AuthorizeGraphRead(caller, opts.IncludeObservations); err != nil {
				s.writeError(w, caller, "graph-export", err)
				return
			}
			w.Header().Set("ETag", quoteETag(etag))
			w.WriteHeader(http.StatusNotModified)
			s.audit.GraphExport(caller.TenantID, caller.Subject, caller.Method,
				opts.IncludeObservations, "not_modified", time.Since(start))
			return
		}
	}

	page, err := s.svc.Export(caller, opts)
	if err != nil {
		s.writeError(w, caller, "graph-export", err)
		return
	}

	// Timezone hint affects display formatting only; storage is UTC.
	if tz := req.Header.Get("X-Timezone"); tz != "" {
		page.GeneratedAt = formatInZone(page.GeneratedAt, tz)
	}

	etag := quoteETag(page.ETag)
	if req.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		s.audit.GraphExport(caller.TenantID, caller.Subject, caller.Method,
			opts.IncludeObservations, "not_modified", time.Since(start))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	if err := json.NewEncoder(w).Encode(page); err != nil {
		s.log.Error("encode export response", "error", err)
	}
	s.audit.GraphExport(caller.TenantID, caller.Subject, caller.Method,
		opts.IncludeObservations, "ok", time.Since(start))
}

func parseOptions(req *http.Request) (graph.Options, error) {
	q := req.URL.Query()
	opts := graph.Options{
		Cursor:       q.Get("cursor"),
		UpdatedSince: q.Get("updatedSince"),
		EntityName:   q.Get("entityName"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, apperr.Validation("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if raw := q.Get("includeObservations"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, apperr.Validation("includeObservations must be a boolean")
		}
		opts.IncludeObservations = v
	}
	return opts, nil
}

func (s *Server) writeError(w http.ResponseWriter, caller *access.CallerContext, op string, err error) {
	status := apperr.HTTPStatus(err)

	tenant, subject := "", "anonymous"
	if caller != nil {
		tenant, subject = caller.TenantID, caller.Subject
	}
	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		s.audit.Denied(tenant, subject, op, apperr.PublicMessage(err))
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "operation", op, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperr.PublicMessage(err)})
}

func quoteETag(etag string) string {
	return `"` + etag + `"`
}

// formatInZone re-renders a storage-format UTC timestamp in the caller's
// zone. Unparseable input or an unknown zone returns the original string.
func formatInZone(ts, zone string) string {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return ts
	}
	t, err := time.ParseInLocation(memory.TimeLayout, ts, time.UTC)
	if err != nil {
		return ts
	}
	return t.In(loc).Format(time.RFC3339)
}
