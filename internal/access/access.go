// Package access resolves a caller's effective permission set and enforces
// it against requested operations.
//
// A CallerContext is produced exactly once per request and passed down;
// downstream code never re-derives roles from headers. The tenant in the
// context comes from verified credentials or server configuration, never
// from request parameters.
package access

import (
	"net/http"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/apperr"
)

// Permission is one grant in the graph-read permission model.
type Permission string

const (
	PermGraphView        Permission = "graph:view"
	PermObservationsView Permission = "graph:observations:view"
	PermSensitiveView    Permission = "graph:sensitive:view"
)

// Legacy aliases that imply view + observations.
var legacyAliases = map[string]bool{
	"graph:read":  true,
	"graph:write": true,
	"*":           true,
}

// Mode selects how credentials are resolved.
type Mode string

const (
	ModeDev    Mode = "dev"
	ModeJWT    Mode = "jwt"
	ModeAPIKey Mode = "apikey"
)

// APIKey is one configured key with its tenant binding and scopes.
type APIKey struct {
	Tenant string
	Scopes []string
}

// Config holds access-control configuration.
type Config struct {
	Mode          Mode
	DefaultTenant string
	JWTSecret     []byte
	APIKeys       map[string]APIKey
	// LegacyEmptyScopes lets API keys with no configured scopes pass with
	// the full set. Off by default; exists only for pre-scoping clients.
	LegacyEmptyScopes bool
}

// CallerContext is the immutable per-request identity value object.
type CallerContext struct {
	TenantID string
	Subject  string
	Method   string
	perms    map[Permission]bool
}

// Has reports whether the caller holds a permission.
func (c *CallerContext) Has(p Permission) bool {
	return c.perms[p]
}

// Permissions returns the effective permission set, sorted. Used as the
// policy fingerprint input for the export ETag.
func (c *CallerContext) Permissions() []string {
	out := make([]string, 0, len(c.perms))
	for p := range c.perms {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Resolver turns request credentials into a CallerContext.
type Resolver struct {
	cfg Config
}

// NewResolver creates a Resolver from configuration.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

func fullSet() map[Permission]bool {
	return map[Permission]bool{
		PermGraphView:        true,
		PermObservationsView: true,
		PermSensitiveView:    true,
	}
}

// TrustedCaller returns a full-permission context for the local agent
// surface (MCP stdio), which authenticates by process ownership.
func (r *Resolver) TrustedCaller(subject string) *CallerContext {
	return &CallerContext{
		TenantID: r.cfg.DefaultTenant,
		Subject:  subject,
		Method:   "local",
		perms:    fullSet(),
	}
}

// FromHTTP resolves credentials from an HTTP request: dev passthrough, a
// Bearer JWT, or an X-API-Key header, in configuration order.
func (r *Resolver) FromHTTP(req *http.Request) (*CallerContext, error) {
	switch r.cfg.Mode {
	case ModeDev:
		return &CallerContext{
			TenantID: r.cfg.DefaultTenant,
			Subject:  "dev",
			Method:   "dev",
			perms:    fullSet(),
		}, nil
	case ModeJWT:
		return r.fromJWT(req)
	case ModeAPIKey:
		return r.fromAPIKey(req)
	default:
		return nil, apperr.Authentication("unknown auth mode", goerr.V("mode", string(r.cfg.Mode)))
	}
}

func (r *Resolver) fromJWT(req *http.Request) (*CallerContext, error) {
	header := req.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return nil, apperr.Authentication("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Authentication("unexpected signing method",
				goerr.V("alg", t.Method.Alg()))
		}
		return r.cfg.JWTSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Authentication("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.Authentication("malformed claims")
	}

	tenant, _ := claims["tenant_id"].(string)
	if tenant == "" {
		tenant = r.cfg.DefaultTenant
	}
	subject, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)

	perms := map[Permission]bool{}
	switch strings.ToLower(role) {
	case "admin", "owner":
		perms = fullSet()
	case "member":
		perms[PermGraphView] = true
		perms[PermObservationsView] = true
	case "viewer":
		perms[PermGraphView] = true
	default:
		return nil, apperr.Authentication("unknown role", goerr.V("role", role))
	}

	return &CallerContext{TenantID: tenant, Subject: subject, Method: "jwt", perms: perms}, nil
}

func (r *Resolver) fromAPIKey(req *http.Request) (*CallerContext, error) {
	key := req.Header.Get("X-API-Key")
	if key == "" {
		return nil, apperr.Authentication("missing API key")
	}
	cfg, ok := r.cfg.APIKeys[key]
	if !ok {
		return nil, apperr.Authentication("unknown API key")
	}

	tenant := cfg.Tenant
	if tenant == "" {
		tenant = r.cfg.DefaultTenant
	}

	if len(cfg.Scopes) == 0 {
		if !r.cfg.LegacyEmptyScopes {
			return nil, apperr.Authorization("API key has no scopes configured")
		}
		return &CallerContext{TenantID: tenant, Subject: "apikey", Method: "apikey", perms: fullSet()}, nil
	}

	return &CallerContext{
		TenantID: tenant,
		Subject:  "apikey",
		Method:   "apikey",
		perms:    expandScopes(cfg.Scopes),
	}, nil
}

// expandScopes maps configured scope strings to permissions, applying
// legacy aliases and the sensitive⇒observations superset rule.
func expandScopes(scopes []string) map[Permission]bool {
	perms := map[Permission]bool{}
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if legacyAliases[s] {
			perms[PermGraphView] = true
			perms[PermObservationsView] = true
			continue
		}
		switch Permission(s) {
		case PermGraphView:
			perms[PermGraphView] = true
		case PermObservationsView:
			perms[PermObservationsView] = true
		case PermSensitiveView:
			// sensitive:view is a strict superset of observations:view —
			// sensitive-only access is not expressible.
			perms[PermSensitiveView] = true
			perms[PermObservationsView] = true
			perms[PermGraphView] = true
		}
	}
	return perms
}

// AuthorizeGraphRead checks the caller against a graph-export request.
// Failure is always an explicit rejection: silently omitting observations
// would be indistinguishable from "none exist".
func AuthorizeGraphRead(caller *CallerContext, includeObservations bool) error {
	if !caller.Has(PermGraphView) {
		return apperr.Authorization("graph:view permission required",
			goerr.V("subject", caller.Subject))
	}
	if includeObservations && !caller.Has(PermObservationsView) {
		return apperr.Authorization("graph:observations:view permission required",
			goerr.V("subject", caller.Subject))
	}
	return nil
}
