// Package config holds service configuration assembled from CLI flags and
// environment variables at startup.
package config

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/access"
	"github.com/tomcat65/neural-memory/internal/apperr"
	"github.com/tomcat65/neural-memory/internal/assemble"
	"github.com/tomcat65/neural-memory/internal/memory"
)

// Config is the full service configuration.
type Config struct {
	DataDir  string
	HTTPAddr string
	LogLevel string

	Tenant            string
	AuthMode          string
	JWTSecret         string
	APIKeys           string // JSON: {"key": {"tenant": "...", "scopes": [...]}}
	LegacyEmptyScopes bool

	WebhookURL  string
	TokenBudget int
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		DataDir:     memory.DefaultConfig().DataDir,
		HTTPAddr:    ":8787",
		LogLevel:    "info",
		Tenant:      "default",
		AuthMode:    string(access.ModeDev),
		TokenBudget: assemble.DefaultTokenBudget,
	}
}

// Validate rejects inconsistent configuration before anything starts.
func (c Config) Validate() error {
	switch access.Mode(c.AuthMode) {
	case access.ModeDev:
	case access.ModeJWT:
		if c.JWTSecret == "" {
			return apperr.Validation("jwt auth mode requires a secret")
		}
	case access.ModeAPIKey:
		if strings.TrimSpace(c.APIKeys) == "" {
			return apperr.Validation("apikey auth mode requires configured keys")
		}
	default:
		return apperr.Validation("unknown auth mode", goerr.V("mode", c.AuthMode))
	}
	if c.Tenant == "" {
		return apperr.Validation("tenant is required")
	}
	return nil
}

// AccessConfig converts the flat configuration into the access-control
// form, parsing the API key JSON.
func (c Config) AccessConfig() (access.Config, error) {
	out := access.Config{
		Mode:              access.Mode(c.AuthMode),
		DefaultTenant:     c.Tenant,
		JWTSecret:         []byte(c.JWTSecret),
		LegacyEmptyScopes: c.LegacyEmptyScopes,
	}
	if strings.TrimSpace(c.APIKeys) != "" {
		var keys map[string]struct {
			Tenant string   `json:"tenant"`
			Scopes []string `json:"scopes"`
		}
		if err := json.Unmarshal([]byte(c.APIKeys), &keys); err != nil {
			return out, apperr.Validation("api keys must be a JSON object")
		}
		out.APIKeys = make(map[string]access.APIKey, len(keys))
		for k, v := range keys {
			out.APIKeys[k] = access.APIKey{Tenant: v.Tenant, Scopes: v.Scopes}
		}
	}
	return out, nil
}
