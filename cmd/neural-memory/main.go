// Neural Memory: a shared, tenant-scoped memory for collaborating AI agents.
//
// Agents connect over MCP stdio to read and write memories, pass session
// handoffs, and message each other. A small HTTP API exposes the knowledge
// graph export for dashboards and other services.
//
// Usage:
//
//	neural-memory serve    # Start the MCP server (stdio) + HTTP API
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"

	"github.com/tomcat65/neural-memory/internal/config"
	"github.com/tomcat65/neural-memory/internal/logging"
	nmserver "github.com/tomcat65/neural-memory/internal/server"
)

func main() {
	// Best-effort: a missing .env is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	cfg := config.Default()
	var tokenBudget int64

	return &cli.Command{
		Name:    "neural-memory",
		Usage:   "Shared memory server for collaborating AI agents",
		Version: nmserver.Version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the MCP server (stdio transport) and graph export HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "data-dir",
						Usage:       "Directory holding the SQLite database",
						Value:       cfg.DataDir,
						Sources:     cli.EnvVars("NM_DATA_DIR"),
						Destination: &cfg.DataDir,
					},
					&cli.StringFlag{
						Name:        "http-addr",
						Usage:       "Listen address for the HTTP API",
						Value:       cfg.HTTPAddr,
						Sources:     cli.EnvVars("NM_HTTP_ADDR"),
						Destination: &cfg.HTTPAddr,
					},
					&cli.StringFlag{
						Name:        "log-level",
						Usage:       "Log level: debug, info, warn, error",
						Value:       cfg.LogLevel,
						Sources:     cli.EnvVars("NM_LOG_LEVEL"),
						Destination: &cfg.LogLevel,
					},
					&cli.StringFlag{
						Name:        "tenant",
						Usage:       "Tenant for stdio (local) callers",
						Value:       cfg.Tenant,
						Sources:     cli.EnvVars("NM_TENANT"),
						Destination: &cfg.Tenant,
					},
					&cli.StringFlag{
						Name:        "auth-mode",
						Usage:       "HTTP auth mode: dev, jwt, or apikey",
						Value:       cfg.AuthMode,
						Sources:     cli.EnvVars("NM_AUTH_MODE"),
						Destination: &cfg.AuthMode,
					},
					&cli.StringFlag{
						Name:        "jwt-secret",
						Usage:       "HMAC secret for jwt auth mode",
						Sources:     cli.EnvVars("NM_JWT_SECRET"),
						Destination: &cfg.JWTSecret,
					},
					&cli.StringFlag{
						Name:        "api-keys",
						Usage:       `API key map for apikey auth mode, JSON: {"key":{"tenant":"t","scopes":["view"]}}`,
						Sources:     cli.EnvVars("NM_API_KEYS"),
						Destination: &cfg.APIKeys,
					},
					&cli.BoolFlag{
						Name:        "legacy-empty-scopes",
						Usage:       "Grant full access to API keys with no scopes (migration aid)",
						Sources:     cli.EnvVars("NM_LEGACY_EMPTY_SCOPES"),
						Destination: &cfg.LegacyEmptyScopes,
					},
					&cli.StringFlag{
						Name:        "webhook-url",
						Usage:       "Webhook notified on session end (empty disables)",
						Sources:     cli.EnvVars("NM_WEBHOOK_URL"),
						Destination: &cfg.WebhookURL,
					},
					&cli.IntFlag{
						Name:        "token-budget",
						Usage:       "Token budget for assembled context bundles",
						Value:       int64(cfg.TokenBudget),
						Sources:     cli.EnvVars("NM_TOKEN_BUDGET"),
						Destination: &tokenBudget,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg.TokenBudget = int(tokenBudget)
					return serve(ctx, cfg)
				},
			},
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	// Logs go to stderr: stdout is reserved for the MCP stdio transport.
	log := logging.New(cfg.LogLevel, os.Stderr)

	s, api, cleanup, err := nmserver.New(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Routes()}
	go func() {
		log.Info("http api listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http api", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	log.Info("mcp server starting", "version", nmserver.Version, "tenant", cfg.Tenant)
	return server.ServeStdio(s)
}
