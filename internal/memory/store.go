// Package memory implements the tenant-scoped persistent store.
//
// A single SQLite database holds heterogeneous memory rows (entities,
// relations, observations, agent registrations) in one discriminated table,
// plus two specialized tables for the hot paths: ai_messages and
// session_handoffs. Rows are append-mostly and never hard-deleted.
package memory

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/tomcat65/neural-memory/internal/apperr"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Config holds store configuration.
type Config struct {
	DataDir          string
	MaxSearchResults int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".neural-memory"),
		MaxSearchResults: 50,
	}
}

// Store is the persistent memory engine backed by SQLite.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New creates a Store: it creates the data directory if needed, opens
// SQLite with WAL mode, and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = DefaultConfig().MaxSearchResults
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, apperr.Storage(err, "create data dir", goerr.V("dir", cfg.DataDir))
	}

	dbPath := filepath.Join(cfg.DataDir, "memory.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, apperr.Storage(err, "open database", goerr.V("path", dbPath))
	}

	// Single-process store: one shared connection avoids writer lock
	// contention under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, apperr.Storage(err, "apply pragma", goerr.V("pragma", p))
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memory_rows (
			id             TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL,
			owner_agent_id TEXT NOT NULL,
			memory_type    TEXT NOT NULL,
			content        TEXT NOT NULL,
			scope          TEXT NOT NULL DEFAULT 'shared',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rows_tenant_type ON memory_rows(tenant_id, memory_type);
		CREATE INDEX IF NOT EXISTS idx_rows_cursor      ON memory_rows(tenant_id, memory_type, updated_at, id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_rows_entity_name
			ON memory_rows(tenant_id, json_extract(content, '$.name'))
			WHERE memory_type = 'entity';
		CREATE INDEX IF NOT EXISTS idx_rows_obs_entity
			ON memory_rows(tenant_id, json_extract(content, '$.entityName'))
			WHERE memory_type = 'observation';

		CREATE TABLE IF NOT EXISTS ai_messages (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			from_agent TEXT NOT NULL,
			to_agent   TEXT NOT NULL,
			message    TEXT NOT NULL,
			type       TEXT,
			read       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_msg_inbox   ON ai_messages(tenant_id, to_agent, read, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_msg_created ON ai_messages(tenant_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS session_handoffs (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			project_id  TEXT NOT NULL,
			from_agent  TEXT NOT NULL,
			summary     TEXT NOT NULL,
			open_items  TEXT NOT NULL DEFAULT '[]',
			active      INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			consumed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_handoff_project ON session_handoffs(tenant_id, project_id, created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return apperr.Storage(err, "run migrations")
	}

	// Single-active-handoff invariant lives in the storage layer: an
	// application-level "only one active flag" check cannot stop two
	// concurrent writers from each believing they are first.
	if _, err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_handoff_single_active
			ON session_handoffs(tenant_id, project_id)
			WHERE active = 1;
	`); err != nil {
		return apperr.Storage(err, "create handoff invariant index")
	}

	return nil
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Put stores a typed payload as a memory row and returns its ID. Entities
// upsert by name within the tenant; every write stamps updated_at and is
// visible to subsequent reads in-process.
func (s *Store) Put(tenantID, ownerAgentID string, memoryType MemoryType, payload any, scope Scope) (string, error) {
	if tenantID == "" {
		return "", apperr.Validation("tenant is required")
	}

	raw, err := marshalPayload(memoryType, payload)
	if err != nil {
		return "", err
	}

	if memoryType == TypeEntity {
		e := payload.(Entity)
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM memory_rows
			 WHERE tenant_id = ? AND memory_type = 'entity'
			   AND json_extract(content, '$.name') = ?`,
			tenantID, e.Name,
		).Scan(&existingID)
		if err == nil {
			if _, err := s.db.Exec(
				`UPDATE memory_rows SET content = ?, updated_at = ? WHERE id = ?`,
				string(raw), Now(), existingID,
			); err != nil {
				return "", apperr.Storage(err, "update entity", goerr.V("name", e.Name))
			}
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", apperr.Storage(err, "look up entity", goerr.V("name", e.Name))
		}
	}

	id := uuid.NewString()
	now := Now()
	if _, err := s.db.Exec(
		`INSERT INTO memory_rows (id, tenant_id, owner_agent_id, memory_type, content, scope, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, tenantID, ownerAgentID, string(memoryType), string(raw), string(scope), now, now,
	); err != nil {
		if isUniqueViolation(err) {
			return "", apperr.Conflict("row already exists", goerr.V("memory_type", string(memoryType)))
		}
		return "", apperr.Storage(err, "insert memory row", goerr.V("memory_type", string(memoryType)))
	}
	return id, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Search returns rows whose JSON payload or type contains the query,
// newest first. The contract is input/output only: a query matches any row
// whose serialized content contains it as a substring (sufficient to
// locate, say, all messages addressed to a given agent). Messages from the
// specialized table are folded into the result as ai_message envelopes.
func (s *Store) Search(tenantID, query string, scope Scope, limit int) ([]MemoryRow, error) {
	if limit <= 0 || limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}
	needle := "%" + strings.TrimSpace(query) + "%"

	sqlStr := `
		SELECT id, tenant_id, owner_agent_id, memory_type, content, scope, created_at, updated_at
		FROM memory_rows
		WHERE tenant_id = ? AND (content LIKE ? OR memory_type LIKE ?)
	`
	args := []any{tenantID, needle, needle}
	if scope != "" {
		sqlStr += " AND scope = ?"
		args = append(args, string(scope))
	}
	sqlStr += " ORDER BY updated_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.queryRows(sqlStr, args...)
	if err != nil {
		return nil, err
	}

	msgs, err := s.searchMessages(tenantID, needle, limit)
	if err != nil {
		return nil, err
	}
	rows = append(rows, msgs...)
	// Both sources come back newest first on their own; re-rank the merged
	// set so a recent message outranks an older row when the limit bites.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].UpdatedAt != rows[j].UpdatedAt {
			return rows[i].UpdatedAt > rows[j].UpdatedAt
		}
		return rows[i].ID > rows[j].ID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// ByTypeFilter narrows a ByType query.
type ByTypeFilter struct {
	OwnerAgentID string
	Scope        Scope
	Limit        int
}

// ByType returns rows of one memory type for a tenant, newest first.
func (s *Store) ByType(tenantID string, memoryType MemoryType, f ByTypeFilter) ([]MemoryRow, error) {
	sqlStr := `
		SELECT id, tenant_id, owner_agent_id, memory_type, content, scope, created_at, updated_at
		FROM memory_rows
		WHERE tenant_id = ? AND memory_type = ?
	`
	args := []any{tenantID, string(memoryType)}
	if f.OwnerAgentID != "" {
		sqlStr += " AND owner_agent_id = ?"
		args = append(args, f.OwnerAgentID)
	}
	if f.Scope != "" {
		sqlStr += " AND scope = ?"
		args = append(args, string(f.Scope))
	}
	sqlStr += " ORDER BY updated_at DESC, id DESC"
	if f.Limit > 0 {
		sqlStr += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryRows(sqlStr, args...)
}

// EntityByName returns the entity row with the given name, or NotFound.
func (s *Store) EntityByName(tenantID, name string) (*MemoryRow, error) {
	row := s.db.QueryRow(
		`SELECT id, tenant_id, owner_agent_id, memory_type, content, scope, created_at, updated_at
		 FROM memory_rows
		 WHERE tenant_id = ? AND memory_type = 'entity'
		   AND json_extract(content, '$.name') = ?`,
		tenantID, name,
	)
	var r MemoryRow
	var content string
	if err := row.Scan(&r.ID, &r.TenantID, &r.OwnerAgentID, &r.MemoryType, &content, &r.Scope, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("entity not found", goerr.V("name", name))
		}
		return nil, apperr.Storage(err, "look up entity", goerr.V("name", name))
	}
	r.Content = []byte(content)
	return &r, nil
}

// CountByType returns the number of rows of one type for a tenant.
func (s *Store) CountByType(tenantID string, memoryType MemoryType) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM memory_rows WHERE tenant_id = ? AND memory_type = ?`,
		tenantID, string(memoryType),
	).Scan(&n)
	if err != nil {
		return 0, apperr.Storage(err, "count rows", goerr.V("memory_type", string(memoryType)))
	}
	return n, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Store) queryRows(query string, args ...any) ([]MemoryRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperr.Storage(err, "query memory rows")
	}
	defer func() { _ = rows.Close() }()

	var results []MemoryRow
	for rows.Next() {
		var r MemoryRow
		var content string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.OwnerAgentID, &r.MemoryType, &content, &r.Scope, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, apperr.Storage(err, "scan memory row")
		}
		r.Content = []byte(content)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "iterate memory rows")
	}
	return results, nil
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Now returns the current UTC time formatted for storage. Millisecond
// precision keeps the (updated_at, id) cursor ordering stable.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// TimeLayout is the storage timestamp format. Lexicographic order matches
// chronological order, which the export cursor relies on.
const TimeLayout = "2006-01-02 15:04:05.000"
