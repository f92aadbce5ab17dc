package memory

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/apperr"
)

// HandoffParams holds the input for rotating a project's session handoff.
type HandoffParams struct {
	ProjectID string
	FromAgent string
	Summary   string
	OpenItems []string
}

// ActiveHandoff returns the active handoff for a project, or nil when none
// exists.
func (s *Store) ActiveHandoff(tenantID, projectID string) (*SessionHandoff, error) {
	row := s.db.QueryRow(
		`SELECT id, tenant_id, project_id, from_agent, summary, open_items, active, created_at, consumed_at
		 FROM session_handoffs
		 WHERE tenant_id = ? AND project_id = ? AND active = 1`,
		tenantID, projectID,
	)
	h, err := scanHandoff(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage(err, "query active handoff", goerr.V("project", projectID))
	}
	return h, nil
}

// RotateHandoff deactivates the prior active handoff (if any) and inserts a
// new active one as a single transaction. The partial unique index on
// (tenant_id, project_id) WHERE active = 1 guarantees that concurrent
// rotations for the same project leave exactly one active row; the
// transaction guarantees a crash cannot leave zero or two.
func (s *Store) RotateHandoff(tenantID string, p HandoffParams) (*SessionHandoff, error) {
	if tenantID == "" {
		return nil, apperr.Validation("tenant is required")
	}
	if p.ProjectID == "" {
		return nil, apperr.Validation("projectId is required")
	}
	if p.Summary == "" {
		return nil, apperr.Validation("summary is required")
	}

	openItems, err := json.Marshal(p.OpenItems)
	if err != nil {
		return nil, apperr.Validation("open items are not serializable")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, apperr.Storage(err, "begin handoff transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`UPDATE session_handoffs SET active = 0
		 WHERE tenant_id = ? AND project_id = ? AND active = 1`,
		tenantID, p.ProjectID,
	); err != nil {
		return nil, apperr.Storage(err, "deactivate prior handoff", goerr.V("project", p.ProjectID))
	}

	h := SessionHandoff{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ProjectID: p.ProjectID,
		FromAgent: p.FromAgent,
		Summary:   p.Summary,
		OpenItems: p.OpenItems,
		Active:    true,
		CreatedAt: Now(),
	}
	if _, err := tx.Exec(
		`INSERT INTO session_handoffs (id, tenant_id, project_id, from_agent, summary, open_items, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		h.ID, h.TenantID, h.ProjectID, h.FromAgent, h.Summary, string(openItems), h.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("another handoff is already active", goerr.V("project", p.ProjectID))
		}
		return nil, apperr.Storage(err, "insert handoff", goerr.V("project", p.ProjectID))
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Storage(err, "commit handoff transaction")
	}
	return &h, nil
}

// ConsumeHandoff stamps consumed_at on a handoff when a session picks it
// up. The row stays active until the next rotation deactivates it.
func (s *Store) ConsumeHandoff(tenantID, handoffID string) error {
	res, err := s.db.Exec(
		`UPDATE session_handoffs SET consumed_at = ?
		 WHERE tenant_id = ? AND id = ? AND consumed_at IS NULL`,
		Now(), tenantID, handoffID,
	)
	if err != nil {
		return apperr.Storage(err, "consume handoff", goerr.V("id", handoffID))
	}
	// Already-consumed is not an error: begin_session may re-read the same
	// active handoff across restarts.
	_, _ = res.RowsAffected()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHandoff(row rowScanner) (*SessionHandoff, error) {
	var h SessionHandoff
	var openItems string
	var active int
	if err := row.Scan(&h.ID, &h.TenantID, &h.ProjectID, &h.FromAgent, &h.Summary, &openItems, &active, &h.CreatedAt, &h.ConsumedAt); err != nil {
		return nil, err
	}
	h.Active = active != 0
	if openItems != "" {
		_ = json.Unmarshal([]byte(openItems), &h.OpenItems)
	}
	return &h, nil
}
