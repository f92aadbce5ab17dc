package memory

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/apperr"
)

// SendMessageParams holds the input for sending an agent-to-agent message.
type SendMessageParams struct {
	From    string
	To      string
	Message string
	Type    string
}

// SendMessage stores a directed message in the indexed hot-path table.
func (s *Store) SendMessage(tenantID string, p SendMessageParams) (string, error) {
	if tenantID == "" {
		return "", apperr.Validation("tenant is required")
	}
	if p.From == "" || p.To == "" {
		return "", apperr.Validation("message requires from and to",
			goerr.V("from", p.From), goerr.V("to", p.To))
	}
	if p.Message == "" {
		return "", apperr.Validation("message body is required")
	}

	id := uuid.NewString()
	if _, err := s.db.Exec(
		`INSERT INTO ai_messages (id, tenant_id, from_agent, to_agent, message, type, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		id, tenantID, p.From, p.To, p.Message, p.Type, Now(),
	); err != nil {
		return "", apperr.Storage(err, "insert message", goerr.V("to", p.To))
	}
	return id, nil
}

// MessagesFor returns messages addressed to an agent, newest first.
func (s *Store) MessagesFor(tenantID, agentID string, unreadOnly bool, limit int) ([]AiMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	sqlStr := `
		SELECT id, tenant_id, from_agent, to_agent, message, ifnull(type, ''), read, created_at
		FROM ai_messages
		WHERE tenant_id = ? AND to_agent = ?
	`
	args := []any{tenantID, agentID}
	if unreadOnly {
		sqlStr += " AND read = 0"
	}
	sqlStr += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, apperr.Storage(err, "query messages", goerr.V("agent", agentID))
	}
	defer func() { _ = rows.Close() }()

	var results []AiMessage
	for rows.Next() {
		var m AiMessage
		var read int
		if err := rows.Scan(&m.ID, &m.TenantID, &m.From, &m.To, &m.Message, &m.Type, &read, &m.CreatedAt); err != nil {
			return nil, apperr.Storage(err, "scan message")
		}
		m.Read = read != 0
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "iterate messages")
	}
	return results, nil
}

// MarkMessagesRead marks the given messages read. Only ids addressed to the
// agent within the tenant are touched, so a caller can never flip messages
// it has not actually seen. Returns the number of messages affected.
func (s *Store) MarkMessagesRead(tenantID, agentID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+2)
	args = append(args, tenantID, agentID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.Exec(
		`UPDATE ai_messages SET read = 1
		 WHERE tenant_id = ? AND to_agent = ? AND read = 0 AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, apperr.Storage(err, "mark messages read", goerr.V("agent", agentID))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UnreadCount returns the number of unread messages for an agent.
func (s *Store) UnreadCount(tenantID, agentID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM ai_messages WHERE tenant_id = ? AND to_agent = ? AND read = 0`,
		tenantID, agentID,
	).Scan(&n)
	if err != nil {
		return 0, apperr.Storage(err, "count unread messages", goerr.V("agent", agentID))
	}
	return n, nil
}

// searchMessages folds LIKE matches from the hot-path table into generic
// row envelopes so Search covers messages too.
func (s *Store) searchMessages(tenantID, needle string, limit int) ([]MemoryRow, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, from_agent, to_agent, message, ifnull(type, ''), read, created_at
		 FROM ai_messages
		 WHERE tenant_id = ? AND (message LIKE ? OR to_agent LIKE ? OR from_agent LIKE ?)
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		tenantID, needle, needle, needle, limit,
	)
	if err != nil {
		return nil, apperr.Storage(err, "search messages")
	}
	defer func() { _ = rows.Close() }()

	var results []MemoryRow
	for rows.Next() {
		var m AiMessage
		var read int
		if err := rows.Scan(&m.ID, &m.TenantID, &m.From, &m.To, &m.Message, &m.Type, &read, &m.CreatedAt); err != nil {
			return nil, apperr.Storage(err, "scan message")
		}
		m.Read = read != 0
		content, err := json.Marshal(m)
		if err != nil {
			return nil, apperr.Storage(err, "encode message envelope")
		}
		results = append(results, MemoryRow{
			ID:           m.ID,
			TenantID:     m.TenantID,
			OwnerAgentID: m.From,
			MemoryType:   TypeAiMessage,
			Content:      content,
			Scope:        ScopeShared,
			CreatedAt:    m.CreatedAt,
			UpdatedAt:    m.CreatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "iterate message search")
	}
	return results, nil
}
