package memory

import (
	"database/sql"
	"encoding/base64"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/tomcat65/neural-memory/internal/apperr"
)

// Cursor is the opaque pagination token for graph export. It encodes the
// (updated_at, id) ordering key of the last returned row: cursor pagination
// stays stable under concurrent inserts and updates where offsets do not.
type Cursor struct {
	UpdatedAt string
	ID        string
}

// Encode serializes a cursor into its opaque wire form.
func (c Cursor) Encode() string {
	if c.UpdatedAt == "" && c.ID == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(c.UpdatedAt + "|" + c.ID))
}

// DecodeCursor parses an opaque cursor token. Empty input yields the zero
// cursor (start of the sequence).
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Cursor{}, apperr.Validation("malformed cursor")
	}
	return Cursor{UpdatedAt: parts[0], ID: parts[1]}, nil
}

// EntityRecord is one graph node with its derived observation count.
type EntityRecord struct {
	ID               string
	Name             string
	EntityType       string
	ObservationCount int
	CreatedAt        string
	UpdatedAt        string
}

// EntityPage returns one page of a tenant's entities ordered by
// (updated_at, id), starting strictly after the cursor. updatedSince, when
// non-empty, drops rows not modified since that storage-format timestamp.
func (s *Store) EntityPage(tenantID string, cursor Cursor, limit int, updatedSince string) ([]EntityRecord, error) {
	sqlStr := `
		SELECT e.id,
		       json_extract(e.content, '$.name'),
		       ifnull(json_extract(e.content, '$.entityType'), ''),
		       (SELECT COUNT(*) FROM memory_rows o
		        WHERE o.tenant_id = e.tenant_id
		          AND o.memory_type = 'observation'
		          AND json_extract(o.content, '$.entityName') = json_extract(e.content, '$.name')),
		       e.created_at, e.updated_at
		FROM memory_rows e
		WHERE e.tenant_id = ? AND e.memory_type = 'entity'
	`
	args := []any{tenantID}
	if cursor.ID != "" {
		sqlStr += " AND (e.updated_at, e.id) > (?, ?)"
		args = append(args, cursor.UpdatedAt, cursor.ID)
	}
	if updatedSince != "" {
		sqlStr += " AND e.updated_at >= ?"
		args = append(args, updatedSince)
	}
	sqlStr += " ORDER BY e.updated_at, e.id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, apperr.Storage(err, "query entity page")
	}
	defer func() { _ = rows.Close() }()

	var results []EntityRecord
	for rows.Next() {
		var r EntityRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.EntityType, &r.ObservationCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, apperr.Storage(err, "scan entity record")
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "iterate entity page")
	}
	return results, nil
}

// Relations returns all relation payloads for a tenant. Endpoints may
// dangle; callers handle unresolved names defensively.
func (s *Store) Relations(tenantID string) ([]Relation, string, error) {
	rows, err := s.db.Query(
		`SELECT content, updated_at FROM memory_rows
		 WHERE tenant_id = ? AND memory_type = 'relation'
		 ORDER BY updated_at, id`,
		tenantID,
	)
	if err != nil {
		return nil, "", apperr.Storage(err, "query relations")
	}
	defer func() { _ = rows.Close() }()

	var results []Relation
	var maxUpdated string
	for rows.Next() {
		var content, updated string
		if err := rows.Scan(&content, &updated); err != nil {
			return nil, "", apperr.Storage(err, "scan relation")
		}
		r, err := DecodeRelation(MemoryRow{Content: []byte(content)})
		if err != nil {
			return nil, "", err
		}
		results = append(results, r)
		if updated > maxUpdated {
			maxUpdated = updated
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", apperr.Storage(err, "iterate relations")
	}
	return results, maxUpdated, nil
}

// ObservationsForEntity returns the decoded observations attached to one
// entity name, oldest first.
func (s *Store) ObservationsForEntity(tenantID, entityName string) ([]StoredObservation, error) {
	rows, err := s.db.Query(
		`SELECT id, content, created_at, updated_at FROM memory_rows
		 WHERE tenant_id = ? AND memory_type = 'observation'
		   AND json_extract(content, '$.entityName') = ?
		 ORDER BY created_at, id`,
		tenantID, entityName,
	)
	if err != nil {
		return nil, apperr.Storage(err, "query observations", goerr.V("entity", entityName))
	}
	return scanStoredObservations(rows)
}

// AllObservations returns every decoded observation for a tenant across all
// entities, oldest first.
func (s *Store) AllObservations(tenantID string) ([]StoredObservation, error) {
	rows, err := s.db.Query(
		`SELECT id, content, created_at, updated_at FROM memory_rows
		 WHERE tenant_id = ? AND memory_type = 'observation'
		 ORDER BY created_at, id`,
		tenantID,
	)
	if err != nil {
		return nil, apperr.Storage(err, "query observations", goerr.V("tenant", tenantID))
	}
	return scanStoredObservations(rows)
}

func scanStoredObservations(rows *sql.Rows) ([]StoredObservation, error) {
	defer func() { _ = rows.Close() }()

	var results []StoredObservation
	for rows.Next() {
		var so StoredObservation
		var content string
		if err := rows.Scan(&so.ID, &content, &so.CreatedAt, &so.UpdatedAt); err != nil {
			return nil, apperr.Storage(err, "scan observation")
		}
		obs, err := DecodeObservation(MemoryRow{ID: so.ID, Content: []byte(content)})
		if err != nil {
			return nil, err
		}
		so.Observation = obs
		results = append(results, so)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(err, "iterate observations")
	}
	return results, nil
}
