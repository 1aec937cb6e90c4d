// ABOUTME: Audit log entity and store methods for tracking gateway activity
// ABOUTME: Records message flow, tool calls, escalations, and operator actions per session

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditKind classifies an audit log entry.
type AuditKind string

const (
	AuditMessageIn       AuditKind = "message_in"
	AuditMessageOut      AuditKind = "message_out"
	AuditToolCall        AuditKind = "tool_call"
	AuditEscalation      AuditKind = "escalation"
	AuditAdminInject     AuditKind = "admin_inject"
	AuditProfileReload   AuditKind = "profile_reload"
	AuditDeliveryFailure AuditKind = "delivery_failure"
	AuditRateLimited     AuditKind = "rate_limited"
	AuditLogin           AuditKind = "login"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID        string         // UUID v4
	SessionID string         // session the entry belongs to
	Channel   string         // originating channel name
	Kind      AuditKind      // what happened
	Actor     string         // "customer", "assistant", or operator subject
	Detail    map[string]any // additional context
	Timestamp time.Time      // when it happened
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since     *time.Time // entries after this time
	SessionID *string    // filter by session
	Kind      *AuditKind // filter by kind
	Limit     int        // max results (default 100, max 1000)
}

// AppendAudit appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, session_id, channel, kind, actor, detail_json, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.SessionID,
		e.Channel,
		e.Kind,
		e.Actor,
		detailJSON,
		e.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"session_id", e.SessionID,
		"kind", e.Kind,
	)
	return nil
}

const auditLogQuery = `
	SELECT audit_id, session_id, channel, kind, actor, detail_json, ts
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR session_id = ?)
	  AND (? IS NULL OR kind = ?)
	ORDER BY ts DESC
	LIMIT ?
`

// ListAudit returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeLimit(f.Limit)

	var sinceStr, kindStr *string
	if f.Since != nil {
		str := f.Since.UTC().Format(time.RFC3339)
		sinceStr = &str
	}
	if f.Kind != nil {
		str := string(*f.Kind)
		kindStr = &str
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		sinceStr, sinceStr,
		f.SessionID, f.SessionID,
		kindStr, kindStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var kindRaw, tsStr string
		var detailJSON *string

		if err := rows.Scan(&e.ID, &e.SessionID, &e.Channel, &kindRaw, &e.Actor, &detailJSON, &tsStr); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Kind = AuditKind(kindRaw)
		e.Timestamp, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}
