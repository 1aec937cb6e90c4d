// ABOUTME: Complaint and escalation store methods
// ABOUTME: Tracks logged complaints, their status transitions, and owner handoffs

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveComplaint inserts a new complaint. Returns ErrDuplicate if the ID already exists.
func (s *SQLiteStore) SaveComplaint(ctx context.Context, c *Complaint) error {
	query := `
		INSERT INTO complaints (id, session_id, summary, urgency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	status := c.Status
	if status == "" {
		status = ComplaintOpen
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.SessionID,
		c.Summary,
		c.Urgency,
		status,
		c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting complaint: %w", err)
	}

	s.logger.Debug("saved complaint", "id", c.ID, "session_id", c.SessionID, "urgency", c.Urgency)
	return nil
}

// GetComplaint retrieves a complaint by ID.
// Returns ErrNotFound if the complaint doesn't exist.
func (s *SQLiteStore) GetComplaint(ctx context.Context, id string) (*Complaint, error) {
	query := `
		SELECT id, session_id, summary, urgency, status, created_at
		FROM complaints
		WHERE id = ?
	`

	var c Complaint
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.SessionID,
		&c.Summary,
		&c.Urgency,
		&c.Status,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying complaint: %w", err)
	}

	c.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// UpdateComplaintStatus transitions a complaint to a new status.
// Returns ErrNotFound if the complaint doesn't exist.
func (s *SQLiteStore) UpdateComplaintStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE complaints SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating complaint status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated complaint status", "id", id, "status", status)
	return nil
}

// ListComplaints retrieves complaints newest first. An empty status matches
// all statuses. If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListComplaints(ctx context.Context, status string, limit int) ([]*Complaint, error) {
	limit = normalizeLimit(limit)

	query := `
		SELECT id, session_id, summary, urgency, status, created_at
		FROM complaints
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("querying complaints: %w", err)
	}
	defer rows.Close()

	var complaints []*Complaint
	for rows.Next() {
		var c Complaint
		var createdAtStr string

		if err := rows.Scan(&c.ID, &c.SessionID, &c.Summary, &c.Urgency, &c.Status, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning complaint row: %w", err)
		}
		c.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		complaints = append(complaints, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating complaint rows: %w", err)
	}
	return complaints, nil
}

// SaveEscalation inserts a new escalation record.
func (s *SQLiteStore) SaveEscalation(ctx context.Context, e *Escalation) error {
	query := `
		INSERT INTO escalations (id, session_id, reason, complaint_id, notified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	notified := 0
	if e.Notified {
		notified = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.SessionID,
		e.Reason,
		nullString(e.ComplaintID),
		notified,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting escalation: %w", err)
	}

	s.logger.Debug("saved escalation", "id", e.ID, "session_id", e.SessionID, "notified", e.Notified)
	return nil
}

// ListEscalations retrieves escalations newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListEscalations(ctx context.Context, limit int) ([]*Escalation, error) {
	limit = normalizeLimit(limit)

	query := `
		SELECT id, session_id, reason, complaint_id, notified, created_at
		FROM escalations
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying escalations: %w", err)
	}
	defer rows.Close()

	var escalations []*Escalation
	for rows.Next() {
		var e Escalation
		var complaintID sql.NullString
		var notified int
		var createdAtStr string

		if err := rows.Scan(&e.ID, &e.SessionID, &e.Reason, &complaintID, &notified, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning escalation row: %w", err)
		}
		if complaintID.Valid {
			e.ComplaintID = complaintID.String
		}
		e.Notified = notified != 0
		e.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		escalations = append(escalations, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating escalation rows: %w", err)
	}
	return escalations, nil
}
