// ABOUTME: Customer memory store methods
// ABOUTME: Accumulates names, preferences, and visit counts across sessions

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetCustomer retrieves the customer record for a session.
// Returns ErrNotFound if nothing has been learned about this session yet.
func (s *SQLiteStore) GetCustomer(ctx context.Context, sessionID string) (*Customer, error) {
	query := `
		SELECT session_id, name, preferences_json, visit_count, first_seen, last_seen
		FROM customers
		WHERE session_id = ?
	`

	var c Customer
	var name, prefsJSON sql.NullString
	var firstSeenStr, lastSeenStr string

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&c.SessionID,
		&name,
		&prefsJSON,
		&c.VisitCount,
		&firstSeenStr,
		&lastSeenStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}

	if name.Valid {
		c.Name = name.String
	}
	if prefsJSON.Valid && prefsJSON.String != "" {
		if err := json.Unmarshal([]byte(prefsJSON.String), &c.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshaling preferences: %w", err)
		}
	}
	c.FirstSeen, err = time.Parse(time.RFC3339, firstSeenStr)
	if err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	c.LastSeen, err = time.Parse(time.RFC3339, lastSeenStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	return &c, nil
}

// SaveCustomer inserts or replaces the customer record for a session.
func (s *SQLiteStore) SaveCustomer(ctx context.Context, c *Customer) error {
	var prefsJSON any
	if len(c.Preferences) > 0 {
		data, err := json.Marshal(c.Preferences)
		if err != nil {
			return fmt.Errorf("marshaling preferences: %w", err)
		}
		prefsJSON = string(data)
	}

	query := `
		INSERT OR REPLACE INTO customers (session_id, name, preferences_json, visit_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.SessionID,
		nullString(c.Name),
		prefsJSON,
		c.VisitCount,
		c.FirstSeen.UTC().Format(time.RFC3339),
		c.LastSeen.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving customer: %w", err)
	}

	s.logger.Debug("saved customer", "session_id", c.SessionID, "visit_count", c.VisitCount)
	return nil
}

// RecordVisit bumps the visit counter for a session, creating the record on
// first contact.
func (s *SQLiteStore) RecordVisit(ctx context.Context, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO customers (session_id, visit_count, first_seen, last_seen)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			visit_count = visit_count + 1,
			last_seen = excluded.last_seen
	`

	_, err := s.db.ExecContext(ctx, query, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}
	return nil
}
