// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides order/booking/complaint persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS orders (
			id                 TEXT PRIMARY KEY,
			session_id         TEXT NOT NULL,
			items_json         TEXT NOT NULL,
			subtotal_cents     INTEGER NOT NULL,
			delivery_fee_cents INTEGER NOT NULL DEFAULT 0,
			total_cents        INTEGER NOT NULL,
			fulfilment         TEXT NOT NULL,
			notes              TEXT,
			created_at         TEXT NOT NULL,

			CHECK (fulfilment IN ('pickup', 'delivery'))
		);

		CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id, created_at);

		CREATE TABLE IF NOT EXISTS bookings (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			party_size    INTEGER NOT NULL,
			booking_date  TEXT NOT NULL,
			booking_time  TEXT NOT NULL,
			notes         TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bookings_session ON bookings(session_id);

		CREATE TABLE IF NOT EXISTS complaints (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			summary    TEXT NOT NULL,
			urgency    TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at TEXT NOT NULL,

			CHECK (urgency IN ('low', 'medium', 'high')),
			CHECK (status IN ('open', 'escalated', 'resolved'))
		);

		CREATE INDEX IF NOT EXISTS idx_complaints_status ON complaints(status);
		CREATE INDEX IF NOT EXISTS idx_complaints_session ON complaints(session_id);

		CREATE TABLE IF NOT EXISTS escalations (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			reason       TEXT NOT NULL,
			complaint_id TEXT,
			notified     INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_escalations_session ON escalations(session_id);

		CREATE TABLE IF NOT EXISTS customers (
			session_id       TEXT PRIMARY KEY,
			name             TEXT,
			preferences_json TEXT,
			visit_count      INTEGER NOT NULL DEFAULT 0,
			first_seen       TEXT NOT NULL,
			last_seen        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			channel     TEXT NOT NULL,
			kind        TEXT NOT NULL,
			actor       TEXT NOT NULL,
			detail_json TEXT,
			ts          TEXT NOT NULL,

			CHECK (kind IN (
				'message_in',
				'message_out',
				'tool_call',
				'escalation',
				'admin_inject',
				'profile_reload',
				'delivery_failure',
				'rate_limited',
				'login'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_log(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SaveOrder inserts a new order. Returns ErrDuplicate if the ID already exists.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	query := `
		INSERT INTO orders (id, session_id, items_json, subtotal_cents, delivery_fee_cents, total_cents, fulfilment, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		o.ID,
		o.SessionID,
		string(itemsJSON),
		o.Subtotal,
		o.DeliveryFee,
		o.Total,
		o.Fulfilment,
		nullString(o.Notes),
		o.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting order: %w", err)
	}

	s.logger.Debug("saved order", "id", o.ID, "session_id", o.SessionID, "total_cents", o.Total)
	return nil
}

// GetOrder retrieves an order by ID.
// Returns ErrNotFound if the order doesn't exist.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `
		SELECT id, session_id, items_json, subtotal_cents, delivery_fee_cents, total_cents, fulfilment, notes, created_at
		FROM orders
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanOrder(row)
}

// ListOrders retrieves orders newest first. An empty sessionID matches all
// sessions. If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListOrders(ctx context.Context, sessionID string, limit int) ([]*Order, error) {
	limit = normalizeLimit(limit)

	query := `
		SELECT id, session_id, items_json, subtotal_cents, delivery_fee_cents, total_cents, fulfilment, notes, created_at
		FROM orders
		WHERE (? = '' OR session_id = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order rows: %w", err)
	}
	return orders, nil
}

// scanOrder scans a row into an Order.
func scanOrder(scanner interface{ Scan(dest ...any) error }) (*Order, error) {
	var o Order
	var itemsJSON, createdAtStr string
	var notes sql.NullString

	err := scanner.Scan(
		&o.ID,
		&o.SessionID,
		&itemsJSON,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.Total,
		&o.Fulfilment,
		&notes,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning order: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if notes.Valid {
		o.Notes = notes.String
	}
	o.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &o, nil
}

// SaveBooking inserts a new booking. Returns ErrDuplicate if the ID already exists.
func (s *SQLiteStore) SaveBooking(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings (id, session_id, customer_name, party_size, booking_date, booking_time, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID,
		b.SessionID,
		b.Name,
		b.PartySize,
		b.Date,
		b.TimeOfDay,
		nullString(b.Notes),
		b.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting booking: %w", err)
	}

	s.logger.Debug("saved booking", "id", b.ID, "session_id", b.SessionID, "party_size", b.PartySize)
	return nil
}

// GetBooking retrieves a booking by ID.
// Returns ErrNotFound if the booking doesn't exist.
func (s *SQLiteStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	query := `
		SELECT id, session_id, customer_name, party_size, booking_date, booking_time, notes, created_at
		FROM bookings
		WHERE id = ?
	`

	var b Booking
	var notes sql.NullString
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.SessionID,
		&b.Name,
		&b.PartySize,
		&b.Date,
		&b.TimeOfDay,
		&notes,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}

	if notes.Valid {
		b.Notes = notes.String
	}
	b.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &b, nil
}

// ListBookings retrieves bookings newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListBookings(ctx context.Context, limit int) ([]*Booking, error) {
	limit = normalizeLimit(limit)

	query := `
		SELECT id, session_id, customer_name, party_size, booking_date, booking_time, notes, created_at
		FROM bookings
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		var b Booking
		var notes sql.NullString
		var createdAtStr string

		if err := rows.Scan(&b.ID, &b.SessionID, &b.Name, &b.PartySize, &b.Date, &b.TimeOfDay, &notes, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning booking row: %w", err)
		}
		if notes.Valid {
			b.Notes = notes.String
		}
		b.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		bookings = append(bookings, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating booking rows: %w", err)
	}
	return bookings, nil
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
