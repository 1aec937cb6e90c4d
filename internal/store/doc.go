// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Order: Placed orders with line items and cent-denominated totals
//   - Booking: Table reservation requests
//   - Complaint: Logged complaints with urgency and status transitions
//   - Escalation: Handoffs to the business owner, optionally linked to a complaint
//   - Customer: Per-session memory (name, preferences, visit counts)
//   - AuditEntry: Immutable activity ledger for message flow and operator actions
//
// Conversation transcripts are deliberately NOT stored here. Live session
// state is in-memory (internal/session); this package holds only records
// with business meaning beyond a single conversation.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Database file locations:
//
//   - Production: /var/lib/patron-gateway/gateway.db
//   - Testing: :memory: or t.TempDir() paths
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicate: Entity with the same ID already exists
//
// All methods accept context.Context for cancellation support.
package store
