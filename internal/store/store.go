// ABOUTME: Store interface and data types for patron-gateway persistence
// ABOUTME: Defines orders, bookings, complaints, escalations, and customer records

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting an entity whose ID already exists
var ErrDuplicate = errors.New("already exists")

// Fulfilment constants for orders
const (
	FulfilmentPickup   = "pickup"
	FulfilmentDelivery = "delivery"
)

// OrderItem is a single menu line within an order. Prices are in cents.
type OrderItem struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

// Order represents a placed order with computed totals in cents.
type Order struct {
	ID          string
	SessionID   string
	Items       []OrderItem
	Subtotal    int64
	DeliveryFee int64
	Total       int64
	Fulfilment  string // "pickup" or "delivery"
	Notes       string
	CreatedAt   time.Time
}

// Booking represents a table reservation request.
type Booking struct {
	ID        string
	SessionID string
	Name      string
	PartySize int64
	Date      string // as given by the customer, e.g. "2026-09-02"
	TimeOfDay string // e.g. "19:30"
	Notes     string
	CreatedAt time.Time
}

// Complaint urgency levels
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Complaint status values
const (
	ComplaintOpen      = "open"
	ComplaintEscalated = "escalated"
	ComplaintResolved  = "resolved"
)

// Complaint represents a logged customer complaint.
type Complaint struct {
	ID        string
	SessionID string
	Summary   string
	Urgency   string // "low", "medium", "high"
	Status    string // "open", "escalated", "resolved"
	CreatedAt time.Time
}

// Escalation represents a handoff to the business owner. ComplaintID links
// back to the originating complaint when the escalation came from one.
type Escalation struct {
	ID          string
	SessionID   string
	Reason      string
	ComplaintID string
	Notified    bool
	CreatedAt   time.Time
}

// Customer accumulates what the system has learned about a session's customer
// across visits. Preferences are short free-text notes.
type Customer struct {
	SessionID   string
	Name        string
	Preferences []string
	VisitCount  int64
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Store defines the interface for gateway persistence
type Store interface {
	// Orders
	SaveOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, sessionID string, limit int) ([]*Order, error)

	// Bookings
	SaveBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id string) (*Booking, error)
	ListBookings(ctx context.Context, limit int) ([]*Booking, error)

	// Complaints
	SaveComplaint(ctx context.Context, c *Complaint) error
	GetComplaint(ctx context.Context, id string) (*Complaint, error)
	UpdateComplaintStatus(ctx context.Context, id, status string) error
	ListComplaints(ctx context.Context, status string, limit int) ([]*Complaint, error)

	// Escalations
	SaveEscalation(ctx context.Context, e *Escalation) error
	ListEscalations(ctx context.Context, limit int) ([]*Escalation, error)

	// Customers
	GetCustomer(ctx context.Context, sessionID string) (*Customer, error)
	SaveCustomer(ctx context.Context, c *Customer) error
	RecordVisit(ctx context.Context, sessionID string) error

	// Audit
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	// Close releases any resources held by the store
	Close() error
}
