// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers store creation, order and booking persistence, and listing order

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a store backed by a temp-dir database.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSaveAndGetOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	order := &Order{
		ID:        "ORD-1756000000000-0001",
		SessionID: "matrix:!room:example.org",
		Items: []OrderItem{
			{Name: "Butter Chicken", Quantity: 2, UnitPrice: 1850, LineTotal: 3700},
			{Name: "Garlic Naan", Quantity: 1, UnitPrice: 400, LineTotal: 400},
		},
		Subtotal:    4100,
		DeliveryFee: 500,
		Total:       4600,
		Fulfilment:  FulfilmentDelivery,
		Notes:       "extra spicy",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	got, err := store.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}

	if got.ID != order.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, order.ID)
	}
	if got.SessionID != order.SessionID {
		t.Errorf("SessionID mismatch: got %q, want %q", got.SessionID, order.SessionID)
	}
	if len(got.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got.Items))
	}
	if got.Items[0].Name != "Butter Chicken" || got.Items[0].LineTotal != 3700 {
		t.Errorf("first item mismatch: %+v", got.Items[0])
	}
	if got.Subtotal != 4100 {
		t.Errorf("Subtotal mismatch: got %d, want 4100", got.Subtotal)
	}
	if got.Total != 4600 {
		t.Errorf("Total mismatch: got %d, want 4600", got.Total)
	}
	if got.Fulfilment != FulfilmentDelivery {
		t.Errorf("Fulfilment mismatch: got %q", got.Fulfilment)
	}
	if got.Notes != "extra spicy" {
		t.Errorf("Notes mismatch: got %q", got.Notes)
	}
	if !got.CreatedAt.Equal(order.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, order.CreatedAt)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetOrder(context.Background(), "ORD-nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveOrder_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	order := &Order{
		ID:         "ORD-dup",
		SessionID:  "s1",
		Items:      []OrderItem{{Name: "Mango Lassi", Quantity: 1, UnitPrice: 625, LineTotal: 625}},
		Subtotal:   625,
		Total:      625,
		Fulfilment: FulfilmentPickup,
		CreatedAt:  time.Now().UTC(),
	}

	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	if err := store.SaveOrder(ctx, order); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestListOrders_FiltersBySession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, sessionID := range []string{"s1", "s2", "s1"} {
		order := &Order{
			ID:         "ORD-" + string(rune('a'+i)),
			SessionID:  sessionID,
			Items:      []OrderItem{{Name: "Garlic Naan", Quantity: 1, UnitPrice: 400, LineTotal: 400}},
			Subtotal:   400,
			Total:      400,
			Fulfilment: FulfilmentPickup,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveOrder(ctx, order); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}
	}

	s1Orders, err := store.ListOrders(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(s1Orders) != 2 {
		t.Fatalf("expected 2 orders for s1, got %d", len(s1Orders))
	}
	// Newest first
	if s1Orders[0].ID != "ORD-c" {
		t.Errorf("expected newest order first, got %q", s1Orders[0].ID)
	}

	allOrders, err := store.ListOrders(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(allOrders) != 3 {
		t.Errorf("expected 3 orders total, got %d", len(allOrders))
	}
}

func TestSaveAndGetBooking(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	booking := &Booking{
		ID:        "BKG-1756000000000-0001",
		SessionID: "api:visitor-1",
		Name:      "Priya",
		PartySize: 4,
		Date:      "2026-09-02",
		TimeOfDay: "19:30",
		Notes:     "window seat",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := store.SaveBooking(ctx, booking); err != nil {
		t.Fatalf("SaveBooking failed: %v", err)
	}

	got, err := store.GetBooking(ctx, booking.ID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}

	if got.Name != "Priya" {
		t.Errorf("Name mismatch: got %q", got.Name)
	}
	if got.PartySize != 4 {
		t.Errorf("PartySize mismatch: got %d", got.PartySize)
	}
	if got.Date != "2026-09-02" || got.TimeOfDay != "19:30" {
		t.Errorf("date/time mismatch: got %q %q", got.Date, got.TimeOfDay)
	}
	if got.Notes != "window seat" {
		t.Errorf("Notes mismatch: got %q", got.Notes)
	}
}

func TestGetBooking_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetBooking(context.Background(), "BKG-nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListBookings_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		booking := &Booking{
			ID:        "BKG-" + string(rune('a'+i)),
			SessionID: "s1",
			Name:      "Guest",
			PartySize: 2,
			Date:      "2026-09-02",
			TimeOfDay: "18:00",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.SaveBooking(ctx, booking); err != nil {
			t.Fatalf("SaveBooking failed: %v", err)
		}
	}

	bookings, err := store.ListBookings(ctx, 2)
	if err != nil {
		t.Fatalf("ListBookings failed: %v", err)
	}
	if len(bookings) != 2 {
		t.Fatalf("expected 2 bookings, got %d", len(bookings))
	}
	if bookings[0].ID != "BKG-c" {
		t.Errorf("expected newest booking first, got %q", bookings[0].ID)
	}
}

func TestOrder_EmptyNotesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	order := &Order{
		ID:         "ORD-nonotes",
		SessionID:  "s1",
		Items:      []OrderItem{{Name: "Mango Lassi", Quantity: 1, UnitPrice: 625, LineTotal: 625}},
		Subtotal:   625,
		Total:      625,
		Fulfilment: FulfilmentPickup,
		CreatedAt:  time.Now().UTC(),
	}

	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}
	got, err := store.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Notes != "" {
		t.Errorf("expected empty notes, got %q", got.Notes)
	}
}
