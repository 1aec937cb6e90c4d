// ABOUTME: The create_booking tool: assigns an id, marks the booking
// ABOUTME: confirmed, and appends it to the durable store

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/patron-gateway/internal/ids"
	"github.com/2389/patron-gateway/internal/store"
	"github.com/2389/patron-gateway/internal/tools"
)

type createBookingInput struct {
	Name      string `json:"name"`
	PartySize int64  `json:"party_size"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Notes     string `json:"notes"`
}

// CreateBooking records a confirmed booking. Availability is not re-checked
// here; check_availability is an explicit always-yes stub.
func (p *Pack) CreateBooking(ctx context.Context, sessionID string, input json.RawMessage) (*tools.Result, error) {
	var in createBookingInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	booking := &store.Booking{
		ID:        p.ids.Next(ids.PrefixBooking),
		SessionID: sessionID,
		Name:      in.Name,
		PartySize: in.PartySize,
		Date:      in.Date,
		TimeOfDay: in.Time,
		Notes:     in.Notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.SaveBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("saving booking: %w", err)
	}
	p.logger.Info("booking recorded",
		"booking_id", booking.ID,
		"session_id", sessionID,
		"date", booking.Date,
		"party_size", booking.PartySize)

	msg := fmt.Sprintf("Booking %s confirmed for %s, party of %d, on %s at %s.",
		booking.ID, booking.Name, booking.PartySize, booking.Date, booking.TimeOfDay)
	data, err := json.Marshal(map[string]any{
		"booking_id": booking.ID,
		"status":     "confirmed",
		"name":       booking.Name,
		"party_size": booking.PartySize,
		"date":       booking.Date,
		"time":       booking.TimeOfDay,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: msg, Data: data}, nil
}
