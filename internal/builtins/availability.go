// ABOUTME: The check_availability stub, which reports every requested slot as
// ABOUTME: available pending a real capacity model

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/patron-gateway/internal/tools"
)

type checkAvailabilityInput struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	PartySize int64  `json:"party_size"`
}

// CheckAvailability always reports the requested slot as available. There is
// no capacity model behind it: the contract is deliberately "always yes" so
// the model can proceed to create_booking, and double-booking is accepted
// until real capacity data exists.
func (p *Pack) CheckAvailability(_ context.Context, _ string, input json.RawMessage) (*tools.Result, error) {
	var in checkAvailabilityInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	var details []string
	if in.Date != "" {
		details = append(details, in.Date)
	}
	if in.Time != "" {
		details = append(details, "at "+in.Time)
	}
	if in.PartySize > 0 {
		details = append(details, fmt.Sprintf("for %d people", in.PartySize))
	}
	msg := "Yes, that slot is available."
	if len(details) > 0 {
		msg = fmt.Sprintf("Yes, %s is available.", strings.Join(details, " "))
	}

	data, err := json.Marshal(map[string]any{
		"available":  true,
		"date":       in.Date,
		"time":       in.Time,
		"party_size": in.PartySize,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: msg, Data: data}, nil
}
