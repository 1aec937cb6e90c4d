// ABOUTME: The take_order tool: resolves unit prices, computes totals in
// ABOUTME: cents, and appends the order to the durable store

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/2389/patron-gateway/internal/ids"
	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/store"
	"github.com/2389/patron-gateway/internal/tools"
)

type takeOrderInput struct {
	Items           []orderItemInput `json:"items"`
	Fulfilment      string           `json:"fulfilment"`
	DeliveryAddress string           `json:"delivery_address"`
	CustomerName    string           `json:"customer_name"`
	Phone           string           `json:"phone"`
	Notes           string           `json:"notes"`
}

// TakeOrder records an order. Line totals and the order total are computed
// here from menu prices (or supplied unit prices), never trusted from the
// model.
func (p *Pack) TakeOrder(ctx context.Context, sessionID string, input json.RawMessage) (*tools.Result, error) {
	var in takeOrderInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	lines, subtotal, err := p.priceItems(in.Items)
	if err != nil {
		return nil, err
	}

	prof := p.profiles.Current()
	fulfilment := in.Fulfilment
	if fulfilment == "" {
		fulfilment = store.FulfilmentPickup
	}
	var deliveryFee int64
	if fulfilment == store.FulfilmentDelivery {
		if !prof.Delivery.Enabled {
			return nil, fmt.Errorf("delivery is not offered; pickup only")
		}
		deliveryFee = prof.Delivery.FeeCents
	}

	items := make([]store.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, store.OrderItem{
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}

	order := &store.Order{
		ID:          p.ids.Next(ids.PrefixOrder),
		SessionID:   sessionID,
		Items:       items,
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		Total:       subtotal + deliveryFee,
		Fulfilment:  fulfilment,
		Notes:       composeOrderNotes(in),
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("saving order: %w", err)
	}
	p.logger.Info("order recorded",
		"order_id", order.ID,
		"session_id", sessionID,
		"total_cents", order.Total,
		"fulfilment", order.Fulfilment)

	var b strings.Builder
	fmt.Fprintf(&b, "Order %s recorded:", order.ID)
	for _, l := range lines {
		fmt.Fprintf(&b, "\n- %dx %s = %s", l.Quantity, l.Name, profile.FormatCents(l.LineTotal))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s", profile.FormatCents(order.Subtotal))
	if order.DeliveryFee > 0 {
		fmt.Fprintf(&b, "\nDelivery fee: %s", profile.FormatCents(order.DeliveryFee))
	}
	fmt.Fprintf(&b, "\nTotal: %s (%s)", profile.FormatCents(order.Total), order.Fulfilment)

	data, err := json.Marshal(map[string]any{
		"order_id":       order.ID,
		"subtotal_cents": order.Subtotal,
		"delivery_cents": order.DeliveryFee,
		"total_cents":    order.Total,
		"total":          profile.FormatCents(order.Total),
		"fulfilment":     order.Fulfilment,
		"items":          order.Items,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: b.String(), Data: data}, nil
}

// composeOrderNotes folds the contact and delivery fields into the order's
// free-text notes so the kitchen slip carries everything in one place.
func composeOrderNotes(in takeOrderInput) string {
	var parts []string
	if in.CustomerName != "" {
		parts = append(parts, "customer: "+in.CustomerName)
	}
	if in.Phone != "" {
		parts = append(parts, "phone: "+in.Phone)
	}
	if in.DeliveryAddress != "" {
		parts = append(parts, "deliver to: "+in.DeliveryAddress)
	}
	if in.Notes != "" {
		parts = append(parts, in.Notes)
	}
	return strings.Join(parts, "; ")
}
