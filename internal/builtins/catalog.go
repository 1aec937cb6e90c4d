// ABOUTME: Read-only catalogue tools answering from the business profile:
// ABOUTME: profile summary, menu listing, directions, and price calculation

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/tools"
)

// GetBusinessProfile answers with the business identity, contact details,
// and opening hours.
func (p *Pack) GetBusinessProfile(_ context.Context, _ string, _ json.RawMessage) (*tools.Result, error) {
	prof := p.profiles.Current()
	biz := prof.Business

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", biz.Name, biz.Kind)
	if biz.Description != "" {
		fmt.Fprintf(&b, "\n%s", biz.Description)
	}
	if biz.Address != "" {
		fmt.Fprintf(&b, "\nAddress: %s", biz.Address)
	}
	if biz.Phone != "" {
		fmt.Fprintf(&b, "\nPhone: %s", biz.Phone)
	}
	if biz.Email != "" {
		fmt.Fprintf(&b, "\nEmail: %s", biz.Email)
	}
	if biz.Website != "" {
		fmt.Fprintf(&b, "\nWebsite: %s", biz.Website)
	}
	fmt.Fprintf(&b, "\nHours:\n%s", prof.HoursText())

	data, err := json.Marshal(map[string]any{
		"name":        biz.Name,
		"kind":        biz.Kind,
		"description": biz.Description,
		"address":     biz.Address,
		"phone":       biz.Phone,
		"email":       biz.Email,
		"website":     biz.Website,
		"hours":       prof.HoursText(),
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: b.String(), Data: data}, nil
}

type getMenuInput struct {
	Category string `json:"category"`
}

// menuEntry is the structured shape of one offering in tool results.
type menuEntry struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	PriceCents  int64  `json:"price_cents"`
}

// GetMenu lists the offerings, optionally filtered by category.
func (p *Pack) GetMenu(_ context.Context, _ string, input json.RawMessage) (*tools.Result, error) {
	var in getMenuInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	prof := p.profiles.Current()
	items := prof.ItemsByCategory(in.Category)
	if len(items) == 0 {
		if in.Category != "" {
			return &tools.Result{
				Message: fmt.Sprintf("No items in category %q. Categories: %s.",
					in.Category, strings.Join(prof.Categories(), ", ")),
			}, nil
		}
		return &tools.Result{Message: "The menu is empty."}, nil
	}

	entries := make([]menuEntry, 0, len(items))
	var b strings.Builder
	if in.Category != "" {
		fmt.Fprintf(&b, "Menu (%s):", in.Category)
	} else {
		b.WriteString("Menu:")
	}
	for _, item := range items {
		entries = append(entries, menuEntry{
			Name:        item.Name,
			Category:    item.Category,
			Description: item.Description,
			Price:       profile.FormatCents(item.PriceCents),
			PriceCents:  item.PriceCents,
		})
		fmt.Fprintf(&b, "\n- %s: %s", item.Name, profile.FormatCents(item.PriceCents))
		if item.Category != "" && in.Category == "" {
			fmt.Fprintf(&b, " (%s)", item.Category)
		}
	}

	data, err := json.Marshal(map[string]any{
		"items":      entries,
		"count":      len(entries),
		"categories": prof.Categories(),
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: b.String(), Data: data}, nil
}

// GetDirections answers with the how-to-find-us text from the profile.
func (p *Pack) GetDirections(_ context.Context, _ string, _ json.RawMessage) (*tools.Result, error) {
	text := p.profiles.Current().DirectionsText()
	data, err := json.Marshal(map[string]string{"directions": text})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: text, Data: data}, nil
}

// orderItemInput is one requested line item, shared by calculate_price and
// take_order. UnitPrice overrides the menu price when supplied.
type orderItemInput struct {
	Name      string   `json:"name"`
	Quantity  int64    `json:"quantity"`
	UnitPrice *float64 `json:"unit_price"`
}

type calculatePriceInput struct {
	Items []orderItemInput `json:"items"`
}

// pricedLine is one computed line item.
type pricedLine struct {
	Name      string
	Quantity  int64
	UnitPrice int64
	LineTotal int64
}

// priceItems resolves unit prices (supplied price wins, else menu lookup) and
// computes line totals in cents. An item absent from the menu with no
// supplied price is a business error the model can relay or correct.
func (p *Pack) priceItems(items []orderItemInput) ([]pricedLine, int64, error) {
	prof := p.profiles.Current()
	lines := make([]pricedLine, 0, len(items))
	var subtotal int64
	for _, item := range items {
		var unit int64
		switch {
		case item.UnitPrice != nil:
			unit = profile.ToCents(*item.UnitPrice)
		default:
			menuItem, ok := prof.FindItem(item.Name)
			if !ok {
				return nil, 0, fmt.Errorf("%q is not on the menu and no unit_price was supplied", item.Name)
			}
			unit = menuItem.PriceCents
		}
		line := pricedLine{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: unit,
			LineTotal: unit * item.Quantity,
		}
		lines = append(lines, line)
		subtotal += line.LineTotal
	}
	return lines, subtotal, nil
}

// CalculatePrice computes a total without placing an order.
func (p *Pack) CalculatePrice(_ context.Context, _ string, input json.RawMessage) (*tools.Result, error) {
	var in calculatePriceInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	lines, total, err := p.priceItems(in.Items)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Price breakdown:")
	type lineOut struct {
		Name      string `json:"name"`
		Quantity  int64  `json:"quantity"`
		UnitPrice string `json:"unit_price"`
		LineTotal string `json:"line_total"`
	}
	outLines := make([]lineOut, 0, len(lines))
	for _, l := range lines {
		fmt.Fprintf(&b, "\n- %dx %s @ %s = %s",
			l.Quantity, l.Name, profile.FormatCents(l.UnitPrice), profile.FormatCents(l.LineTotal))
		outLines = append(outLines, lineOut{
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: profile.FormatCents(l.UnitPrice),
			LineTotal: profile.FormatCents(l.LineTotal),
		})
	}
	fmt.Fprintf(&b, "\nTotal: %s", profile.FormatCents(total))

	data, err := json.Marshal(map[string]any{
		"lines":       outLines,
		"total":       profile.FormatCents(total),
		"total_cents": total,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: b.String(), Data: data}, nil
}
