// ABOUTME: The business tool pack: registration table binding every canonical
// ABOUTME: tool name, schema, and handler to its collaborators

package builtins

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/patron-gateway/internal/ids"
	"github.com/2389/patron-gateway/internal/knowledge"
	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/store"
	"github.com/2389/patron-gateway/internal/tools"
)

// OwnerNotifier delivers escalation notices to the business owner's channel.
type OwnerNotifier interface {
	NotifyOwner(ctx context.Context, text string) error
}

// Deps are the collaborators the business tools act on.
type Deps struct {
	Profiles  *profile.Holder
	Knowledge *knowledge.Base
	Store     store.Store
	IDs       *ids.Generator
}

// Pack holds the business tools. The owner notifier is bound late because the
// gateway that delivers notices is constructed after the tools are registered.
type Pack struct {
	profiles  *profile.Holder
	knowledge *knowledge.Base
	store     store.Store
	ids       *ids.Generator
	logger    *slog.Logger

	mu       sync.RWMutex
	notifier OwnerNotifier
}

// New creates the pack around its collaborators.
func New(deps Deps) *Pack {
	return &Pack{
		profiles:  deps.Profiles,
		knowledge: deps.Knowledge,
		store:     deps.Store,
		ids:       deps.IDs,
		logger:    slog.Default().With("component", "builtins"),
	}
}

// SetNotifier binds the owner-channel notifier once the gateway exists.
func (p *Pack) SetNotifier(n OwnerNotifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = n
}

func (p *Pack) ownerNotifier() OwnerNotifier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.notifier
}

// RegisterAll wires every business tool into the dispatcher. The schemas here
// are the wire contract advertised to the model; the dispatcher validates all
// arguments against them before any handler runs.
func (p *Pack) RegisterAll(d *tools.Dispatcher) error {
	entries := []struct {
		def     tools.Definition
		handler tools.Handler
	}{
		{
			def: tools.Definition{
				Name:        "get_business_profile",
				Description: "Get the business name, what it does, address, contact details, and opening hours",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			},
			handler: p.GetBusinessProfile,
		},
		{
			def: tools.Definition{
				Name:        "get_menu",
				Description: "List the menu or offerings, optionally filtered by category",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"category":{"type":"string","description":"Optional category filter, e.g. mains or breads"}}}`),
			},
			handler: p.GetMenu,
		},
		{
			def: tools.Definition{
				Name:        "check_availability",
				Description: "Check whether a table or appointment slot is available for a given date, time, and party size",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"date":{"type":"string","description":"Requested date, e.g. 2026-09-02"},"time":{"type":"string","description":"Requested time, e.g. 19:30"},"party_size":{"type":"integer","minimum":1}}}`),
			},
			handler: p.CheckAvailability,
		},
		{
			def: tools.Definition{
				Name:        "search_knowledge",
				Description: "Search the business knowledge base for policies, FAQs, and other details not covered by the profile or menu",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer","minimum":1,"maximum":10}},"required":["query"]}`),
			},
			handler: p.SearchKnowledge,
		},
		{
			def: tools.Definition{
				Name:        "get_directions",
				Description: "Get the address, landmarks, parking, and transit directions to the business",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			},
			handler: p.GetDirections,
		},
		{
			def: tools.Definition{
				Name:        "calculate_price",
				Description: "Calculate the total price for a list of items without placing an order. Uses menu prices unless a unit_price is supplied per item",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"items":{"type":"array","minItems":1,"items":{"type":"object","properties":{"name":{"type":"string"},"quantity":{"type":"integer","minimum":1},"unit_price":{"type":"number","minimum":0}},"required":["name","quantity"]}}},"required":["items"]}`),
			},
			handler: p.CalculatePrice,
		},
		{
			def: tools.Definition{
				Name:        "create_booking",
				Description: "Create a confirmed booking or appointment for a customer",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"party_size":{"type":"integer","minimum":1},"date":{"type":"string"},"time":{"type":"string"},"notes":{"type":"string"}},"required":["name","party_size","date","time"]}`),
			},
			handler: p.CreateBooking,
		},
		{
			def: tools.Definition{
				Name:        "take_order",
				Description: "Record a customer order. Computes line totals and the order total from menu prices unless a unit_price is supplied per item",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"items":{"type":"array","minItems":1,"items":{"type":"object","properties":{"name":{"type":"string"},"quantity":{"type":"integer","minimum":1},"unit_price":{"type":"number","minimum":0}},"required":["name","quantity"]}},"fulfilment":{"type":"string","enum":["pickup","delivery"]},"delivery_address":{"type":"string"},"customer_name":{"type":"string"},"phone":{"type":"string"},"notes":{"type":"string"}},"required":["items"]}`),
			},
			handler: p.TakeOrder,
		},
		{
			def: tools.Definition{
				Name:        "handle_complaint",
				Description: "Record a customer complaint. High urgency complaints are escalated to management immediately",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string"},"urgency":{"type":"string","enum":["low","medium","high"]}},"required":["summary"]}`),
			},
			handler: p.HandleComplaint,
		},
		{
			def: tools.Definition{
				Name:        "collect_feedback",
				Description: "Collect general feedback or a rating from the customer",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"feedback":{"type":"string"},"rating":{"type":"integer","minimum":1,"maximum":5}},"required":["feedback"]}`),
			},
			handler: p.CollectFeedback,
		},
		{
			def: tools.Definition{
				Name:        "escalate",
				Description: "Escalate an issue to the business owner or management with a reason",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string"},"complaint_id":{"type":"string"}},"required":["reason"]}`),
			},
			handler: p.Escalate,
		},
	}

	for _, e := range entries {
		if err := d.Register(e.def, e.handler); err != nil {
			return err
		}
	}
	p.logger.Info("business tools registered", "count", len(entries))
	return nil
}
