// ABOUTME: Composes the standing system prompt from the business profile,
// ABOUTME: conduct rules, and the registered skill catalogue

package agent

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/tools"
)

// PromptBuilder owns the system prompt. It composes once at construction and
// again on Reload; a turn pays only a read lock and a string copy.
type PromptBuilder struct {
	profiles   *profile.Holder
	dispatcher *tools.Dispatcher
	logger     *slog.Logger

	mu     sync.RWMutex
	system string
}

// NewPromptBuilder composes the initial prompt from the current profile and
// whatever tools are registered at call time. Register tools first.
func NewPromptBuilder(profiles *profile.Holder, dispatcher *tools.Dispatcher) *PromptBuilder {
	pb := &PromptBuilder{
		profiles:   profiles,
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "agent.prompt"),
	}
	pb.system = pb.compose()
	return pb
}

// System returns the current prompt.
func (pb *PromptBuilder) System() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.system
}

// Reload recomposes after the profile or the skill catalogue changed.
func (pb *PromptBuilder) Reload() {
	next := pb.compose()
	pb.mu.Lock()
	pb.system = next
	pb.mu.Unlock()
	pb.logger.Info("system prompt recomposed", "bytes", len(next))
}

// compose renders the prompt: identity, hours, offerings, conduct rules, and
// the skill summary. Side-effecting work still goes through tools; the
// inlined facts only cover what the read-only lookups would return anyway.
func (pb *PromptBuilder) compose() string {
	p := pb.profiles.Current()

	var b strings.Builder
	fmt.Fprintf(&b, "You are the customer assistant for %s, a %s.\n", p.Business.Name, p.Business.Kind)
	if p.Business.Description != "" {
		b.WriteString(p.Business.Description + "\n")
	}
	if p.Business.Address != "" {
		b.WriteString("Address: " + p.Business.Address + "\n")
	}
	if p.Business.Phone != "" {
		b.WriteString("Phone: " + p.Business.Phone + "\n")
	}

	b.WriteString("\nOpening hours:\n")
	b.WriteString(p.HoursText())
	b.WriteString("\n")

	if len(p.Menu) > 0 {
		b.WriteString("\nMenu:\n")
		for _, cat := range p.Categories() {
			fmt.Fprintf(&b, "%s:\n", cat)
			for _, it := range p.ItemsByCategory(cat) {
				fmt.Fprintf(&b, "- %s: %s\n", it.Name, profile.FormatCents(it.PriceCents))
			}
		}
	}

	if p.Delivery.Enabled {
		fmt.Fprintf(&b, "\nDelivery: available within %.1f km, fee %s.\n",
			p.Delivery.RadiusKM, profile.FormatCents(p.Delivery.FeeCents))
	} else {
		b.WriteString("\nDelivery: not offered, pickup only.\n")
	}

	b.WriteString("\nConduct:\n")
	if p.Behavior.Greeting != "" {
		fmt.Fprintf(&b, "Greet new customers with: %q\n", p.Behavior.Greeting)
	}
	for _, rule := range p.Behavior.Rules {
		b.WriteString("- " + rule + "\n")
	}

	defs := pb.dispatcher.Catalogue()
	if len(defs) > 0 {
		b.WriteString("\nYou can use these tools:\n")
		for _, d := range defs {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		}
	}

	b.WriteString("\nAnswer as the business, warm and concise. ")
	b.WriteString("Use tools for bookings, orders, complaints, and anything you are not certain of. ")
	b.WriteString("Never invent menu items, prices, or availability.")
	return b.String()
}
