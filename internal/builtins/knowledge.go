// ABOUTME: The search_knowledge tool, answering from the indexed business
// ABOUTME: document directory

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/patron-gateway/internal/tools"
)

type searchKnowledgeInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchKnowledge runs a keyword search over the knowledge base.
func (p *Pack) SearchKnowledge(_ context.Context, _ string, input json.RawMessage) (*tools.Result, error) {
	var in searchKnowledgeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	snippets := p.knowledge.Search(in.Query, in.Limit)
	if len(snippets) == 0 {
		return &tools.Result{
			Message: fmt.Sprintf("No information found for %q.", in.Query),
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s):", len(snippets))
	for _, s := range snippets {
		b.WriteString("\n")
		if s.Title != "" {
			fmt.Fprintf(&b, "[%s] ", s.Title)
		}
		b.WriteString(s.Text)
	}

	data, err := json.Marshal(map[string]any{
		"results": snippets,
		"count":   len(snippets),
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: b.String(), Data: data}, nil
}
