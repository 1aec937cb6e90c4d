// ABOUTME: The collect_feedback tool, which thanks the customer and echoes
// ABOUTME: the feedback without persisting it

package builtins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/patron-gateway/internal/tools"
)

type collectFeedbackInput struct {
	Feedback string `json:"feedback"`
	Rating   int64  `json:"rating"`
}

// CollectFeedback acknowledges feedback. It is intentionally not durable:
// feedback lives in the session transcript only, and promoting it to the
// store is a deliberate product decision we have not made.
func (p *Pack) CollectFeedback(_ context.Context, sessionID string, input json.RawMessage) (*tools.Result, error) {
	var in collectFeedbackInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	p.logger.Info("feedback received",
		"session_id", sessionID,
		"rating", in.Rating)

	msg := "Thank you for the feedback! It has been passed along to the team."
	if in.Rating > 0 {
		msg = fmt.Sprintf("Thank you for the feedback and the %d-star rating! It has been passed along to the team.", in.Rating)
	}
	data, err := json.Marshal(map[string]any{
		"status":   "received",
		"feedback": in.Feedback,
		"rating":   in.Rating,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: msg, Data: data}, nil
}
