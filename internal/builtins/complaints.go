// ABOUTME: The handle_complaint and escalate tools: durable complaint records
// ABOUTME: with synchronous escalation and owner notification on high urgency

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

type handleComplaintInput struct {
	Summary string `json:"summary"`
	Urgency string `json:"urgency"`
}

// HandleComplaint records a complaint with status open. High urgency also
// performs a synchronous escalation in the same call, so the reply the
// customer sees already reflects that management was pulled in.
func (p *Pack) HandleComplaint(ctx context.Context, sessionID string, input json.RawMessage) (*tools.Result, error) {
	var in handleComplaintInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	urgency := in.Urgency
	if urgency == "" {
		urgency = store.UrgencyMedium
	}

	complaint := &store.Complaint{
		ID:        p.ids.Next(ids.PrefixComplaint),
		SessionID: sessionID,
		Summary:   in.Summary,
		Urgency:   urgency,
		Status:    store.ComplaintOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.SaveComplaint(ctx, complaint); err != nil {
		return nil, fmt.Errorf("saving complaint: %w", err)
	}
	p.logger.Info("complaint recorded",
		"complaint_id", complaint.ID,
		"session_id", sessionID,
		"urgency", urgency)

	payload := map[string]any{
		"complaint_id": complaint.ID,
		"status":       complaint.Status,
		"urgency":      urgency,
	}
	msg := fmt.Sprintf("Complaint %s recorded (urgency %s). The team will follow up.", complaint.ID, urgency)

	if urgency == store.UrgencyHigh {
		esc, err := p.performEscalation(ctx, sessionID,
			fmt.Sprintf("high-urgency complaint: %s", in.Summary), complaint.ID)
		if err != nil {
			return nil, err
		}
		if err := p.store.UpdateComplaintStatus(ctx, complaint.ID, store.ComplaintEscalated); err != nil {
			return nil, fmt.Errorf("marking complaint escalated: %w", err)
		}
		payload["status"] = store.ComplaintEscalated
		payload["escalation_id"] = esc.ID
		payload["owner_notified"] = esc.Notified
		msg = fmt.Sprintf("Complaint %s recorded and escalated to management (escalation %s). Someone will reach out shortly.",
			complaint.ID, esc.ID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: msg, Data: data}, nil
}

type escalateInput struct {
	Reason      string `json:"reason"`
	ComplaintID string `json:"complaint_id"`
}

// Escalate hands an issue to the business owner.
func (p *Pack) Escalate(ctx context.Context, sessionID string, input json.RawMessage) (*tools.Result, error) {
	var in escalateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	esc, err := p.performEscalation(ctx, sessionID, in.Reason, in.ComplaintID)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Escalation %s raised; the owner has been notified.", esc.ID)
	if !esc.Notified {
		msg = fmt.Sprintf("Escalation %s recorded; owner notification is pending.", esc.ID)
	}
	data, err := json.Marshal(map[string]any{
		"escalation_id":  esc.ID,
		"owner_notified": esc.Notified,
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Message: msg, Data: data}, nil
}

// performEscalation notifies the owner channel, then appends the durable
// escalation record with the notification outcome. A notify failure is not
// fatal: the record survives and the outcome says so.
func (p *Pack) performEscalation(ctx context.Context, sessionID, reason, complaintID string) (*store.Escalation, error) {
	esc := &store.Escalation{
		ID:          p.ids.Next(ids.PrefixEscalation),
		SessionID:   sessionID,
		Reason:      reason,
		ComplaintID: complaintID,
		CreatedAt:   time.Now().UTC(),
	}

	notice := fmt.Sprintf("[%s] Escalation from session %s: %s", esc.ID, sessionID, reason)
	if complaintID != "" {
		notice += fmt.Sprintf(" (complaint %s)", complaintID)
	}
	if n := p.ownerNotifier(); n != nil {
		if err := n.NotifyOwner(ctx, notice); err != nil {
			p.logger.Warn("owner notification failed",
				"escalation_id", esc.ID,
				"error", err)
		} else {
			esc.Notified = true
		}
	} else {
		p.logger.Warn("no owner notifier bound, escalation recorded unnotified",
			"escalation_id", esc.ID)
	}

	if err := p.store.SaveEscalation(ctx, esc); err != nil {
		return nil, fmt.Errorf("saving escalation: %w", err)
	}
	p.logger.Info("escalation recorded",
		"escalation_id", esc.ID,
		"session_id", sessionID,
		"notified", esc.Notified)

	audit := &store.AuditEntry{
		SessionID: sessionID,
		Kind:      store.AuditEscalation,
		Actor:     "agent",
		Detail: map[string]any{
			"escalation_id": esc.ID,
			"complaint_id":  complaintID,
			"notified":      esc.Notified,
		},
	}
	if err := p.store.AppendAudit(ctx, audit); err != nil {
		p.logger.Warn("audit append failed", "escalation_id", esc.ID, "error", err)
	}
	return esc, nil
}
