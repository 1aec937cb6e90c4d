// ABOUTME: Observer event types and the in-memory fan-out hub behind Broadcast
// ABOUTME: Subscribers follow the whole gateway or a single session over buffered channels

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber. A
	// subscriber that falls this far behind starts losing events.
	subscriberBufferSize = 64

	// topicAll is the internal topic key for firehose subscribers.
	topicAll = "*"
)

// EventType classifies an observer event.
type EventType string

const (
	EventIncoming    EventType = "incoming"
	EventOutgoing    EventType = "outgoing"
	EventTurnStarted EventType = "turn_started"
	EventToolUse     EventType = "tool_use"
	EventToolResult  EventType = "tool_result"
	EventTurnDone    EventType = "turn_done"
	EventTurnError   EventType = "turn_error"
	EventSessions    EventType = "sessions"
)

// Event is one observable moment on the bus. Incoming events carry Message,
// outgoing ones carry Response; tool events carry Tool, CallID, and Detail.
// A sessions event carries only the Sessions snapshot.
type Event struct {
	Type       EventType        `json:"type"`
	Channel    string           `json:"channel,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
	MessageID  string           `json:"message_id,omitempty"`
	SenderName string           `json:"sender_name,omitempty"`
	Message    string           `json:"message,omitempty"`
	Response   string           `json:"response,omitempty"`
	Tool       string           `json:"tool,omitempty"`
	CallID     string           `json:"call_id,omitempty"`
	Failed     bool             `json:"failed,omitempty"`
	Detail     string           `json:"detail,omitempty"`
	Sessions   []SessionSummary `json:"sessions,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// SessionSummary is the per-session row of a sessions snapshot event and of
// the sessions listing endpoint.
type SessionSummary struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	SenderName   string    `json:"sender_name,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Hub is the in-memory pub/sub fan-out behind Gateway.Broadcast. Subscribers
// register for the firehose or for a single session and receive events over
// a buffered channel. Publishing never blocks: a subscriber whose buffer is
// full loses the event, and an unsubscribed or departed observer never
// affects the bus or other observers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan Event // topic -> subID -> ch
	logger *slog.Logger
}

// NewHub creates an empty hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[string]chan Event),
		logger: logger.With("component", "hub"),
	}
}

// Subscribe registers a firehose subscriber that receives every event
// published to the hub. The subscription is removed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, string) {
	return h.add(ctx, topicAll)
}

// SubscribeSession registers a subscriber for a single session's events.
// Sessions snapshots and other unscoped events are not delivered to it.
func (h *Hub) SubscribeSession(ctx context.Context, sessionID string) (<-chan Event, string) {
	return h.add(ctx, sessionID)
}

func (h *Hub) add(ctx context.Context, topic string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[string]chan Event)
	}
	h.subs[topic][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("observer subscribed", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call for
// an already removed subscription.
func (h *Hub) Unsubscribe(topic, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[topic]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(h.subs, topic)
	}
	close(ch)

	h.logger.Debug("observer unsubscribed", "topic", topic, "sub_id", subID)
}

// Publish fans an event out to the firehose and, when the event is scoped to
// a session, to that session's subscribers. Full subscriber buffers drop the
// event rather than stall the publisher.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.deliverLocked(topicAll, ev)
	if ev.SessionID != "" {
		h.deliverLocked(ev.SessionID, ev)
	}
}

func (h *Hub) deliverLocked(topic string, ev Event) {
	for subID, ch := range h.subs[topic] {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("event dropped, subscriber behind",
				"topic", topic,
				"sub_id", subID,
				"type", ev.Type)
		}
	}
}

// SubscriberCount reports the number of active subscriptions across all
// topics.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}
