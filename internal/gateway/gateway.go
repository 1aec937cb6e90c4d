// ABOUTME: Protocol-neutral message bus between channel adapters, the agent runtime, and observers
// ABOUTME: Routes inbound customer messages, records and delivers replies, and fans out events

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/2389/patron-gateway/internal/agent"
	"github.com/2389/patron-gateway/internal/config"
	"github.com/2389/patron-gateway/internal/dedupe"
	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
)

const (
	// adminChannel names the synthetic channel for operator-injected
	// messages. No adapter is ever registered for it, so replies into
	// admin-created sessions stay recorded without being delivered.
	adminChannel = "admin"

	// Dedupe window for platform message ids. Redelivery storms from
	// bridge reconnects settle well inside this.
	dedupeTTL        = 10 * time.Minute
	dedupeMaxEntries = 4096

	// auditBacklog is the buffer between the bus and the audit writer.
	auditBacklog = 256

	// Well-known adapter metadata keys.
	metaMessageID  = "message_id"
	metaSenderName = "sender_name"
	metaCustomerID = "customer_id"
)

// Routing errors surfaced to channel adapters and the HTTP edge.
var (
	// ErrDuplicateMessage means the platform message id was already
	// ingested within the dedupe window.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrRateLimited means the sender exceeded the per-sender message rate.
	ErrRateLimited = errors.New("rate limited")
)

// ChannelAdapter delivers assistant replies to one messaging platform.
type ChannelAdapter interface {
	Send(ctx context.Context, sessionID, text string) error
}

// TurnRunner is the agent runtime the bus hands turns to.
type TurnRunner interface {
	HandleMessage(channel, sessionID string, msg session.Message) error
	ReloadPrompt()
}

// Gateway is the bus. It owns the channel adapter table, the observer hub,
// ingress dedupe and rate limiting, and the audit trail. It implements
// agent.Responder so the runtime hands finished replies back through
// SendResponse, and agent.Observer so turn lifecycle events reach the hub.
type Gateway struct {
	registry *session.Registry
	turns    TurnRunner
	store    store.Store
	profiles *profile.Holder
	hub      *Hub
	guard    *dedupe.Guard
	limits   *limiterPool
	logger   *slog.Logger

	routed    metric.Int64Counter
	delivered metric.Int64Counter

	mu       sync.RWMutex
	adapters map[string]ChannelAdapter
	closed   bool

	auditCh   chan *store.AuditEntry
	auditDone chan struct{}
}

var (
	_ agent.Responder = (*Gateway)(nil)
	_ agent.Observer  = (*Gateway)(nil)
)

// New assembles the bus around an existing registry, agent runtime, store,
// and profile holder. Rate limiting is active only when enabled in config.
func New(registry *session.Registry, turns TurnRunner, st store.Store, profiles *profile.Holder, limits config.LimitsConfig) *Gateway {
	logger := slog.Default().With("component", "gateway")
	meter := otel.Meter("patron-gateway/gateway")
	routed, _ := meter.Int64Counter("gateway.messages.routed",
		metric.WithDescription("Inbound messages by routing outcome"))
	delivered, _ := meter.Int64Counter("gateway.replies.delivered",
		metric.WithDescription("Assistant replies by delivery outcome"))

	g := &Gateway{
		registry:  registry,
		turns:     turns,
		store:     st,
		profiles:  profiles,
		hub:       NewHub(slog.Default()),
		guard:     dedupe.NewGuard(dedupeTTL, dedupeMaxEntries),
		logger:    logger,
		routed:    routed,
		delivered: delivered,
		adapters:  make(map[string]ChannelAdapter),
		auditCh:   make(chan *store.AuditEntry, auditBacklog),
		auditDone: make(chan struct{}),
	}
	if limits.Enabled {
		g.limits = newLimiterPool(limits.MessagesPerMinute, limits.Burst)
	}
	go g.auditLoop()
	return g
}

// RegisterChannel binds an adapter to a channel name. Registering the same
// name again replaces the previous adapter; last write wins, never an error.
func (g *Gateway) RegisterChannel(name string, adapter ChannelAdapter) {
	g.mu.Lock()
	_, replaced := g.adapters[name]
	g.adapters[name] = adapter
	g.mu.Unlock()

	if replaced {
		g.logger.Info("channel adapter replaced", "channel", name)
		return
	}
	g.logger.Info("channel adapter registered", "channel", name)
}

// RouteMessage ingests one customer message: dedupe and rate-limit checks,
// then create-or-load the session, record the user message, announce it to
// observers, and enqueue the turn. It returns the recorded message id once
// the turn is queued; it never waits for the model. Messages for the same
// session run in call order.
//
// A message that passes the dedupe check consumes its platform id even when
// a later step fails, so redelivery inside the TTL window is dropped.
func (g *Gateway) RouteMessage(ctx context.Context, channel, sessionID, text string, metadata map[string]string) (string, error) {
	if channel == "" || sessionID == "" {
		return "", fmt.Errorf("channel and session id are required")
	}

	if g.guard.Seen(channel, metadata[metaMessageID]) {
		g.logger.Debug("duplicate message ignored",
			"channel", channel,
			"session_id", sessionID,
			"platform_id", metadata[metaMessageID])
		g.count(ctx, g.routed, "duplicate")
		return "", ErrDuplicateMessage
	}

	if g.limits != nil && !g.limits.allow(senderKey(channel, sessionID, metadata)) {
		g.logger.Warn("sender rate limited",
			"channel", channel,
			"session_id", sessionID)
		g.audit(&store.AuditEntry{
			SessionID: sessionID,
			Channel:   channel,
			Kind:      store.AuditRateLimited,
			Actor:     "customer",
		})
		g.count(ctx, g.routed, "rate_limited")
		return "", ErrRateLimited
	}

	g.registry.GetOrCreate(sessionID, channel, metadata)
	msg := session.Message{
		ID:        uuid.New().String(),
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := g.registry.Append(sessionID, msg); err != nil {
		return "", fmt.Errorf("recording user message: %w", err)
	}

	g.Broadcast(Event{
		Type:       EventIncoming,
		Channel:    channel,
		SessionID:  sessionID,
		MessageID:  msg.ID,
		SenderName: metadata[metaSenderName],
		Message:    text,
		Timestamp:  msg.Timestamp,
	})
	g.audit(&store.AuditEntry{
		SessionID: sessionID,
		Channel:   channel,
		Kind:      store.AuditMessageIn,
		Actor:     "customer",
		Detail:    map[string]any{"message_id": msg.ID},
	})

	if err := g.turns.HandleMessage(channel, sessionID, msg); err != nil {
		g.logger.Error("turn enqueue failed",
			"session_id", sessionID,
			"channel", channel,
			"error", err)
		g.count(ctx, g.routed, "enqueue_failed")
		return "", fmt.Errorf("enqueuing turn: %w", err)
	}

	g.count(ctx, g.routed, "ok")
	return msg.ID, nil
}

// SendResponse records an assistant reply and forwards it to the named
// channel's adapter. With no adapter registered the reply stays recorded and
// announced, a silent no-op delivery. A failing adapter is logged, audited,
// and reported as agent.ErrChannelDelivery so the caller can tell an
// undelivered reply from one that was never recorded; delivery is not
// retried and the recorded reply stays.
func (g *Gateway) SendResponse(ctx context.Context, channel, sessionID, text string) error {
	msg := session.Message{
		ID:        uuid.New().String(),
		Role:      session.RoleAssistant,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := g.registry.Append(sessionID, msg); err != nil {
		return fmt.Errorf("recording assistant message: %w", err)
	}

	g.Broadcast(Event{
		Type:      EventOutgoing,
		Channel:   channel,
		SessionID: sessionID,
		MessageID: msg.ID,
		Response:  text,
		Timestamp: msg.Timestamp,
	})
	g.audit(&store.AuditEntry{
		SessionID: sessionID,
		Channel:   channel,
		Kind:      store.AuditMessageOut,
		Actor:     "assistant",
		Detail:    map[string]any{"message_id": msg.ID},
	})

	adapter := g.adapterFor(channel)
	if adapter == nil {
		g.logger.Debug("no adapter for channel, reply recorded only",
			"channel", channel,
			"session_id", sessionID)
		g.count(ctx, g.delivered, "recorded_only")
		return nil
	}

	if err := adapter.Send(ctx, sessionID, text); err != nil {
		g.logger.Error("channel delivery failed",
			"channel", channel,
			"session_id", sessionID,
			"error", err)
		g.audit(&store.AuditEntry{
			SessionID: sessionID,
			Channel:   channel,
			Kind:      store.AuditDeliveryFailure,
			Actor:     "assistant",
			Detail:    map[string]any{"error": err.Error()},
		})
		g.count(ctx, g.delivered, "failed")
		return fmt.Errorf("%w: %v", agent.ErrChannelDelivery, err)
	}

	g.count(ctx, g.delivered, "delivered")
	return nil
}

// Broadcast publishes an event to every observer. Slow observers lose the
// event; none of them can fail the bus or each other.
func (g *Gateway) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	g.hub.Publish(ev)
}

// ObserveTurn republishes agent turn lifecycle events onto the observer bus
// and audits tool activity. It runs inline on the turn goroutine, so it only
// does non-blocking work.
func (g *Gateway) ObserveTurn(ev agent.TurnEvent) {
	out := Event{
		Channel:   ev.Channel,
		SessionID: ev.SessionID,
		MessageID: ev.MessageID,
		Timestamp: time.Now().UTC(),
	}
	switch ev.Kind {
	case agent.EventTurnStarted:
		out.Type = EventTurnStarted
	case agent.EventToolUse:
		out.Type = EventToolUse
		if ev.ToolCall != nil {
			out.Tool = ev.ToolCall.Name
			out.CallID = ev.ToolCall.CallID
			out.Detail = string(ev.ToolCall.Arguments)
			g.audit(&store.AuditEntry{
				SessionID: ev.SessionID,
				Channel:   ev.Channel,
				Kind:      store.AuditToolCall,
				Actor:     "assistant",
				Detail:    map[string]any{"tool": ev.ToolCall.Name},
			})
		}
	case agent.EventToolResult:
		out.Type = EventToolResult
		if ev.ToolResult != nil {
			out.CallID = ev.ToolResult.CallID
			out.Failed = !ev.ToolResult.Success
			out.Detail = ev.ToolResult.Message
		}
	case agent.EventTurnDone:
		out.Type = EventTurnDone
		out.Response = ev.Text
	case agent.EventTurnError:
		out.Type = EventTurnError
		out.Detail = ev.Err
	default:
		return
	}
	g.hub.Publish(out)
}

// NotifyOwner delivers an escalation notice to the owner contact configured
// in the business profile. Without an owner channel and session the notice
// is logged and dropped. A delivery failure comes back typed as
// agent.ErrChannelDelivery: the notice stays recorded on the owner session,
// and the escalation that raised it should mark its notification pending
// rather than fail.
func (g *Gateway) NotifyOwner(ctx context.Context, text string) error {
	owner := g.profiles.Current().Owner
	if owner.Channel == "" || owner.SessionID == "" {
		g.logger.Warn("owner notification dropped, no owner contact configured")
		return nil
	}

	g.registry.GetOrCreate(owner.SessionID, owner.Channel, map[string]string{metaSenderName: owner.Name})
	g.audit(&store.AuditEntry{
		SessionID: owner.SessionID,
		Channel:   owner.Channel,
		Kind:      store.AuditEscalation,
		Actor:     "assistant",
	})
	return g.SendResponse(ctx, owner.Channel, owner.SessionID, text)
}

// InjectAdminMessage records an operator message into a session and runs a
// full turn for it. The turn rides the session's own channel, so the reply
// reaches the customer only where a real adapter is registered; sessions
// created here live on the admin channel and their replies stay recorded
// without delivery.
func (g *Gateway) InjectAdminMessage(ctx context.Context, sessionID, text, actor string) (string, error) {
	if sessionID == "" || text == "" {
		return "", fmt.Errorf("session id and text are required")
	}
	if actor == "" {
		actor = "operator"
	}

	sess := g.registry.GetOrCreate(sessionID, adminChannel, nil)
	msg := session.Message{
		ID:        uuid.New().String(),
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := g.registry.Append(sessionID, msg); err != nil {
		return "", fmt.Errorf("recording admin message: %w", err)
	}

	g.Broadcast(Event{
		Type:       EventIncoming,
		Channel:    sess.Channel,
		SessionID:  sessionID,
		MessageID:  msg.ID,
		SenderName: actor,
		Message:    text,
		Timestamp:  msg.Timestamp,
	})
	g.audit(&store.AuditEntry{
		SessionID: sessionID,
		Channel:   sess.Channel,
		Kind:      store.AuditAdminInject,
		Actor:     actor,
		Detail:    map[string]any{"message_id": msg.ID},
	})

	if err := g.turns.HandleMessage(sess.Channel, sessionID, msg); err != nil {
		g.logger.Error("admin turn enqueue failed",
			"session_id", sessionID,
			"error", err)
		return "", fmt.Errorf("enqueuing turn: %w", err)
	}
	return msg.ID, nil
}

// Reload re-reads the business profile from disk and recomposes the system
// prompt, so profile edits take effect without a restart.
func (g *Gateway) Reload(ctx context.Context, actor string) error {
	if err := g.profiles.Reload(); err != nil {
		return fmt.Errorf("reloading profile: %w", err)
	}
	g.turns.ReloadPrompt()
	g.audit(&store.AuditEntry{Kind: store.AuditProfileReload, Actor: actor})
	g.logger.Info("profile and system prompt reloaded", "actor", actor)
	return nil
}

// Sessions returns a snapshot summary of every live session, most recently
// active first.
func (g *Gateway) Sessions() []SessionSummary {
	all := g.registry.All()
	out := make([]SessionSummary, 0, len(all))
	for _, s := range all {
		out = append(out, SessionSummary{
			ID:           s.ID,
			Channel:      s.Channel,
			SenderName:   s.Metadata[metaSenderName],
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

// SessionMessages returns the full recorded transcript of one session.
func (g *Gateway) SessionMessages(sessionID string) (session.Session, bool) {
	return g.registry.Get(sessionID)
}

// SubscribeEvents registers a firehose observer. The subscription ends with
// ctx; observers coming and going never touches bus or runtime state.
func (g *Gateway) SubscribeEvents(ctx context.Context) (<-chan Event, string) {
	return g.hub.Subscribe(ctx)
}

// SubscribeSession registers an observer for one session's events.
func (g *Gateway) SubscribeSession(ctx context.Context, sessionID string) (<-chan Event, string) {
	return g.hub.SubscribeSession(ctx, sessionID)
}

// UnsubscribeEvents removes a firehose observer before its context ends.
func (g *Gateway) UnsubscribeEvents(id string) {
	g.hub.Unsubscribe(topicAll, id)
}

// UnsubscribeSession removes a session observer before its context ends.
func (g *Gateway) UnsubscribeSession(sessionID, id string) {
	g.hub.Unsubscribe(sessionID, id)
}

// snapshotEvent builds the on-demand sessions overview event sent to fresh
// observers.
func (g *Gateway) snapshotEvent() Event {
	return Event{
		Type:      EventSessions,
		Sessions:  g.Sessions(),
		Timestamp: time.Now().UTC(),
	}
}

// Close stops the dedupe sweeper and drains the audit writer. The bus must
// not be used after Close.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	close(g.auditCh)
	<-g.auditDone
	g.guard.Close()
}

func (g *Gateway) adapterFor(channel string) ChannelAdapter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adapters[channel]
}

// audit hands an entry to the background writer without blocking the
// message path. Entries are dropped with a warning when the writer backlog
// is full.
func (g *Gateway) audit(e *store.AuditEntry) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return
	}
	select {
	case g.auditCh <- e:
	default:
		g.logger.Warn("audit backlog full, entry dropped", "kind", e.Kind)
	}
}

func (g *Gateway) auditLoop() {
	for e := range g.auditCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.store.AppendAudit(ctx, e); err != nil {
			g.logger.Error("audit append failed", "kind", e.Kind, "error", err)
		}
		cancel()
	}
	close(g.auditDone)
}

func (g *Gateway) count(ctx context.Context, c metric.Int64Counter, outcome string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// senderKey prefers the adapter-supplied stable customer id so one customer
// cannot dodge the limit by hopping sessions.
func senderKey(channel, sessionID string, metadata map[string]string) string {
	if id := metadata[metaCustomerID]; id != "" {
		return channel + ":" + id
	}
	return channel + ":" + sessionID
}
