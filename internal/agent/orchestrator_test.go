// ABOUTME: Turn-loop tests: tool rounds, the round bound, provider failure,
// ABOUTME: and the model context composed for each call

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/patron-gateway/internal/builtins"
	"github.com/2389/patron-gateway/internal/config"
	"github.com/2389/patron-gateway/internal/ids"
	"github.com/2389/patron-gateway/internal/knowledge"
	"github.com/2389/patron-gateway/internal/model"
	"github.com/2389/patron-gateway/internal/profile"
	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
	"github.com/2389/patron-gateway/internal/tools"
)

const agentProfileTOML = `
[business]
name = "Spice Route"
kind = "restaurant"
description = "North Indian kitchen"
address = "5 Main St, Riverton"
phone = "021 555 0101"

[[hours]]
days = "mon-sun"
open = "11:00"
close = "22:00"

[[menu]]
name = "Butter Chicken"
category = "mains"
price = 18.50

[[menu]]
name = "Garlic Naan"
category = "breads"
price = 4.00

[delivery]
enabled = true
fee = 5.00
radius_km = 8.0

[behavior]
greeting = "Namaste! How can I help today?"
rules = ["Never promise discounts."]

[owner]
name = "Asha"
channel = "matrix"
session_id = "owner-session"
`

// step is one scripted model response.
type step struct {
	resp *model.Response
	err  error
}

// scriptedModel plays back canned responses in order, snapshotting every
// request for assertions. Extra calls replay the last step.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	requests []model.Request
}

func (m *scriptedModel) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := *req
	snap.Messages = append([]session.Message(nil), req.Messages...)
	snap.Tools = append([]model.ToolDefinition(nil), req.Tools...)
	m.requests = append(m.requests, snap)

	idx := m.calls
	m.calls++
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	if idx < 0 {
		return &model.Response{Text: "ok"}, nil
	}
	st := m.steps[idx]
	if st.err != nil {
		return nil, st.err
	}
	return st.resp, nil
}

func (m *scriptedModel) Name() string { return "scripted" }

// loopingModel always requests another valid tool call, simulating a model
// stuck on tool use.
type loopingModel struct {
	mu    sync.Mutex
	calls int
}

func (m *loopingModel) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return &model.Response{
		Text: fmt.Sprintf("checking again (%d)", m.calls),
		ToolCalls: []model.ToolCall{{
			ID:        fmt.Sprintf("loop-%d", m.calls),
			Name:      "echo",
			Arguments: json.RawMessage(`{"text":"again"}`),
		}},
	}, nil
}

func (m *loopingModel) Name() string { return "looping" }

func (m *loopingModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type deliveredReply struct {
	channel   string
	sessionID string
	text      string
}

// fakeResponder records everything handed to SendResponse.
type fakeResponder struct {
	mu      sync.Mutex
	replies []deliveredReply
	err     error
}

func (f *fakeResponder) SendResponse(_ context.Context, channel, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, deliveredReply{channel: channel, sessionID: sessionID, text: text})
	return f.err
}

func (f *fakeResponder) all() []deliveredReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deliveredReply(nil), f.replies...)
}

// collectObserver records turn events in arrival order.
type collectObserver struct {
	mu     sync.Mutex
	events []TurnEvent
}

func (c *collectObserver) ObserveTurn(ev TurnEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectObserver) kinds() []EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EventKind, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (c *collectObserver) snapshot() []TurnEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TurnEvent(nil), c.events...)
}

type fixture struct {
	orch       *Orchestrator
	registry   *session.Registry
	dispatcher *tools.Dispatcher
	responder  *fakeResponder
	observer   *collectObserver
	store      *store.SQLiteStore
	profiles   *profile.Holder
}

func writeProfile(t *testing.T, dir, toml string) string {
	t.Helper()
	path := filepath.Join(dir, "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))
	return path
}

func registerEchoTool(t *testing.T, d *tools.Dispatcher) {
	t.Helper()
	err := d.Register(tools.Definition{
		Name:        "echo",
		Description: "Echo the supplied text back",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}, func(_ context.Context, _ string, args json.RawMessage) (*tools.Result, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return &tools.Result{Message: "echo: " + in.Text}, nil
	})
	require.NoError(t, err)
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxToolCalls: 5,
		HistoryLimit: 10,
		ModelTimeout: 5 * time.Second,
		ToolTimeout:  5 * time.Second,
		TurnTimeout:  10 * time.Second,
	}
}

func buildFixture(t *testing.T, client model.Client, dispatcher *tools.Dispatcher, holder *profile.Holder, st *store.SQLiteStore) *fixture {
	t.Helper()

	registry := session.NewRegistry(slog.Default())
	orch := New(registry, client, dispatcher, NewPromptBuilder(holder, dispatcher), st, testAgentConfig())
	t.Cleanup(orch.Close)

	responder := &fakeResponder{}
	observer := &collectObserver{}
	orch.SetResponder(responder)
	orch.SetObserver(observer)

	return &fixture{
		orch:       orch,
		registry:   registry,
		dispatcher: dispatcher,
		responder:  responder,
		observer:   observer,
		store:      st,
		profiles:   holder,
	}
}

// newFixture wires the orchestrator with a lone echo tool.
func newFixture(t *testing.T, client model.Client) *fixture {
	t.Helper()
	dir := t.TempDir()

	holder, err := profile.NewHolder(writeProfile(t, dir, agentProfileTOML))
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(filepath.Join(dir, "patron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dispatcher := tools.NewDispatcher()
	registerEchoTool(t, dispatcher)

	return buildFixture(t, client, dispatcher, holder, st)
}

// newBusinessFixture wires the orchestrator with the full business tool pack.
func newBusinessFixture(t *testing.T, client model.Client) *fixture {
	t.Helper()
	dir := t.TempDir()

	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "faq.md"),
		[]byte("# Delivery\nWe deliver within 8 km of the restaurant.\n"), 0o644))

	holder, err := profile.NewHolder(writeProfile(t, dir, agentProfileTOML))
	require.NoError(t, err)

	base, err := knowledge.Load(docs, slog.Default())
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(filepath.Join(dir, "patron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dispatcher := tools.NewDispatcher()
	pack := builtins.New(builtins.Deps{Profiles: holder, Knowledge: base, Store: st, IDs: ids.NewGenerator()})
	require.NoError(t, pack.RegisterAll(dispatcher))

	return buildFixture(t, client, dispatcher, holder, st)
}

// startSession creates the session and appends the triggering user message,
// the way the gateway does before handing a turn over.
func (f *fixture) startSession(t *testing.T, channel, sessionID, text string) session.Message {
	t.Helper()
	f.registry.GetOrCreate(sessionID, channel, nil)
	msg := session.Message{
		ID:      uuid.New().String(),
		Role:    session.RoleUser,
		Content: text,
	}
	require.NoError(t, f.registry.Append(sessionID, msg))
	return msg
}

// turn runs one complete turn synchronously.
func (f *fixture) turn(t *testing.T, channel, sessionID, text string) {
	t.Helper()
	msg := f.startSession(t, channel, sessionID, text)
	f.orch.runTurn(context.Background(), channel, sessionID, msg)
}

func TestTurn_PlainReply(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{Text: "We're open until 22:00 tonight."}},
	}}
	f := newFixture(t, client)

	f.turn(t, "whatsapp", "wa-1", "What time do you close?")

	require.Equal(t, 1, client.calls)
	replies := f.responder.all()
	require.Len(t, replies, 1)
	assert.Equal(t, "whatsapp", replies[0].channel)
	assert.Equal(t, "wa-1", replies[0].sessionID)
	assert.Equal(t, "We're open until 22:00 tonight.", replies[0].text)

	req := client.requests[0]
	assert.Contains(t, req.System, "Spice Route")
	assert.Contains(t, req.System, "echo")
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "echo", req.Tools[0].Name)
	require.NotEmpty(t, req.Messages)
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, session.RoleUser, last.Role)
	assert.Equal(t, "What time do you close?", last.Content)

	assert.Equal(t, []EventKind{EventTurnStarted, EventTurnDone}, f.observer.kinds())
}

func TestTurn_ToolRoundRecordsMessages(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{
			Text: "Let me check.",
			ToolCalls: []model.ToolCall{{
				ID:        "call-1",
				Name:      "echo",
				Arguments: json.RawMessage(`{"text":"hi"}`),
			}},
		}},
		{resp: &model.Response{Text: "All set."}},
	}}
	f := newFixture(t, client)

	f.turn(t, "whatsapp", "wa-2", "Please echo hi")

	require.Equal(t, 2, client.calls)

	// The second model call sees the round it asked for: the tool-call
	// message followed by its results.
	msgs := client.requests[1].Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	asst := msgs[len(msgs)-2]
	require.Equal(t, session.RoleAssistant, asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "call-1", asst.ToolCalls[0].CallID)
	assert.Equal(t, "echo", asst.ToolCalls[0].Name)

	toolMsg := msgs[len(msgs)-1]
	require.Equal(t, session.RoleTool, toolMsg.Role)
	require.Len(t, toolMsg.ToolResults, 1)
	res := toolMsg.ToolResults[0]
	assert.Equal(t, "call-1", res.CallID)
	assert.True(t, res.Success)
	assert.Equal(t, "echo: hi", res.Message)

	// The session log keeps the round durable in order.
	sess, ok := f.registry.Get("wa-2")
	require.True(t, ok)
	roles := make([]session.Role, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []session.Role{session.RoleUser, session.RoleAssistant, session.RoleTool}, roles)

	replies := f.responder.all()
	require.Len(t, replies, 1)
	assert.Equal(t, "All set.", replies[0].text)

	assert.Equal(t,
		[]EventKind{EventTurnStarted, EventToolUse, EventToolResult, EventTurnDone},
		f.observer.kinds())
}

func TestTurn_LoopBoundStopsModelCalls(t *testing.T) {
	client := &loopingModel{}
	f := newFixture(t, client)

	f.turn(t, "whatsapp", "wa-3", "Keep echoing forever")

	// Exactly MaxToolCalls rounds, never a further model call, and the last
	// narration becomes the reply.
	assert.Equal(t, 5, client.callCount())
	replies := f.responder.all()
	require.Len(t, replies, 1)
	assert.Equal(t, "checking again (5)", replies[0].text)

	var uses int
	for _, ev := range f.observer.snapshot() {
		if ev.Kind == EventToolUse {
			uses++
		}
	}
	assert.Equal(t, 5, uses)
}

func TestTurn_ProviderFailureSendsApology(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{err: fmt.Errorf("%w: upstream 500", model.ErrProvider)},
	}}
	f := newFixture(t, client)

	f.turn(t, "whatsapp", "wa-4", "Hello?")

	require.Equal(t, 1, client.calls)
	replies := f.responder.all()
	require.Len(t, replies, 1)
	assert.Equal(t, apologyReply, replies[0].text)

	// No tool rounds were recorded, just the user message.
	sess, ok := f.registry.Get("wa-4")
	require.True(t, ok)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
}

func TestTurn_UnknownToolBecomesFailedResult(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{ToolCalls: []model.ToolCall{{
			ID:        "call-9",
			Name:      "no_such_tool",
			Arguments: json.RawMessage(`{}`),
		}}}},
		{resp: &model.Response{Text: "That one is beyond me, sorry."}},
	}}
	f := newFixture(t, client)

	f.turn(t, "whatsapp", "wa-5", "Do something exotic")

	require.Equal(t, 2, client.calls)
	msgs := client.requests[1].Messages
	toolMsg := msgs[len(msgs)-1]
	require.Equal(t, session.RoleTool, toolMsg.Role)
	require.Len(t, toolMsg.ToolResults, 1)
	res := toolMsg.ToolResults[0]
	assert.Equal(t, "call-9", res.CallID)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unknown tool")

	replies := f.responder.all()
	require.Len(t, replies, 1)
	assert.Equal(t, "That one is beyond me, sorry.", replies[0].text)
}

func TestTurn_EmptyReplyGetsCompletionNotice(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{Text: ""}},
	}}
	f := newFixture(t, client)

	f.turn(t, "whatsapp", "wa-6", "Thanks")

	replies := f.responder.all()
	require.Len(t, replies, 1)
	assert.Equal(t, completionReply, replies[0].text)
}

func TestTurn_NoResponderRecordsReply(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{Text: "Recorded only."}},
	}}
	f := newFixture(t, client)
	f.orch.SetResponder(nil)

	f.turn(t, "admin", "adm-1", "Status check")

	sess, ok := f.registry.Get("adm-1")
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	last := sess.Messages[1]
	assert.Equal(t, session.RoleAssistant, last.Role)
	assert.Equal(t, "Recorded only.", last.Content)
}

func TestTurn_DeliveryFailureStillCompletes(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{Text: "Your order is on the way."}},
	}}
	f := newFixture(t, client)
	f.responder.err = fmt.Errorf("%w: socket closed", ErrChannelDelivery)

	f.turn(t, "whatsapp", "wa-20", "Where is my order?")

	// The responder recorded the reply before the channel failed, so the
	// turn finishes as done, not as an error.
	require.Len(t, f.responder.all(), 1)
	assert.Equal(t, []EventKind{EventTurnStarted, EventTurnDone}, f.observer.kinds())
}

func TestTurn_RecordingFailureIsTurnError(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{Text: "hello"}},
	}}
	f := newFixture(t, client)
	f.responder.err = session.ErrUnknownSession

	f.turn(t, "whatsapp", "wa-21", "hi")

	assert.Equal(t, []EventKind{EventTurnStarted, EventTurnError}, f.observer.kinds())
}

func TestTurn_HistoryWindowBounded(t *testing.T) {
	client := &scriptedModel{}
	f := newFixture(t, client)

	f.registry.GetOrCreate("wa-7", "whatsapp", nil)
	for i := 0; i < 14; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		require.NoError(t, f.registry.Append("wa-7", session.Message{
			ID:      fmt.Sprintf("m-%02d", i),
			Role:    role,
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	f.turn(t, "whatsapp", "wa-7", "newest")

	// HistoryLimit plus the triggering message, oldest first.
	req := client.requests[0]
	require.Len(t, req.Messages, 11)
	assert.Equal(t, "message 4", req.Messages[0].Content)
	assert.Equal(t, "newest", req.Messages[len(req.Messages)-1].Content)
}

func TestTurn_KnownCustomerContextInSystem(t *testing.T) {
	client := &scriptedModel{}
	f := newFixture(t, client)

	require.NoError(t, f.store.SaveCustomer(context.Background(), &store.Customer{
		SessionID:   "wa-8",
		Name:        "Asha",
		Preferences: []string{"no peanuts"},
		VisitCount:  3,
		FirstSeen:   time.Now().Add(-72 * time.Hour),
		LastSeen:    time.Now().Add(-24 * time.Hour),
	}))

	f.turn(t, "whatsapp", "wa-8", "The usual please")

	req := client.requests[0]
	assert.Contains(t, req.System, "Known customer: Asha")
	assert.Contains(t, req.System, "Visits: 3")
	assert.Contains(t, req.System, "no peanuts")
}

func TestTurn_OrderFlowEndToEnd(t *testing.T) {
	orderArgs := `{
		"items": [
			{"name": "Butter Chicken", "quantity": 2},
			{"name": "Garlic Naan", "quantity": 1}
		],
		"fulfilment": "delivery",
		"delivery_address": "12 Oak Ave",
		"customer_name": "Jane",
		"phone": "0821234567"
	}`
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{ToolCalls: []model.ToolCall{{
			ID:        "call-order",
			Name:      "take_order",
			Arguments: json.RawMessage(orderArgs),
		}}}},
		{resp: &model.Response{Text: "Done! Two Butter Chicken and one Garlic Naan, 46.00 all in."}},
	}}
	f := newBusinessFixture(t, client)

	f.turn(t, "whatsapp", "wa-42",
		"2 butter chicken and a garlic naan to 12 Oak Ave please. Jane, 0821234567.")

	require.Equal(t, 2, client.calls)

	// The observation handed back to the model carries the computed totals.
	msgs := client.requests[1].Messages
	toolMsg := msgs[len(msgs)-1]
	require.Equal(t, session.RoleTool, toolMsg.Role)
	require.Len(t, toolMsg.ToolResults, 1)
	require.True(t, toolMsg.ToolResults[0].Success)

	var data struct {
		OrderID       string `json:"order_id"`
		SubtotalCents int64  `json:"subtotal_cents"`
		DeliveryCents int64  `json:"delivery_cents"`
		TotalCents    int64  `json:"total_cents"`
	}
	require.NoError(t, json.Unmarshal(toolMsg.ToolResults[0].Data, &data))
	assert.NotEmpty(t, data.OrderID)
	assert.Equal(t, int64(4100), data.SubtotalCents)
	assert.Equal(t, int64(500), data.DeliveryCents)
	assert.Equal(t, int64(4600), data.TotalCents)

	// Exactly one durable order, attributed to the session.
	orders, err := f.store.ListOrders(context.Background(), "wa-42", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "wa-42", orders[0].SessionID)
	assert.Equal(t, int64(4600), orders[0].Total)

	replies := f.responder.all()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].text, "46.00")
}

func TestHandleMessage_RunsThroughQueue(t *testing.T) {
	client := &scriptedModel{steps: []step{
		{resp: &model.Response{Text: "Queued and answered."}},
	}}
	f := newFixture(t, client)

	msg := f.startSession(t, "whatsapp", "wa-9", "Anyone there?")
	require.NoError(t, f.orch.HandleMessage("whatsapp", "wa-9", msg))

	require.Eventually(t, func() bool {
		return len(f.responder.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Queued and answered.", f.responder.all()[0].text)
}
