// ABOUTME: ReAct turn loop: composes model context, executes requested tool
// ABOUTME: rounds, and finalizes exactly one assistant reply per inbound message

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/patron-gateway/internal/config"
	"github.com/2389/patron-gateway/internal/model"
	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/tools"
)

// apologyReply is the only text a customer sees when a turn cannot produce a
// real answer. Internal error detail never rides along.
const apologyReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."

// completionReply guarantees a non-empty final message when the model ends a
// turn without any narration, for example right at the tool-round bound.
const completionReply = "I've taken care of that. Is there anything else I can help with?"

// Responder hands a finished reply back to the message bus, which records the
// assistant message and forwards it to the session's channel adapter.
// Implemented by the gateway.
type Responder interface {
	SendResponse(ctx context.Context, channel, sessionID, text string) error
}

// ErrChannelDelivery marks a Responder failure that happened after the reply
// was recorded: the channel adapter could not deliver it. The reply is never
// retried or unrecorded, and a turn finishing into this error still counts as
// complete.
var ErrChannelDelivery = errors.New("channel delivery failed")

// Observer receives turn lifecycle events. Implementations must not block;
// the orchestrator calls them inline on the turn goroutine.
type Observer interface {
	ObserveTurn(ev TurnEvent)
}

// TurnEvent is one observable moment in a turn's lifecycle. Pointer fields
// are populated only for their matching kind. MessageID is the id of the
// user message that started the turn, on every event of that turn.
type TurnEvent struct {
	Kind       EventKind
	Channel    string
	SessionID  string
	MessageID  string
	Text       string
	ToolCall   *session.ToolInvocation
	ToolResult *session.ToolResult
	Err        string
}

// EventKind indicates the type of turn event.
type EventKind int

const (
	EventTurnStarted EventKind = iota
	EventToolUse
	EventToolResult
	EventTurnDone
	EventTurnError
)

func (k EventKind) String() string {
	switch k {
	case EventTurnStarted:
		return "turn_started"
	case EventToolUse:
		return "tool_use"
	case EventToolResult:
		return "tool_result"
	case EventTurnDone:
		return "turn_done"
	case EventTurnError:
		return "turn_error"
	default:
		return "unknown"
	}
}

// phase tracks where a turn is in its lifecycle: composing, awaiting_model,
// then zero or more tools_requested/executing_tools rounds, finalizing, done.
type phase int

const (
	phaseComposing phase = iota
	phaseAwaitingModel
	phaseToolsRequested
	phaseExecutingTools
	phaseFinalizing
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseComposing:
		return "composing"
	case phaseAwaitingModel:
		return "awaiting_model"
	case phaseToolsRequested:
		return "tools_requested"
	case phaseExecutingTools:
		return "executing_tools"
	case phaseFinalizing:
		return "finalizing"
	case phaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// turn is the in-flight state of one inbound message being answered. working
// is the model-facing transcript including this turn's tool rounds; lastText
// is the most recent narration, kept for the fail-open path at the round
// bound.
type turn struct {
	channel   string
	sessionID string
	userMsg   session.Message
	phase     phase
	working   []session.Message
	lastText  string
	rounds    int
}

// Orchestrator drives the agent loop. One instance serves every session;
// per-session ordering comes from the queue, so two messages from the same
// customer never interleave their tool side effects.
type Orchestrator struct {
	registry   *session.Registry
	client     model.Client
	dispatcher *tools.Dispatcher
	prompts    *PromptBuilder
	customers  CustomerStore
	cfg        config.AgentConfig
	queue      *Queue
	logger     *slog.Logger

	mu        sync.RWMutex
	responder Responder
	observer  Observer

	tracer    trace.Tracer
	turns     metric.Int64Counter
	toolExecs metric.Int64Counter
}

// New wires the orchestrator. The responder and observer are bound later via
// SetResponder and SetObserver because the gateway is constructed after the
// orchestrator it routes into. A nil customers store disables the memory
// collaborator.
func New(registry *session.Registry, client model.Client, dispatcher *tools.Dispatcher, prompts *PromptBuilder, customers CustomerStore, cfg config.AgentConfig) *Orchestrator {
	logger := slog.Default().With("component", "agent")
	meter := otel.Meter("patron-gateway/agent")
	turns, _ := meter.Int64Counter("agent.turns",
		metric.WithDescription("Completed turns by outcome"))
	toolExecs, _ := meter.Int64Counter("agent.tool_executions",
		metric.WithDescription("Tool executions by tool and success"))

	o := &Orchestrator{
		registry:   registry,
		client:     client,
		dispatcher: dispatcher,
		prompts:    prompts,
		customers:  customers,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("patron-gateway/agent"),
		turns:      turns,
		toolExecs:  toolExecs,
	}
	o.queue = NewQueue(o.runTurn, cfg.TurnTimeout, logger)
	return o
}

// SetResponder binds the reply sink. Safe to call while turns are running;
// turns that finalize before the bind record their reply directly.
func (o *Orchestrator) SetResponder(r Responder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responder = r
}

// SetObserver binds the event sink.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observer = obs
}

// ReloadPrompt recomposes the system prompt after the profile or skill
// catalogue changed. In-flight turns keep the prompt they composed with.
func (o *Orchestrator) ReloadPrompt() {
	o.prompts.Reload()
}

// HandleMessage queues one inbound user message for a full turn. The caller
// must have appended the message to the session already. Returns ErrQueueFull
// when the session's backlog is saturated.
func (o *Orchestrator) HandleMessage(channel, sessionID string, msg session.Message) error {
	return o.queue.Enqueue(channel, sessionID, msg)
}

// Close stops the per-session workers and waits for in-flight turns.
func (o *Orchestrator) Close() {
	o.queue.Close()
}

// runTurn executes one complete turn. Invoked only by the queue, one at a
// time per session.
func (o *Orchestrator) runTurn(ctx context.Context, channel, sessionID string, userMsg session.Message) {
	ctx, span := o.tracer.Start(ctx, "agent.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("channel", channel),
	)

	start := time.Now()
	tr := &turn{channel: channel, sessionID: sessionID, userMsg: userMsg}
	o.notify(TurnEvent{Kind: EventTurnStarted, Channel: channel, SessionID: sessionID, MessageID: userMsg.ID})

	o.setPhase(tr, phaseComposing)
	system := o.composeSystem(ctx, sessionID)
	tr.working = o.registry.RecentHistory(sessionID, o.cfg.HistoryLimit+1)
	if n := len(tr.working); n == 0 || tr.working[n-1].ID != userMsg.ID {
		tr.working = append(tr.working, userMsg)
	}

	reply, outcome := o.loop(ctx, tr, system)

	o.setPhase(tr, phaseFinalizing)
	o.learnFromTurn(ctx, sessionID, userMsg)

	if err := o.deliver(tr, reply); err != nil && !errors.Is(err, ErrChannelDelivery) {
		// A recorded-but-undelivered reply still completes the turn; the bus
		// has already logged and audited the channel failure. Anything else
		// here is an unknown session, a routing contract violation rather
		// than a user-visible condition.
		o.logger.Error("recording reply failed",
			"session_id", sessionID,
			"channel", channel,
			"error", err)
		span.RecordError(err)
		o.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "append_failed")))
		o.notify(TurnEvent{Kind: EventTurnError, Channel: channel, SessionID: sessionID, MessageID: userMsg.ID, Err: err.Error()})
		return
	}

	o.setPhase(tr, phaseDone)
	o.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	o.logger.Info("turn complete",
		"session_id", sessionID,
		"channel", channel,
		"outcome", outcome,
		"rounds", tr.rounds,
		"duration_ms", time.Since(start).Milliseconds())
	o.notify(TurnEvent{Kind: EventTurnDone, Channel: channel, SessionID: sessionID, MessageID: userMsg.ID, Text: reply})
}

// loop runs the model and tool rounds until the model answers in plain text,
// the provider fails, or the round bound is hit. Returns the reply text and
// an outcome label for metrics. Tool side effects are never rolled back: a
// booking created in round two stays created even if round three fails.
func (o *Orchestrator) loop(ctx context.Context, tr *turn, system string) (reply, outcome string) {
	catalogue := o.modelTools()
	for {
		o.setPhase(tr, phaseAwaitingModel)
		resp, err := o.callModel(ctx, tr, system, catalogue)
		if err != nil {
			o.logger.Error("model call failed, sending apology",
				"session_id", tr.sessionID,
				"rounds", tr.rounds,
				"error", err)
			return apologyReply, "provider_failure"
		}
		if resp.Text != "" {
			tr.lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Text == "" {
				return completionReply, "ok"
			}
			return resp.Text, "ok"
		}

		o.setPhase(tr, phaseToolsRequested)
		calls := make([]session.ToolInvocation, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			calls = append(calls, session.ToolInvocation{
				CallID:    tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		o.record(tr, session.Message{
			ID:        uuid.New().String(),
			Role:      session.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: calls,
		})

		o.setPhase(tr, phaseExecutingTools)
		results := o.executeTools(ctx, tr, calls)
		o.record(tr, session.Message{
			ID:          uuid.New().String(),
			Role:        session.RoleTool,
			ToolResults: results,
		})

		tr.rounds++
		if tr.rounds >= o.cfg.MaxToolCalls {
			// Fail open: stop calling the model and answer with whatever it
			// last said. Bounds latency and cost against a model that loops
			// on tool use.
			o.logger.Warn("tool-round bound reached, finalizing",
				"session_id", tr.sessionID,
				"rounds", tr.rounds)
			if tr.lastText == "" {
				return completionReply, "loop_bound"
			}
			return tr.lastText, "loop_bound"
		}
	}
}

// callModel makes one completion call bounded by the model timeout. Failures
// already carry the fallback attempt when a standby provider is configured.
func (o *Orchestrator) callModel(ctx context.Context, tr *turn, system string, catalogue []model.ToolDefinition) (*model.Response, error) {
	ctx, span := o.tracer.Start(ctx, "agent.model_call")
	defer span.End()
	span.SetAttributes(attribute.Int("round", tr.rounds))

	mctx, cancel := context.WithTimeout(ctx, o.cfg.ModelTimeout)
	defer cancel()

	resp, err := o.client.Complete(mctx, &model.Request{
		System:   system,
		Messages: tr.working,
		Tools:    catalogue,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp, nil
}

// executeTools runs one round's invocations sequentially in the order the
// model emitted them, so the audit trail matches the model's intent. Every
// invocation gets exactly one result: an unknown tool name comes back as a
// failed result the model can correct within the round bound.
func (o *Orchestrator) executeTools(ctx context.Context, tr *turn, calls []session.ToolInvocation) []session.ToolResult {
	results := make([]session.ToolResult, 0, len(calls))
	for i := range calls {
		call := calls[i]
		o.notify(TurnEvent{Kind: EventToolUse, Channel: tr.channel, SessionID: tr.sessionID, MessageID: tr.userMsg.ID, ToolCall: &call})

		tctx, cancel := context.WithTimeout(ctx, o.cfg.ToolTimeout)
		res, err := o.dispatcher.Execute(tctx, tr.sessionID, call)
		cancel()
		if err != nil {
			o.logger.Warn("unknown tool requested",
				"session_id", tr.sessionID,
				"tool", call.Name,
				"error", err)
			res = session.ToolResult{
				CallID:  call.CallID,
				Success: false,
				Message: err.Error(),
			}
		}

		o.toolExecs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", call.Name),
			attribute.Bool("success", res.Success)))
		o.notify(TurnEvent{Kind: EventToolResult, Channel: tr.channel, SessionID: tr.sessionID, MessageID: tr.userMsg.ID, ToolResult: &res})
		results = append(results, res)
	}
	return results
}

// record appends an in-turn message to the working transcript and the session
// log. The session keeps tool bookkeeping for audit and the dashboard;
// RecentHistory filters it out of future turns' model context.
func (o *Orchestrator) record(tr *turn, msg session.Message) {
	tr.working = append(tr.working, msg)
	if err := o.registry.Append(tr.sessionID, msg); err != nil {
		o.logger.Error("recording tool round failed",
			"session_id", tr.sessionID,
			"error", err)
	}
}

// deliver hands the reply to the gateway for recording and delivery. The
// context is detached so a timed-out turn still gets its apology recorded
// and sent. Without a bound responder the reply is recorded directly, which
// keeps the transcript complete for admin-only deployments and tests.
func (o *Orchestrator) deliver(tr *turn, reply string) error {
	sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	r := o.responderRef()
	if r == nil {
		o.logger.Warn("no responder bound, recording reply without delivery",
			"session_id", tr.sessionID)
		return o.registry.Append(tr.sessionID, session.Message{
			ID:      uuid.New().String(),
			Role:    session.RoleAssistant,
			Content: reply,
		})
	}
	return r.SendResponse(sendCtx, tr.channel, tr.sessionID, reply)
}

// composeSystem is the standing prompt plus optional known-customer context.
func (o *Orchestrator) composeSystem(ctx context.Context, sessionID string) string {
	system := o.prompts.System()
	if extra := o.customerContext(ctx, sessionID); extra != "" {
		system += "\n\n" + extra
	}
	return system
}

// modelTools converts the dispatcher catalogue into the model wire contract.
// Same names, same schemas: anything else would desync into unknown-tool
// failures.
func (o *Orchestrator) modelTools() []model.ToolDefinition {
	defs := o.dispatcher.Catalogue()
	out := make([]model.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

func (o *Orchestrator) setPhase(tr *turn, p phase) {
	tr.phase = p
	o.logger.Debug("turn phase",
		"session_id", tr.sessionID,
		"phase", p.String(),
		"rounds", tr.rounds)
}

// notify fans one event out to the bound observer, if any.
func (o *Orchestrator) notify(ev TurnEvent) {
	if obs := o.observerRef(); obs != nil {
		obs.ObserveTurn(ev)
	}
}

func (o *Orchestrator) observerRef() Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.observer
}

func (o *Orchestrator) responderRef() Responder {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.responder
}
