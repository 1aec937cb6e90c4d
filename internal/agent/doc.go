// Package agent runs the turn loop that answers customer messages.
//
// # Overview
//
// The agent package owns the reason/act cycle: it composes model context
// from the business profile and session history, lets the model request
// tools, executes them through the dispatcher, and finalizes exactly one
// assistant reply per inbound message.
//
// # Orchestrator
//
// The Orchestrator is the single entry point:
//
//	orch := agent.New(registry, client, dispatcher, prompts, customers, cfg)
//	orch.SetResponder(gw)
//	orch.SetObserver(hub)
//
// Key operations:
//
//   - HandleMessage(channel, sessionID, msg): Queue one turn
//   - ReloadPrompt(): Recompose the system prompt after a profile change
//   - Close(): Stop workers and wait for in-flight turns
//
// # Turn Lifecycle
//
// A turn moves through a fixed set of phases:
//
//	composing -> awaiting_model -> (tools_requested -> executing_tools ->
//	awaiting_model)* -> finalizing -> done
//
// Each round is one model call plus the execution of the tools it asked
// for. Rounds are bounded by MaxToolCalls: at the bound the turn finalizes
// with the model's last narration instead of calling the model again. Tool
// side effects before the bound are kept, never rolled back.
//
// # Failure Behavior
//
// A failed model call (after the provider fallback, when one is configured)
// finalizes the turn with a generic apology. Unknown tools and rejected
// arguments come back to the model as failed tool results so it can correct
// itself within the round bound. The customer never sees internal error
// detail.
//
// # Per-Session Ordering
//
// The Queue gives every session its own worker: turn N+1 for a session does
// not begin composing until turn N finalizes, so two quick messages cannot
// double their side effects. A turn that outruns the turn timeout is
// abandoned to unblock the queue; its context cancellation walks it down the
// provider-failure path.
//
// # Thread Safety
//
// Orchestrator, Queue, and PromptBuilder are all safe for concurrent use.
// TurnEvents are delivered inline on the turn goroutine; observers must not
// block.
package agent
