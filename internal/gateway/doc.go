// Package gateway is the protocol-neutral bus between channel adapters, the
// agent runtime, and observers.
//
// # Message Flow
//
// A channel adapter (or the HTTP ingress) hands a customer message to
// RouteMessage. The bus drops duplicates by platform message id, applies the
// per-sender rate limit, records the user message in the session registry,
// announces an incoming event, and enqueues a turn on the runtime's
// per-session queue. RouteMessage returns once the turn is queued; replies
// arrive later through SendResponse.
//
// SendResponse is the runtime's way back out: it records the assistant
// message, announces an outgoing event, and forwards the text to the
// adapter registered for the channel. A channel without an adapter is a
// silent no-op delivery; the reply stays recorded either way. Delivery
// failures are logged and audited, never retried.
//
// # Channels
//
// RegisterChannel binds an adapter by name, last write wins. The reserved
// admin channel never has an adapter: operator-injected messages run full
// turns whose replies are recorded only, unless the target session already
// lives on a channel with a real adapter.
//
// # Observers
//
// Broadcast fans events out through an in-memory hub. Observers subscribe to
// the firehose or to a single session; a slow observer loses events instead
// of stalling the bus, and observers joining or leaving never affects
// routing state. Event types: incoming, outgoing, turn_started, tool_use,
// tool_result, turn_done, turn_error, and the sessions snapshot handed to
// fresh firehose subscribers.
//
// # HTTP Surface
//
// RegisterRoutes mounts the JSON API: message ingress answered as an SSE
// stream of the resulting turn, session listing and transcripts, the event
// firehose, and the operator endpoints for message injection and profile
// reload. With auth.jwt_secret configured every API route requires a bearer
// token. Server wraps the mux in an http.Server bound to a TCP address or,
// with Tailscale enabled, to a tsnet node with optional HTTPS and Funnel.
//
// # Audit
//
// Routing, replies, tool calls, escalations, operator actions, and rate
// limit rejections append to the store's audit log through a buffered
// background writer, so the message path never waits on the database.
package gateway
