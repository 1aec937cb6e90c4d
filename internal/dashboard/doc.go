// Package dashboard provides the browser-based operations console.
//
// # Overview
//
// The dashboard gives the business operator a live view of the gateway:
//
//   - Live feed: every incoming message, reply, and tool call as it happens
//   - Sessions: all conversations with per-session transcripts
//   - Inject: send a message into any conversation as the operator
//   - Audit: the queryable trail of logins, injections, and escalations
//   - Reload: re-read the business profile and rebuild the system prompt
//
// # Authentication
//
// A single shared operator password is checked against the bcrypt hash in
// auth.admin_password_hash. On success a JWT session cookie is issued for
// the name given at login, and that name is attributed on every audited
// action. Generate the hash with:
//
//	patron-gateway hash-password
//
// # CSRF Protection
//
// All form submissions require CSRF tokens:
//
//	<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
//
// Tokens are double-submit: cookie plus form field, compared on every POST.
//
// # Live Feed
//
// GET /admin/stream relays the gateway's observer firehose as Server-Sent
// Events; the home page renders it with a small vanilla EventSource script.
// Assistant replies in transcripts are markdown, rendered with goldmark.
//
// # Usage
//
// Create and mount the dashboard before the server starts:
//
//	dash, err := dashboard.New(bus, st, profiles, cfg.Auth)
//	dash.RegisterRoutes(srv.Mux())
//
// Routes live under /admin/ and templates are embedded with go:embed for
// single-binary deployment.
package dashboard
