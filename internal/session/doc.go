// Package session owns conversation identity and message ordering.
//
// # Overview
//
// The Registry is the single in-memory home for active conversations. Each
// session is an append-only, time-ordered message log with a retention cap;
// everything else in the system reads snapshots from it and never mutates
// session state directly.
//
// # Ordering guarantees
//
// Appends within a session are strictly chronological: timestamps are clamped
// to be non-decreasing and messages are never reordered or edited after the
// fact. The registry does not serialize whole turns; that is the agent
// runtime's per-session queue.
//
// # Lifecycle
//
// Sessions are created lazily on first inbound message and live for the
// process lifetime. The registry never deletes a session; it only trims the
// oldest messages of a session past the retention cap.
package session
