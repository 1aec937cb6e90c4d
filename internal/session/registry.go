// ABOUTME: In-memory session registry: getOrCreate, append, recent history, snapshots
// ABOUTME: Owns message ordering and the per-session retention cap

package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultRetention is the per-session message cap. Once exceeded, the oldest
// messages are dropped; bounded memory, not an error.
const DefaultRetention = 50

// ErrUnknownSession is returned when appending to a session that was never
// created. Callers must always route through GetOrCreate first, so hitting
// this is a programming error, not a runtime condition.
var ErrUnknownSession = errors.New("unknown session")

// state is the live, registry-owned record for one session. All access is
// guarded by the registry mutex.
type state struct {
	id           string
	channel      string
	messages     []Message
	createdAt    time.Time
	lastActiveAt time.Time
	metadata     map[string]string
}

// Registry owns the set of active sessions. It is created at process start,
// injected into the components that need it, and safe for concurrent use.
// Sessions live for the process lifetime; durable persistence belongs to
// the stores, not here.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*state
	retention int
	logger    *slog.Logger
}

// NewRegistry creates a registry with the default retention cap.
func NewRegistry(logger *slog.Logger) *Registry {
	return NewRegistryWithRetention(logger, DefaultRetention)
}

// NewRegistryWithRetention creates a registry with a custom retention cap.
func NewRegistryWithRetention(logger *slog.Logger, retention int) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		sessions:  make(map[string]*state),
		retention: retention,
		logger:    logger,
	}
}

// GetOrCreate returns a snapshot of the session with the given id, creating
// it first if needed. Idempotent: an existing session keeps its identity and
// channel; metadata merges non-destructively (existing keys win).
func (r *Registry) GetOrCreate(id, channel string, metadata map[string]string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		now := time.Now()
		s = &state{
			id:           id,
			channel:      channel,
			createdAt:    now,
			lastActiveAt: now,
			metadata:     make(map[string]string, len(metadata)),
		}
		for k, v := range metadata {
			s.metadata[k] = v
		}
		r.sessions[id] = s
		r.logger.Info("session created", "session_id", id, "channel", channel)
		return snapshot(s)
	}

	for k, v := range metadata {
		if _, exists := s.metadata[k]; !exists {
			s.metadata[k] = v
		}
	}
	return snapshot(s)
}

// Get returns a snapshot of an existing session.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return snapshot(s), true
}

// Append adds a message to the session log. The timestamp is filled in when
// zero and clamped so it never precedes the previous message, preserving
// chronological append order even if the wall clock steps backwards. Returns
// ErrUnknownSession if the session was never created.
func (r *Registry) Append(id string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		r.logger.Error("append to unknown session", "session_id", id, "role", msg.Role)
		return ErrUnknownSession
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if n := len(s.messages); n > 0 && msg.Timestamp.Before(s.messages[n-1].Timestamp) {
		msg.Timestamp = s.messages[n-1].Timestamp
	}

	s.messages = append(s.messages, msg)
	if len(s.messages) > r.retention {
		dropped := len(s.messages) - r.retention
		s.messages = append(s.messages[:0:0], s.messages[dropped:]...)
		r.logger.Debug("retention cap reached, dropped oldest messages",
			"session_id", id, "dropped", dropped)
	}
	s.lastActiveAt = msg.Timestamp

	return nil
}

// RecentHistory returns at most limit of the session's most recent
// model-facing messages, oldest first. Tool-result bookkeeping and tool-only
// assistant turns are excluded; they are replayed to the model within a turn,
// not across turns. A missing session yields an empty slice.
func (r *Registry) RecentHistory(id string, limit int) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || limit <= 0 {
		return nil
	}

	var filtered []Message
	for _, m := range s.messages {
		if hasModelContent(m) {
			filtered = append(filtered, m)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	out := make([]Message, len(filtered))
	copy(out, filtered)
	return out
}

// All returns snapshots of every session, most recently active first.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// snapshot copies a state into an immutable Session view. Caller holds r.mu.
func snapshot(s *state) Session {
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return Session{
		ID:           s.id,
		Channel:      s.channel,
		Messages:     msgs,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
		Metadata:     meta,
	}
}
