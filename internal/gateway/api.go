// ABOUTME: HTTP API for channel ingress, session inspection, and the observer event stream
// ABOUTME: POST /api/v1/messages answers with the turn's lifecycle as Server-Sent Events

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/patron-gateway/internal/agent"
	"github.com/2389/patron-gateway/internal/auth"
	"github.com/2389/patron-gateway/internal/config"
)

// heartbeatInterval paces SSE keepalive comments on the event firehose so
// idle proxies do not reap the connection.
const heartbeatInterval = 15 * time.Second

// RouteMessageRequest is the JSON request body for POST /api/v1/messages.
type RouteMessageRequest struct {
	Channel    string            `json:"channel"`
	SessionID  string            `json:"session_id"`
	Text       string            `json:"text"`
	SenderName string            `json:"sender_name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AdminMessageRequest is the JSON request body for POST /api/v1/admin/message.
type AdminMessageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// SessionListResponse is the JSON response for GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// RegisterRoutes mounts the HTTP API on mux. With a JWT secret configured
// every API route requires a bearer token; without one the API is open and a
// warning is logged.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux, authCfg config.AuthConfig) error {
	if authCfg.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(authCfg.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating API token verifier: %w", err)
		}
		mw := auth.Middleware(verifier)
		mux.Handle("/api/v1/messages", mw(http.HandlerFunc(g.handleMessages)))
		mux.Handle("/api/v1/sessions", mw(http.HandlerFunc(g.handleSessions)))
		mux.Handle("/api/v1/sessions/", mw(http.HandlerFunc(g.handleSessionMessages)))
		mux.Handle("/api/v1/events", mw(http.HandlerFunc(g.handleEvents)))
		mux.Handle("/api/v1/admin/message", mw(http.HandlerFunc(g.handleAdminMessage)))
		mux.Handle("/api/v1/admin/reload", mw(http.HandlerFunc(g.handleAdminReload)))
		g.logger.Info("API auth middleware enabled")
		return nil
	}

	mux.HandleFunc("/api/v1/messages", g.handleMessages)
	mux.HandleFunc("/api/v1/sessions", g.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", g.handleSessionMessages)
	mux.HandleFunc("/api/v1/events", g.handleEvents)
	mux.HandleFunc("/api/v1/admin/message", g.handleAdminMessage)
	mux.HandleFunc("/api/v1/admin/reload", g.handleAdminReload)
	g.logger.Warn("API auth disabled, set auth.jwt_secret to require bearer tokens")
	return nil
}

// handleMessages handles POST /api/v1/messages. It routes the message onto
// the bus and answers with the resulting turn's lifecycle as SSE:
// started, tool_use, tool_result, text, then done or error.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseRouteRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if req.SenderName != "" {
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata[metaSenderName] = req.SenderName
	}

	// Subscribe before routing so the turn's first event cannot be missed.
	events, subID := g.hub.SubscribeSession(r.Context(), req.SessionID)
	defer g.hub.Unsubscribe(req.SessionID, subID)

	msgID, err := g.RouteMessage(r.Context(), req.Channel, req.SessionID, req.Text, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateMessage):
			g.sendJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		case errors.Is(err, ErrRateLimited):
			g.sendJSONError(w, http.StatusTooManyRequests, "rate limited")
		case errors.Is(err, agent.ErrQueueFull), errors.Is(err, agent.ErrQueueClosed):
			g.sendJSONError(w, http.StatusServiceUnavailable, "session busy")
		default:
			g.logger.Error("routing message failed", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.streamTurn(r.Context(), w, flusher, events, msgID)
}

// streamTurn relays one turn's events as SSE until the turn that msgID
// started finishes. Events of queued-ahead turns for the same session are
// skipped, and the incoming echo of the routed message itself is not
// replayed.
func (g *Gateway) streamTurn(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan Event, msgID string) {
	started := false
	for {
		select {
		case <-ctx.Done():
			g.writeSSEEvent(w, flusher, "error", map[string]string{"error": "request cancelled"})
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if !started {
				if ev.Type == EventTurnStarted && ev.MessageID == msgID {
					started = true
					g.writeSSEEvent(w, flusher, "started", map[string]string{
						"message_id": msgID,
						"session_id": ev.SessionID,
					})
				}
				continue
			}

			switch ev.Type {
			case EventToolUse:
				g.writeSSEEvent(w, flusher, "tool_use", map[string]string{
					"call_id":   ev.CallID,
					"name":      ev.Tool,
					"arguments": ev.Detail,
				})
			case EventToolResult:
				g.writeSSEEvent(w, flusher, "tool_result", map[string]any{
					"call_id": ev.CallID,
					"failed":  ev.Failed,
					"message": ev.Detail,
				})
			case EventOutgoing:
				g.writeSSEEvent(w, flusher, "text", map[string]string{"text": ev.Response})
			case EventTurnDone:
				if ev.MessageID != msgID {
					continue
				}
				g.writeSSEEvent(w, flusher, "done", map[string]string{"text": ev.Response})
				return
			case EventTurnError:
				if ev.MessageID != msgID {
					continue
				}
				g.writeSSEEvent(w, flusher, "error", map[string]string{"error": ev.Detail})
				return
			}
		}
	}
}

// handleSessions handles GET /api/v1/sessions.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, SessionListResponse{Sessions: g.Sessions()})
}

// handleSessionMessages handles GET /api/v1/sessions/{id}/messages.
func (g *Gateway) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "messages" {
		http.NotFound(w, r)
		return
	}

	sess, ok := g.SessionMessages(parts[0])
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown session")
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

// handleEvents handles GET /api/v1/events: the observer firehose as SSE.
// A fresh subscriber first receives a sessions snapshot, then live events,
// with keepalive comments in between.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, subID := g.hub.Subscribe(r.Context())
	defer g.hub.Unsubscribe(topicAll, subID)

	g.writeSSEEvent(w, flusher, string(EventSessions), g.snapshotEvent())

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, flusher, string(ev.Type), ev)
		}
	}
}

// handleAdminMessage handles POST /api/v1/admin/message.
func (g *Gateway) handleAdminMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req AdminMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" || req.Text == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session_id and text are required")
		return
	}

	actor := "operator"
	if id := auth.IdentityFrom(r.Context()); id != nil {
		actor = id.Subject
	}

	msgID, err := g.InjectAdminMessage(r.Context(), req.SessionID, req.Text, actor)
	if err != nil {
		if errors.Is(err, agent.ErrQueueFull) || errors.Is(err, agent.ErrQueueClosed) {
			g.sendJSONError(w, http.StatusServiceUnavailable, "session busy")
			return
		}
		g.logger.Error("admin inject failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusAccepted, map[string]string{
		"message_id": msgID,
		"session_id": req.SessionID,
	})
}

// handleAdminReload handles POST /api/v1/admin/reload.
func (g *Gateway) handleAdminReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	actor := "operator"
	if id := auth.IdentityFrom(r.Context()); id != nil {
		actor = id.Subject
	}

	if err := g.Reload(r.Context(), actor); err != nil {
		g.logger.Error("reload failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// writeSSEEvent writes one SSE event with a JSON payload and flushes it.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("marshaling SSE event failed", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// sendJSON writes a JSON response body with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// parseRouteRequest parses and validates a RouteMessageRequest. Channel,
// session id, and text are required.
func parseRouteRequest(r io.Reader) (*RouteMessageRequest, error) {
	var req RouteMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Channel == "" {
		return nil, errors.New("channel is required")
	}
	if req.SessionID == "" {
		return nil, errors.New("session_id is required")
	}
	if req.Text == "" {
		return nil, errors.New("text is required")
	}
	return &req, nil
}
