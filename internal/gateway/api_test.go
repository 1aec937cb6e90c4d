// ABOUTME: HTTP API tests: ingress SSE streaming, session endpoints, the event
// ABOUTME: firehose, and bearer-token protection of every route

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/patron-gateway/internal/agent"
	"github.com/2389/patron-gateway/internal/auth"
	"github.com/2389/patron-gateway/internal/config"
	"github.com/2389/patron-gateway/internal/session"
	"github.com/2389/patron-gateway/internal/store"
)

func newAPIFixture(t *testing.T, secret string) (*busFixture, *httptest.Server) {
	t.Helper()
	f := newBusFixture(t, config.LimitsConfig{})

	mux := http.NewServeMux()
	require.NoError(t, f.gw.RegisterRoutes(mux, config.AuthConfig{JWTSecret: secret}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

// simulateTurns makes the fake runner answer every routed message the way
// the agent runtime would: a started event, the reply through SendResponse,
// then the done event.
func simulateTurns(f *busFixture) {
	f.runner.run = func(channel, sessionID string, msg session.Message) {
		f.gw.ObserveTurn(agent.TurnEvent{
			Kind: agent.EventTurnStarted, Channel: channel, SessionID: sessionID, MessageID: msg.ID,
		})
		reply := "Echo: " + msg.Content
		_ = f.gw.SendResponse(context.Background(), channel, sessionID, reply)
		f.gw.ObserveTurn(agent.TurnEvent{
			Kind: agent.EventTurnDone, Channel: channel, SessionID: sessionID, MessageID: msg.ID, Text: reply,
		})
	}
}

type sseEvent struct {
	name string
	data string
}

// readSSEUntil collects events from an SSE stream until one named terminal
// arrives or the stream ends.
func readSSEUntil(t *testing.T, sc *bufio.Scanner, terminal string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name == "" {
				continue // keepalive comment block
			}
			events = append(events, cur)
			if cur.name == terminal {
				return events
			}
			cur = sseEvent{}
		}
	}
	return events
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestMessagesEndpointStreamsTurn(t *testing.T) {
	f, srv := newAPIFixture(t, "")
	simulateTurns(f)

	resp := postJSON(t, srv.URL+"/api/v1/messages",
		`{"channel":"webchat","session_id":"web-1","text":"hi there","sender_name":"Jo"}`)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSEUntil(t, bufio.NewScanner(resp.Body), "done")
	require.NotEmpty(t, events)

	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.name)
	}
	require.Equal(t, []string{"started", "text", "done"}, names)

	var done struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))
	assert.Equal(t, "Echo: hi there", done.Text)

	// Both sides of the exchange are recorded.
	sess, ok := f.registry.Get("web-1")
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, sess.Messages[1].Role)
}

func TestMessagesEndpointStreamsToolEvents(t *testing.T) {
	f, srv := newAPIFixture(t, "")
	f.runner.run = func(channel, sessionID string, msg session.Message) {
		f.gw.ObserveTurn(agent.TurnEvent{Kind: agent.EventTurnStarted, Channel: channel, SessionID: sessionID, MessageID: msg.ID})
		f.gw.ObserveTurn(agent.TurnEvent{
			Kind: agent.EventToolUse, Channel: channel, SessionID: sessionID, MessageID: msg.ID,
			ToolCall: &session.ToolInvocation{CallID: "call-1", Name: "get_menu", Arguments: json.RawMessage(`{}`)},
		})
		f.gw.ObserveTurn(agent.TurnEvent{
			Kind: agent.EventToolResult, Channel: channel, SessionID: sessionID, MessageID: msg.ID,
			ToolResult: &session.ToolResult{CallID: "call-1", Success: true, Message: "menu follows"},
		})
		f.gw.ObserveTurn(agent.TurnEvent{Kind: agent.EventTurnDone, Channel: channel, SessionID: sessionID, MessageID: msg.ID, Text: "Here is our menu."})
	}

	resp := postJSON(t, srv.URL+"/api/v1/messages",
		`{"channel":"webchat","session_id":"web-2","text":"menu please"}`)
	defer resp.Body.Close()

	events := readSSEUntil(t, bufio.NewScanner(resp.Body), "done")
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.name)
	}
	require.Equal(t, []string{"started", "tool_use", "tool_result", "done"}, names)

	var use struct {
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &use))
	assert.Equal(t, "get_menu", use.Name)
	assert.Equal(t, "call-1", use.CallID)
}

func TestMessagesEndpointValidation(t *testing.T) {
	_, srv := newAPIFixture(t, "")

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing channel", `{"session_id":"s","text":"x"}`, "channel is required"},
		{"missing session", `{"channel":"webchat","text":"x"}`, "session_id is required"},
		{"missing text", `{"channel":"webchat","session_id":"s"}`, "text is required"},
		{"bad json", `{`, "invalid JSON body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/messages", tc.body)
			defer resp.Body.Close()
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.want, body["error"])
		})
	}
}

func TestMessagesEndpointDuplicate(t *testing.T) {
	f, srv := newAPIFixture(t, "")
	simulateTurns(f)
	body := `{"channel":"whatsapp","session_id":"wa-1","text":"hi","metadata":{"message_id":"pm-1"}}`

	first := postJSON(t, srv.URL+"/api/v1/messages", body)
	_, _ = io.Copy(io.Discard, first.Body)
	first.Body.Close()

	second := postJSON(t, srv.URL+"/api/v1/messages", body)
	defer second.Body.Close()

	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "application/json", second.Header.Get("Content-Type"))

	var status map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&status))
	assert.Equal(t, "duplicate", status["status"])
}

func TestSessionEndpoints(t *testing.T) {
	f, srv := newAPIFixture(t, "")
	_, err := f.gw.RouteMessage(context.Background(), "whatsapp", "wa-7", "table for two", map[string]string{metaSenderName: "Ravi"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list SessionListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "wa-7", list.Sessions[0].ID)
	assert.Equal(t, "whatsapp", list.Sessions[0].Channel)
	assert.Equal(t, "Ravi", list.Sessions[0].SenderName)
	assert.Equal(t, 1, list.Sessions[0].MessageCount)

	resp, err = http.Get(srv.URL + "/api/v1/sessions/wa-7/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, "wa-7", sess.ID)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "table for two", sess.Messages[0].Content)

	resp, err = http.Get(srv.URL + "/api/v1/sessions/nope/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/sessions/wa-7/notathing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsEndpointSnapshotThenLive(t *testing.T) {
	f, srv := newAPIFixture(t, "")
	_, err := f.gw.RouteMessage(context.Background(), "whatsapp", "wa-1", "hello", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)

	// A fresh subscriber is greeted with the sessions snapshot.
	events := readSSEUntil(t, sc, "sessions")
	require.Len(t, events, 1)
	var snap Event
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &snap))
	assert.Equal(t, EventSessions, snap.Type)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "wa-1", snap.Sessions[0].ID)

	// Then live events as they happen.
	_, err = f.gw.RouteMessage(context.Background(), "webchat", "web-9", "ping", nil)
	require.NoError(t, err)

	events = readSSEUntil(t, sc, "incoming")
	require.NotEmpty(t, events)
	var live Event
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &live))
	assert.Equal(t, "web-9", live.SessionID)
	assert.Equal(t, "ping", live.Message)
}

func TestAdminMessageEndpoint(t *testing.T) {
	f, srv := newAPIFixture(t, "")

	resp := postJSON(t, srv.URL+"/api/v1/admin/message", `{"session_id":"walkin-1","text":"note this"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["message_id"])
	assert.Equal(t, "walkin-1", body["session_id"])

	turns := f.runner.all()
	require.Len(t, turns, 1)
	assert.Equal(t, adminChannel, turns[0].channel)
}

func TestAdminMessageEndpointValidation(t *testing.T) {
	_, srv := newAPIFixture(t, "")

	resp := postJSON(t, srv.URL+"/api/v1/admin/message", `{"session_id":"","text":""}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminReloadEndpoint(t *testing.T) {
	f, srv := newAPIFixture(t, "")

	resp := postJSON(t, srv.URL+"/api/v1/admin/reload", ``)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.runner.reloadCount())
}

func TestAPIRequiresBearerTokenWhenConfigured(t *testing.T) {
	secret := strings.Repeat("s", 32)
	f, srv := newAPIFixture(t, secret)

	// No token: rejected.
	resp, err := http.Get(srv.URL + "/api/v1/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/admin/message", `{"session_id":"s-1","text":"hi"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A minted token opens the same routes, and the operator subject is
	// attributed on the audit trail.
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	token, err := verifier.Generate("asha", time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/admin/message",
		strings.NewReader(`{"session_id":"s-1","text":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	entries := f.waitForAudit(t, store.AuditAdminInject, 1)
	assert.Equal(t, "asha", entries[0].Actor)
}

func TestWeakJWTSecretFailsRouteRegistration(t *testing.T) {
	f := newBusFixture(t, config.LimitsConfig{})
	err := f.gw.RegisterRoutes(http.NewServeMux(), config.AuthConfig{JWTSecret: "short"})
	require.ErrorIs(t, err, auth.ErrWeakSecret)
}
