// ABOUTME: Gateway API client for the patron-matrix bridge
// ABOUTME: Posts messages and streams the turn's SSE lifecycle back

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventType represents SSE event types from the gateway.
type EventType string

const (
	EventStarted    EventType = "started"
	EventText       EventType = "text"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// ErrDuplicate reports that the gateway already handled this message ID.
// Sync replays after a reconnect land here and must not produce a second
// reply in the room.
var ErrDuplicate = errors.New("message already handled")

// SSEEvent represents a parsed Server-Sent Event.
type SSEEvent struct {
	Type EventType
	Data string
}

// TextEventData is the JSON structure for text and done events.
type TextEventData struct {
	Text string `json:"text"`
}

// ToolUseEventData is the JSON structure for tool_use events.
type ToolUseEventData struct {
	Name string `json:"name"`
}

// ErrorEventData is the JSON structure for error events.
type ErrorEventData struct {
	Error string `json:"error"`
}

// MessageRequest is the request body for POST /api/v1/messages.
type MessageRequest struct {
	Channel    string            `json:"channel"`
	SessionID  string            `json:"session_id"`
	Text       string            `json:"text"`
	SenderName string            `json:"sender_name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// GatewayClient communicates with the patron-gateway HTTP API.
type GatewayClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGatewayClient creates a new gateway client. An empty token leaves the
// Authorization header off, for gateways running without API auth.
func NewGatewayClient(baseURL, token string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// SendMessage sends a message to the gateway and streams SSE responses via
// callback. The callback is called for each SSE event received. Returns the
// full response text on success, ErrDuplicate if the gateway deduplicated the
// message, or an error.
func (g *GatewayClient) SendMessage(ctx context.Context, req MessageRequest, onEvent func(SSEEvent)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// Handle non-200 responses
	if resp.StatusCode != http.StatusOK {
		return "", g.handleErrorResponse(resp)
	}

	// A deduplicated message answers with plain JSON instead of a stream.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return "", g.handleJSONResponse(resp.Body)
	}

	// Parse SSE stream
	return g.parseSSEStream(ctx, resp.Body, onEvent)
}

// handleJSONResponse interprets a 200 JSON body on the message endpoint.
func (g *GatewayClient) handleJSONResponse(body io.Reader) error {
	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(body).Decode(&status); err != nil {
		return fmt.Errorf("decoding gateway response: %w", err)
	}
	if status.Status == "duplicate" {
		return ErrDuplicate
	}
	return fmt.Errorf("unexpected gateway response status %q", status.Status)
}

// handleErrorResponse extracts error message from non-200 responses.
func (g *GatewayClient) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	// Try to parse as JSON error
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp ErrorEventData
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("gateway error (%d): %s", resp.StatusCode, errResp.Error)
		}
	}

	return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
}

// parseSSEStream reads SSE events from the response body until the turn's
// done or error event.
func (g *GatewayClient) parseSSEStream(ctx context.Context, body io.Reader, onEvent func(SSEEvent)) (string, error) {
	scanner := bufio.NewScanner(body)

	var eventType EventType
	var dataLines []string
	var fullResponse string

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return fullResponse, ctx.Err()
		default:
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				event := SSEEvent{
					Type: eventType,
					Data: strings.Join(dataLines, "\n"),
				}

				// Extract full response from done event
				if eventType == EventDone {
					var data TextEventData
					if json.Unmarshal([]byte(event.Data), &data) == nil {
						fullResponse = data.Text
					}
				}

				// The error event ends the turn
				if eventType == EventError {
					var data ErrorEventData
					if json.Unmarshal([]byte(event.Data), &data) == nil {
						return "", fmt.Errorf("agent error: %s", data.Error)
					}
				}

				if onEvent != nil {
					onEvent(event)
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		// Parse event type
		if strings.HasPrefix(line, "event:") {
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			continue
		}

		// Parse data
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return fullResponse, fmt.Errorf("reading SSE stream: %w", err)
	}

	return fullResponse, nil
}
