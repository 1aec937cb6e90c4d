// ABOUTME: Matrix bridge core for patron-matrix
// ABOUTME: Logs in, watches rooms, and routes customer messages to the gateway

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Bridge connects Matrix rooms to patron-gateway.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	gateway *GatewayClient
	logger  *slog.Logger

	// Track rooms we're actively processing to avoid duplicate handling
	processing sync.Map

	// ctx is the parent context for message processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a new Matrix bridge. Credentials are established later
// by Login.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	gateway := NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.Token)

	return &Bridge{
		config:  cfg,
		matrix:  client,
		gateway: gateway,
		logger:  logger,
	}, nil
}

// Login authenticates with the homeserver using the configured username and
// password. The returned credentials are stored on the client so crypto setup
// sees the user ID and device ID.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: "patron-matrix",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}

	b.logger.Info("logged in to matrix",
		"user_id", resp.UserID.String(),
		"device_id", resp.DeviceID.String(),
	)
	return nil
}

// UserID returns the full Matrix user ID after login.
func (b *Bridge) UserID() string {
	return b.matrix.UserID.String()
}

// Run starts the bridge and blocks until context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.UserID(),
		"gateway", b.config.Gateway.URL,
	)

	// Store context for message processing goroutines
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	// Register event handler for messages
	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	// Start syncing
	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	// Wait for context cancellation or sync error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == b.matrix.UserID {
		return
	}

	// Get message content
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	// Only handle text messages
	if content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	msgBody := content.Body

	// Check allowed rooms
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	// Check command prefix
	if b.config.Bridge.CommandPrefix != "" {
		if !strings.HasPrefix(msgBody, b.config.Bridge.CommandPrefix) {
			return
		}
		msgBody = strings.TrimPrefix(msgBody, b.config.Bridge.CommandPrefix)
		msgBody = strings.TrimSpace(msgBody)
	}

	if msgBody == "" {
		return
	}

	b.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", truncate(msgBody, 50),
	)

	// Process message in goroutine to not block sync
	// Use bridge context for graceful shutdown support
	go b.processMessage(b.ctx, evt, msgBody)
}

// processMessage sends the message to the gateway and relays the reply back
// to the room. The event ID travels along as the dedupe key so sync replays
// never answer twice.
func (b *Bridge) processMessage(ctx context.Context, evt *event.Event, content string) {
	roomStr := evt.RoomID.String()

	// Check if we're already processing a message in this room
	if _, loaded := b.processing.LoadOrStore(roomStr, true); loaded {
		b.logger.Debug("already processing message in room, dropping", "room", roomStr)
		return
	}
	defer b.processing.Delete(roomStr)

	// Send typing indicator
	if b.config.Bridge.TypingIndicator {
		b.setTyping(evt.RoomID, true)
		defer b.setTyping(evt.RoomID, false)
	}

	// Build gateway request
	req := MessageRequest{
		Channel:    "matrix",
		SessionID:  roomStr,
		Text:       content,
		SenderName: senderName(evt.Sender),
		Metadata: map[string]string{
			"message_id":  evt.ID.String(),
			"customer_id": evt.Sender.String(),
		},
	}

	// Accumulate response text
	var responseText strings.Builder

	// Send to gateway and handle streaming response
	fullResponse, err := b.gateway.SendMessage(ctx, req, func(sse SSEEvent) {
		switch sse.Type {
		case EventStarted:
			b.logger.Debug("turn started", "room", roomStr)
		case EventText:
			var data TextEventData
			if err := parseJSON(sse.Data, &data); err == nil {
				responseText.WriteString(data.Text)
			}
		case EventToolUse:
			var data ToolUseEventData
			if err := parseJSON(sse.Data, &data); err == nil {
				b.logger.Debug("agent using tool", "room", roomStr, "tool", data.Name)
			}
		}
	})

	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			b.logger.Debug("gateway deduplicated message", "room", roomStr, "event_id", evt.ID.String())
			return
		}
		b.logger.Error("gateway request failed", "room", roomStr, "error", err)
		b.sendMessage(evt.RoomID, fmt.Sprintf("Error: %v", err))
		return
	}

	// Use full response if available, otherwise accumulated text
	response := fullResponse
	if response == "" {
		response = responseText.String()
	}

	if response == "" {
		b.logger.Warn("empty response from agent", "room", roomStr)
		return
	}

	b.logger.Info("sending response",
		"room", roomStr,
		"length", len(response),
	)

	b.sendMessage(evt.RoomID, response)
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}

	for _, allowed := range b.config.Bridge.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// setTyping sends typing indicator to room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Use a timeout context to avoid hanging during shutdown or network issues
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	_, err := b.matrix.UserTyping(ctx, roomID, typing, timeout)
	if err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMessage sends a text message to a room.
func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	// Use a longer timeout for sending messages (they can be large)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := b.matrix.SendText(ctx, roomID, text)
	if err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// senderName derives a short display name from a Matrix user ID.
// Example: @alice:matrix.org -> alice
func senderName(sender id.UserID) string {
	s := strings.TrimPrefix(sender.String(), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// parseJSON unmarshals JSON from a string into the given value.
func parseJSON(data string, v interface{}) error {
	return json.Unmarshal([]byte(data), v)
}
