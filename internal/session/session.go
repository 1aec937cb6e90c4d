// ABOUTME: Message and session types shared by the gateway and the agent runtime
// ABOUTME: A session is the in-memory identity and ordered message log of one conversation

package session

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolInvocation is one action the model asked for.
type ToolInvocation struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one ToolInvocation. Message is the
// human-readable summary fed back to the model as the observation; Data is
// the structured payload, present on success.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message"`
}

// Message is one utterance in a session. Content may be empty only for an
// assistant turn that is pure tool invocation. A tool-role message carries
// the results for the invocations of the preceding assistant message.
type Message struct {
	ID          string           `json:"id"`
	Role        Role             `json:"role"`
	Content     string           `json:"content"`
	Timestamp   time.Time        `json:"timestamp"`
	ToolCalls   []ToolInvocation `json:"tool_calls,omitempty"`
	ToolResults []ToolResult     `json:"tool_results,omitempty"`
}

// Session is a point-in-time snapshot of one conversation. Snapshots are
// copies: mutating one never affects the registry.
type Session struct {
	ID           string            `json:"id"`
	Channel      string            `json:"channel"`
	Messages     []Message         `json:"messages"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
	Metadata     map[string]string `json:"metadata"`
}

// hasModelContent reports whether the message belongs in model-facing
// history. Tool-result bookkeeping and tool-only assistant turns do not.
func hasModelContent(m Message) bool {
	if m.Role == RoleTool {
		return false
	}
	if m.Role == RoleAssistant && m.Content == "" && len(m.ToolCalls) > 0 {
		return false
	}
	return true
}
