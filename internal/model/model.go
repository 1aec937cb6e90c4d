// ABOUTME: Provider-neutral request/response types and the Client interface
// ABOUTME: implemented by the Anthropic and OpenAI chat backends

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/patron-gateway/internal/session"
)

// ErrProvider wraps every transport or API failure returned by a backend so
// the agent loop can match on it regardless of which provider broke.
var ErrProvider = errors.New("model provider error")

const defaultMaxTokens = 1024

// ToolDefinition advertises one callable tool to the model. InputSchema is a
// JSON Schema document describing the arguments object.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is one tool invocation requested by the model. Arguments is the
// raw JSON arguments object, never nil (an absent input becomes "{}").
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Usage reports token consumption for one completion when the provider
// supplies it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is one completion call. Messages is the working transcript in
// oldest-first order; tool-role messages carry results for the invocations of
// the preceding assistant message.
type Request struct {
	System      string
	Messages    []session.Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Response is the model's reply. Text and ToolCalls may both be populated:
// the model can narrate while requesting tools.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Client is a chat-completion backend. Complete blocks until the provider
// answers or ctx expires; failures wrap ErrProvider.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// New builds a backend for the named provider. The provider string matches
// the config file values.
func New(provider, apiKey, modelID string, maxTokens int) (Client, error) {
	switch provider {
	case "anthropic":
		return NewAnthropic(apiKey, modelID, maxTokens), nil
	case "openai":
		return NewOpenAI(apiKey, modelID, maxTokens), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

// resultContent flattens a tool result into the observation text fed back to
// the model. The structured payload rides along so the model can quote ids
// and totals verbatim.
func resultContent(res session.ToolResult) string {
	switch {
	case res.Message != "" && len(res.Data) > 0:
		return res.Message + "\n" + string(res.Data)
	case len(res.Data) > 0:
		return string(res.Data)
	default:
		return res.Message
	}
}
