// ABOUTME: Anthropic Messages API backend, translating session transcripts and
// ABOUTME: tool catalogues into SDK params and tool_use blocks back into ToolCalls

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/2389/patron-gateway/internal/session"
)

// MessagesClient is the slice of the Anthropic SDK the backend depends on.
// Production wires *sdk.MessageService; tests substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	messages  MessagesClient
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewAnthropic builds a backend using the real SDK client.
func NewAnthropic(apiKey, model string, maxTokens int) *Anthropic {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicWithClient(&client.Messages, model, maxTokens)
}

// NewAnthropicWithClient builds a backend around an explicit messages client.
func NewAnthropicWithClient(messages MessagesClient, model string, maxTokens int) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{
		messages:  messages,
		model:     model,
		maxTokens: maxTokens,
		logger:    slog.Default().With("component", "model.anthropic"),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Complete sends one completion request and translates the reply.
func (a *Anthropic) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := a.prepareParams(req)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", ErrProvider, err)
	}
	msg, err := a.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", ErrProvider, err)
	}
	resp := translateAnthropic(msg)
	a.logger.Debug("completion",
		"model", a.model,
		"stop_reason", resp.StopReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func (a *Anthropic) prepareParams(req *Request) (sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	tools, err := encodeAnthropicTools(req.Tools)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// encodeAnthropicMessages maps the transcript onto SDK params. Tool results
// ride in user messages, which is how the Messages API expects them.
func encodeAnthropicMessages(msgs []session.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleUser:
			if msg.Content == "" {
				continue
			}
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		case session.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, inv := range msg.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(inv.CallID, inv.Arguments, inv.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case session.RoleTool:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.ToolResults))
			for _, res := range msg.ToolResults {
				blocks = append(blocks, sdk.NewToolResultBlock(res.CallID, resultContent(res), !res.Success))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func encodeAnthropicTools(defs []ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := anthropicInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q schema: %v", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func anthropicInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateAnthropic(msg *sdk.Message) *Response {
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if resp.Text != "" {
				resp.Text += "\n"
			}
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: rawToolInput(block.Input),
			})
		}
	}
	resp.Usage = Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return resp
}

// rawToolInput normalizes the SDK's opaque tool input into raw JSON. The
// model can legally send an empty input for zero-argument tools.
func rawToolInput(input any) json.RawMessage {
	switch v := input.(type) {
	case nil:
		return json.RawMessage(`{}`)
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`)
		}
		return v
	case []byte:
		if len(v) == 0 {
			return json.RawMessage(`{}`)
		}
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil || string(data) == "null" {
			return json.RawMessage(`{}`)
		}
		return data
	}
}
