// ABOUTME: OpenAI chat-completions backend, the standby provider behind the
// ABOUTME: same Client interface as the Anthropic backend

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/2389/patron-gateway/internal/session"
)

// ChatClient is the slice of the OpenAI SDK the backend depends on.
// Production wires *openai.ChatCompletionService; tests substitute a stub.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI talks to the OpenAI chat completions API.
type OpenAI struct {
	chat      ChatClient
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAI builds a backend using the real SDK client.
func NewOpenAI(apiKey, model string, maxTokens int) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIWithClient(&client.Chat.Completions, model, maxTokens)
}

// NewOpenAIWithClient builds a backend around an explicit completions client.
func NewOpenAIWithClient(chat ChatClient, model string, maxTokens int) *OpenAI {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{
		chat:      chat,
		model:     model,
		maxTokens: maxTokens,
		logger:    slog.Default().With("component", "model.openai"),
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Complete sends one completion request and translates the reply.
func (o *OpenAI) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := o.prepareParams(req)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrProvider, err)
	}
	completion, err := o.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrProvider, err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai: response carried no choices", ErrProvider)
	}
	resp := translateOpenAI(completion)
	o.logger.Debug("completion",
		"model", o.model,
		"stop_reason", resp.StopReason,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

func (o *OpenAI) prepareParams(req *Request) (openai.ChatCompletionNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            encodeOpenAIMessages(req.System, req.Messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	tools, err := encodeOpenAITools(req.Tools)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// encodeOpenAIMessages maps the transcript onto chat params. The system
// prompt leads; tool results become role:"tool" messages keyed by call id.
func encodeOpenAIMessages(system string, msgs []session.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range msgs {
		switch msg.Role {
		case session.RoleUser:
			if msg.Content == "" {
				continue
			}
			out = append(out, openai.UserMessage(msg.Content))
		case session.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				if msg.Content == "" {
					continue
				}
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(msg.ToolCalls)),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for _, inv := range msg.ToolCalls {
				args := string(inv.Arguments)
				if args == "" {
					args = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: inv.CallID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      inv.Name,
							Arguments: args,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case session.RoleTool:
			for _, res := range msg.ToolResults {
				out = append(out, openai.ToolMessage(resultContent(res), res.CallID))
			}
		}
	}
	return out
}

func encodeOpenAITools(defs []ToolDefinition) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		fn := openai.FunctionDefinitionParam{Name: def.Name}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		if len(def.InputSchema) > 0 {
			var m map[string]any
			if err := json.Unmarshal(def.InputSchema, &m); err != nil {
				return nil, fmt.Errorf("tool %q schema: %v", def.Name, err)
			}
			fn.Parameters = openai.FunctionParameters(m)
		}
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{Function: fn},
		})
	}
	return out, nil
}

func translateOpenAI(completion *openai.ChatCompletion) *Response {
	choice := completion.Choices[0]
	resp := &Response{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	resp.Usage = Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}
	return resp
}
