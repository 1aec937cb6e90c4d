// ABOUTME: Tool registration table and dispatch, the contract between the
// ABOUTME: agent loop and the business's side-effecting operations

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/2389/patron-gateway/internal/session"
)

// ErrUnknownTool indicates the requested tool name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidArguments indicates the arguments did not satisfy the tool's schema.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// Definition describes one callable tool. Name, Description and InputSchema
// are advertised verbatim to the model, and the same schema validates every
// incoming argument payload.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Result is what a handler returns on success. Message is the observation
// text fed back to the model; Data is the structured payload.
type Result struct {
	Message string
	Data    json.RawMessage
}

// Handler executes one tool call on behalf of a session.
type Handler func(ctx context.Context, sessionID string, args json.RawMessage) (*Result, error)

type registeredTool struct {
	def     Definition
	handler Handler
	schema  *jsonschema.Schema // nil when the definition carries no schema
}

// Dispatcher maps tool names to handlers and validates arguments against each
// tool's schema before executing.
type Dispatcher struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	names  []string // registration order, for a stable catalogue
	logger *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		tools:  make(map[string]*registeredTool),
		logger: slog.Default().With("component", "tools"),
	}
}

// Register adds a tool. The schema is compiled once here so a broken schema
// fails registration instead of failing every call.
func (d *Dispatcher) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", def.Name)
	}
	var schema *jsonschema.Schema
	if len(def.InputSchema) > 0 {
		compiled, err := compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return err
		}
		schema = compiled
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[def.Name]; exists {
		return fmt.Errorf("%w: %q already registered", ErrToolCollision, def.Name)
	}
	d.tools[def.Name] = &registeredTool{def: def, handler: handler, schema: schema}
	d.names = append(d.names, def.Name)
	d.logger.Debug("tool registered", "tool", def.Name)
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool %q: schema is not valid JSON: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("tool %q: add schema resource: %w", name, err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}
	return schema, nil
}

// Catalogue returns the registered definitions in registration order. This
// is the contract handed to the model: it lists exactly the names Execute
// accepts.
func (d *Dispatcher) Catalogue() []Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Definition, 0, len(d.names))
	for _, name := range d.names {
		out = append(out, d.tools[name].def)
	}
	return out
}

// Len reports the number of registered tools.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tools)
}

// Execute runs one tool invocation. The only error it returns is
// ErrUnknownTool; malformed arguments and handler failures come back as a
// ToolResult with Success=false so the model can correct itself within the
// loop bound.
func (d *Dispatcher) Execute(ctx context.Context, sessionID string, call session.ToolInvocation) (session.ToolResult, error) {
	d.mu.RLock()
	reg, ok := d.tools[call.Name]
	d.mu.RUnlock()
	if !ok {
		return session.ToolResult{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := validateArguments(reg.schema, args); err != nil {
		d.logger.Warn("tool arguments rejected",
			"tool", call.Name,
			"session_id", sessionID,
			"error", err)
		return session.ToolResult{
			CallID:  call.CallID,
			Success: false,
			Message: err.Error(),
		}, nil
	}

	res, err := reg.handler(ctx, sessionID, args)
	if err != nil {
		d.logger.Error("tool execution failed",
			"tool", call.Name,
			"session_id", sessionID,
			"error", err)
		return session.ToolResult{
			CallID:  call.CallID,
			Success: false,
			Message: fmt.Sprintf("%s failed: %v", call.Name, err),
		}, nil
	}

	out := session.ToolResult{CallID: call.CallID, Success: true}
	if res != nil {
		out.Message = res.Message
		out.Data = res.Data
	}
	d.logger.Debug("tool executed", "tool", call.Name, "session_id", sessionID)
	return out, nil
}

func validateArguments(schema *jsonschema.Schema, args json.RawMessage) error {
	var payload any
	if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("%w: arguments are not valid JSON: %v", ErrInvalidArguments, err)
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
