// ABOUTME: Tests for tool registration, schema validation, and dispatch
// ABOUTME: covering the failed-result contract for bad arguments and handlers

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/2389/patron-gateway/internal/session"
)

func orderDefinition() Definition {
	return Definition{
		Name:        "take_order",
		Description: "Record a food order",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"items": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string"},
							"quantity": {"type": "integer", "minimum": 1}
						},
						"required": ["name", "quantity"]
					}
				},
				"fulfilment": {"type": "string", "enum": ["pickup", "delivery"]}
			},
			"required": ["items"]
		}`),
	}
}

func okHandler(msg string) Handler {
	return func(_ context.Context, _ string, _ json.RawMessage) (*Result, error) {
		return &Result{Message: msg}, nil
	}
}

func TestDispatcherRegister(t *testing.T) {
	t.Run("registers successfully", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Register(orderDefinition(), okHandler("ok")); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if d.Len() != 1 {
			t.Errorf("Len = %d, want 1", d.Len())
		}
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Register(orderDefinition(), okHandler("first")); err != nil {
			t.Fatalf("Register: %v", err)
		}
		err := d.Register(orderDefinition(), okHandler("second"))
		if !errors.Is(err, ErrToolCollision) {
			t.Errorf("error = %v, want ErrToolCollision", err)
		}
	})

	t.Run("rejects empty name", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Register(Definition{}, okHandler("ok")); err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("rejects nil handler", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Register(orderDefinition(), nil); err == nil {
			t.Error("expected error for nil handler")
		}
	})

	t.Run("rejects malformed schema at registration", func(t *testing.T) {
		d := NewDispatcher()
		def := Definition{Name: "broken", Description: "x", InputSchema: json.RawMessage(`{"type":`)}
		if err := d.Register(def, okHandler("ok")); err == nil {
			t.Error("expected error for malformed schema")
		}
		if d.Len() != 0 {
			t.Errorf("Len = %d, want 0 after failed registration", d.Len())
		}
	})
}

func TestDispatcherCatalogue(t *testing.T) {
	d := NewDispatcher()
	names := []string{"get_menu", "take_order", "create_booking"}
	for _, name := range names {
		def := Definition{Name: name, Description: "desc " + name, InputSchema: json.RawMessage(`{"type":"object"}`)}
		if err := d.Register(def, okHandler(name)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	cat := d.Catalogue()
	if len(cat) != 3 {
		t.Fatalf("Catalogue = %d entries, want 3", len(cat))
	}
	for i, name := range names {
		if cat[i].Name != name {
			t.Errorf("Catalogue[%d] = %q, want %q (registration order)", i, cat[i].Name, name)
		}
	}
	if cat[1].Description != "desc take_order" {
		t.Errorf("Description = %q", cat[1].Description)
	}
}

func TestDispatcherExecute(t *testing.T) {
	newOrderDispatcher := func(t *testing.T, h Handler) *Dispatcher {
		t.Helper()
		d := NewDispatcher()
		if err := d.Register(orderDefinition(), h); err != nil {
			t.Fatalf("Register: %v", err)
		}
		return d
	}

	t.Run("valid arguments reach the handler", func(t *testing.T) {
		var gotSession string
		var gotArgs json.RawMessage
		d := newOrderDispatcher(t, func(_ context.Context, sessionID string, args json.RawMessage) (*Result, error) {
			gotSession = sessionID
			gotArgs = args
			return &Result{Message: "Order recorded", Data: json.RawMessage(`{"id":"ORD-1"}`)}, nil
		})

		call := session.ToolInvocation{
			CallID:    "call-1",
			Name:      "take_order",
			Arguments: json.RawMessage(`{"items":[{"name":"Butter Chicken","quantity":2}]}`),
		}
		res, err := d.Execute(context.Background(), "wa-221", call)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !res.Success {
			t.Fatalf("Success = false, message %q", res.Message)
		}
		if res.CallID != "call-1" {
			t.Errorf("CallID = %q", res.CallID)
		}
		if res.Message != "Order recorded" || string(res.Data) != `{"id":"ORD-1"}` {
			t.Errorf("result = %+v", res)
		}
		if gotSession != "wa-221" {
			t.Errorf("handler session = %q", gotSession)
		}
		if !strings.Contains(string(gotArgs), "Butter Chicken") {
			t.Errorf("handler args = %s", gotArgs)
		}
	})

	t.Run("unknown tool is a typed error", func(t *testing.T) {
		d := NewDispatcher()
		_, err := d.Execute(context.Background(), "s1", session.ToolInvocation{Name: "no_such_tool"})
		if !errors.Is(err, ErrUnknownTool) {
			t.Errorf("error = %v, want ErrUnknownTool", err)
		}
	})

	t.Run("missing required field fails without reaching the handler", func(t *testing.T) {
		called := false
		d := newOrderDispatcher(t, func(_ context.Context, _ string, _ json.RawMessage) (*Result, error) {
			called = true
			return &Result{}, nil
		})

		call := session.ToolInvocation{CallID: "call-2", Name: "take_order", Arguments: json.RawMessage(`{}`)}
		res, err := d.Execute(context.Background(), "s1", call)
		if err != nil {
			t.Fatalf("Execute returned error for bad arguments: %v", err)
		}
		if res.Success {
			t.Error("Success = true, want diagnostic failure")
		}
		if !strings.Contains(res.Message, "invalid tool arguments") {
			t.Errorf("Message = %q, want argument diagnostic", res.Message)
		}
		if res.CallID != "call-2" {
			t.Errorf("CallID = %q", res.CallID)
		}
		if called {
			t.Error("handler ran despite invalid arguments")
		}
	})

	t.Run("wrong type fails validation", func(t *testing.T) {
		d := newOrderDispatcher(t, okHandler("ok"))
		call := session.ToolInvocation{
			Name:      "take_order",
			Arguments: json.RawMessage(`{"items":[{"name":"Naan","quantity":"two"}]}`),
		}
		res, err := d.Execute(context.Background(), "s1", call)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.Success {
			t.Error("Success = true for type-violating arguments")
		}
	})

	t.Run("enum violation fails validation", func(t *testing.T) {
		d := newOrderDispatcher(t, okHandler("ok"))
		call := session.ToolInvocation{
			Name:      "take_order",
			Arguments: json.RawMessage(`{"items":[{"name":"Naan","quantity":1}],"fulfilment":"teleport"}`),
		}
		res, err := d.Execute(context.Background(), "s1", call)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.Success {
			t.Error("Success = true for enum-violating arguments")
		}
	})

	t.Run("non-JSON arguments fail validation", func(t *testing.T) {
		d := newOrderDispatcher(t, okHandler("ok"))
		call := session.ToolInvocation{Name: "take_order", Arguments: json.RawMessage(`not json`)}
		res, err := d.Execute(context.Background(), "s1", call)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.Success {
			t.Error("Success = true for non-JSON arguments")
		}
	})

	t.Run("handler error becomes failed result", func(t *testing.T) {
		d := newOrderDispatcher(t, func(_ context.Context, _ string, _ json.RawMessage) (*Result, error) {
			return nil, errors.New("store unavailable")
		})
		call := session.ToolInvocation{
			CallID:    "call-3",
			Name:      "take_order",
			Arguments: json.RawMessage(`{"items":[{"name":"Naan","quantity":1}]}`),
		}
		res, err := d.Execute(context.Background(), "s1", call)
		if err != nil {
			t.Fatalf("Execute returned error for handler failure: %v", err)
		}
		if res.Success {
			t.Error("Success = true, want failure")
		}
		if !strings.Contains(res.Message, "take_order failed") || !strings.Contains(res.Message, "store unavailable") {
			t.Errorf("Message = %q", res.Message)
		}
	})

	t.Run("empty arguments become an empty object", func(t *testing.T) {
		d := NewDispatcher()
		def := Definition{Name: "get_menu", Description: "menu", InputSchema: json.RawMessage(`{"type":"object"}`)}
		var gotArgs string
		if err := d.Register(def, func(_ context.Context, _ string, args json.RawMessage) (*Result, error) {
			gotArgs = string(args)
			return &Result{Message: "menu below"}, nil
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}

		res, err := d.Execute(context.Background(), "s1", session.ToolInvocation{Name: "get_menu"})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !res.Success {
			t.Fatalf("Success = false: %s", res.Message)
		}
		if gotArgs != "{}" {
			t.Errorf("handler args = %q, want {}", gotArgs)
		}
	})
}

func TestDispatcherConcurrentAccess(t *testing.T) {
	d := NewDispatcher()
	for i := 0; i < 5; i++ {
		def := Definition{
			Name:        fmt.Sprintf("tool_%d", i),
			Description: "concurrent test tool",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		}
		if err := d.Register(def, okHandler("ok")); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			call := session.ToolInvocation{
				CallID: fmt.Sprintf("c-%d", i),
				Name:   fmt.Sprintf("tool_%d", i%5),
			}
			if _, err := d.Execute(context.Background(), "s1", call); err != nil {
				t.Errorf("Execute: %v", err)
			}
			d.Catalogue()
		}(i)
	}
	wg.Wait()
}
