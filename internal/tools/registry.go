// Package tools implements the polymorphic tool registry and the concrete
// shell/file tools wired at the boundary: shell command execution, file
// read, file write (creating parents), directory listing.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/koval/koval/internal/protocol"
)

// Tool is a polymorphic, named capability: a stable name, a human-readable
// description, a JSON-schema describing its argument shape, and an
// asynchronous Execute that never panics — all failures are reported as
// the error return, never as a panic.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry holds the set of tools available to one agent. Tools are held by
// reference, so one Tool value can be registered in more than one Registry;
// the reviewer builds its own Registry holding only read-oriented tools.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering the same name replaces it in place
// without disturbing declaration order.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Definitions returns the registered tools as ToolDefinitions, in
// registration order, for attaching to a ChatCompletionRequest. Returns nil
// (not an empty slice) when no tools are registered, so callers can omit
// the field entirely.
func (r *Registry) Definitions() []protocol.ToolDefinition {
	if len(r.order) == 0 {
		return nil
	}
	defs := make([]protocol.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, protocol.ToolDefinition{
			Kind: "function",
			Function: protocol.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			},
		})
	}
	return defs
}

// Call invokes the named tool with parsed JSON arguments. A lookup miss is
// reported as an error (not a panic) so the agent loop can convert it to a
// "Tool not found" Tool-role message.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return t.Execute(ctx, args)
}
