// Package tools holds the server-side tool registry, the built-in
// web_search handler and invocation detection across response formats.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pysugar/llm-proxy/internal/envelope"
)

// Handler executes one tool call and returns a textual result suitable
// for re-insertion as a tool turn.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool couples a descriptor with its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     Handler
}

// Def returns the envelope-level descriptor.
func (t *Tool) Def() envelope.ToolDef {
	return envelope.ToolDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// Registry is the pluggable tool set.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates a registry with the built-in tools registered.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.Register(newWebSearchTool())
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns descriptors for all registered tools, sorted by name.
func (r *Registry) Defs() []envelope.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]envelope.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Def())
	}
	return defs
}

// Execute runs the named tool. Execution failures come back as an error
// string result, never as a request-level failure.
func (r *Registry) Execute(ctx context.Context, call envelope.ToolCall) string {
	tool, ok := r.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: no tool registered under %q", call.Name)
	}
	result, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", call.Name, err)
	}
	return result
}
