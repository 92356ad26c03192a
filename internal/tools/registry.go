package tools

import (
	"sort"

	"relay/internal/llm"
)

// Registry holds the enabled tools.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Enable adds a tool to the registry.
func (r *Registry) Enable(t Tool) {
	r.tools[t.Name()] = t
}

// Disable removes a tool from the registry.
func (r *Registry) Disable(name string) {
	delete(r.tools, name)
}

// Get retrieves a tool by name, nil if not enabled.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// IsEnabled reports whether a tool with the given name is enabled.
func (r *Registry) IsEnabled(name string) bool {
	return r.tools[name] != nil
}

// List returns the enabled tool names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns OpenAI-compatible tool specs for all registered tools,
// sorted by name for deterministic request bodies.
func (r *Registry) Specs() []llm.ToolSpec {
	names := r.List()
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		spec := llm.ToolSpec{Type: "function"}
		spec.Function.Name = tool.Name()
		spec.Function.Description = tool.Description()
		spec.Function.Parameters = tool.JSONSchema()
		specs = append(specs, spec)
	}
	return specs
}
