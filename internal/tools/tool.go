// Package tools provides the tool framework and implementations for the agent.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/tideclaw/tideclaw/internal/provider"
)

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with the given parameters.
	// Returns result string and error. On error, return user-friendly message.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// MutatingTool is an optional interface for tools that change external
// state. Tools not implementing it are treated as read-only.
type MutatingTool interface {
	Tool
	Mutating() bool
}

// IsMutating reports whether a tool declares external side effects.
func IsMutating(t Tool) bool {
	if mt, ok := t.(MutatingTool); ok {
		return mt.Mutating()
	}
	return false
}

// PathParamTool is an optional interface for tools whose parameters contain
// filesystem or working-directory paths. The executor resolves each named
// parameter against the workspace sandbox before execution.
type PathParamTool interface {
	Tool
	PathParams() []string
}

// ResourceKeyedTool is an optional interface for tools that contend on
// shared resources. Calls in one batch that report an overlapping key run
// sequentially in request order; everything else runs concurrently.
type ResourceKeyedTool interface {
	Tool
	ResourceKeys(params map[string]any) []string
}

// Registry manages tool registration and lookup. Registration happens at
// startup; lookups afterwards are read-mostly.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. A tool with the same name replaces
// the previous registration.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Names returns the names of all registered tools sorted alphabetically.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name())
	}
	return names
}

// Definitions returns tool definitions in the provider wire format.
func (r *Registry) Definitions() []provider.ToolDefinition {
	tools := r.List()
	result := make([]provider.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		result = append(result, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return result
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
