package tools

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/providers"
)

// Registry holds the registered tools and gates execution on the
// sender's permission level.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		slog.Warn("tool re-registered", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ForLevel returns the tools the given level may invoke, sorted by name.
func (r *Registry) ForLevel(level auth.PermissionLevel) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, t := range r.tools {
		if level >= t.RequiredPermission() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions renders the permitted tools as provider schemas.
func (r *Registry) Definitions(level auth.PermissionLevel) []providers.ToolDefinition {
	tools := r.ForLevel(level)
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute runs a named tool after re-checking the sender's level.
// Unknown tools and permission failures come back as error Results so
// the LLM can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, level auth.PermissionLevel) *Result {
	t, ok := r.Get(name)
	if !ok {
		return Errf("unknown tool: %s", name)
	}
	if level < t.RequiredPermission() {
		slog.Warn("tool permission denied",
			"tool", name, "level", level.String(), "required", t.RequiredPermission().String())
		return Errf("permission denied: %s requires %s", name, t.RequiredPermission().String())
	}
	return t.Execute(ctx, args)
}

// Cleanup releases all tool resources. Errors are logged, not returned.
func (r *Registry) Cleanup() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.tools {
		if err := t.Cleanup(); err != nil {
			slog.Warn("tool cleanup failed", "tool", name, "error", err)
		}
	}
}
