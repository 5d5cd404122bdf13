package tools

import (
	"context"
	"strings"

	"github.com/shannonlabs/shannon/internal/auth"
	"github.com/shannonlabs/shannon/internal/memory"
)

// MemorySetTool stores a key-value pair in persistent memory.
type MemorySetTool struct {
	BaseTool
	store *memory.Store
}

func NewMemorySetTool(store *memory.Store) *MemorySetTool {
	return &MemorySetTool{store: store}
}

func (t *MemorySetTool) Name() string { return "memory_set" }

func (t *MemorySetTool) Description() string {
	return "Store a key-value pair in persistent memory. Survives restarts."
}

func (t *MemorySetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "The key to store the value under.",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "The value to store.",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Category for organizing memories.",
			},
		},
		"required": []string{"key", "value"},
	}
}

func (t *MemorySetTool) RequiredPermission() auth.PermissionLevel { return auth.LevelTrusted }

func (t *MemorySetTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key := argString(args, "key")
	value := argString(args, "value")
	if key == "" || value == "" {
		return Errf("key and value are required")
	}
	if err := t.store.Set(key, value, argString(args, "category"), "tool"); err != nil {
		return Errf("%v", err)
	}
	return Okf("Stored: %s = %s", key, value)
}

// MemoryGetTool retrieves a memory by key or searches by query.
type MemoryGetTool struct {
	BaseTool
	store *memory.Store
}

func NewMemoryGetTool(store *memory.Store) *MemoryGetTool {
	return &MemoryGetTool{store: store}
}

func (t *MemoryGetTool) Name() string { return "memory_get" }

func (t *MemoryGetTool) Description() string {
	return "Retrieve a memory by key, or search memories by query."
}

func (t *MemoryGetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Exact key to look up.",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search term to find matching memories.",
			},
		},
	}
}

func (t *MemoryGetTool) RequiredPermission() auth.PermissionLevel { return auth.LevelTrusted }

func (t *MemoryGetTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key := argString(args, "key")
	query := argString(args, "query")
	if key == "" && query == "" {
		return Errf("Provide either 'key' or 'query' parameter.")
	}

	if key != "" {
		entry, err := t.store.Get(key)
		if err != nil {
			return Errf("%v", err)
		}
		if entry == nil {
			return Okf("No memory found for key: %s", key)
		}
		return Okf("[%s] %s: %s", entry.Category, entry.Key, entry.Value)
	}

	entries, err := t.store.Search(query)
	if err != nil {
		return Errf("%v", err)
	}
	if len(entries) == 0 {
		return Okf("No memories found matching: %s", query)
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "["+e.Category+"] "+e.Key+": "+e.Value)
	}
	return Ok(strings.Join(lines, "\n"))
}

// MemoryDeleteTool removes a memory entry. OPERATOR and above.
type MemoryDeleteTool struct {
	BaseTool
	store *memory.Store
}

func NewMemoryDeleteTool(store *memory.Store) *MemoryDeleteTool {
	return &MemoryDeleteTool{store: store}
}

func (t *MemoryDeleteTool) Name() string { return "memory_delete" }

func (t *MemoryDeleteTool) Description() string {
	return "Delete a memory entry by key."
}

func (t *MemoryDeleteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "The key of the memory to delete.",
			},
		},
		"required": []string{"key"},
	}
}

func (t *MemoryDeleteTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *MemoryDeleteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	key := argString(args, "key")
	if key == "" {
		return Errf("key is required")
	}
	deleted, err := t.store.Delete(key)
	if err != nil {
		return Errf("%v", err)
	}
	if !deleted {
		return Errf("No memory found for key: %s", key)
	}
	return Okf("Deleted memory: %s", key)
}
