// Package tools defines the tool interface, the permission-aware
// registry, and the built-in tools exposed to the LLM.
package tools

import (
	"context"

	"github.com/shannonlabs/shannon/internal/auth"
)

// Tool is one capability the LLM can invoke.
type Tool interface {
	// Name is the identifier offered to the LLM.
	Name() string

	// Description tells the LLM what the tool does.
	Description() string

	// Parameters is the JSON schema for the tool's arguments.
	Parameters() map[string]interface{}

	// RequiredPermission is the minimum sender level to invoke the tool.
	RequiredPermission() auth.PermissionLevel

	// Execute runs the tool. Failures are reported in the Result, not
	// as panics; ctx carries the per-call deadline.
	Execute(ctx context.Context, args map[string]interface{}) *Result

	// Cleanup releases tool resources at shutdown.
	Cleanup() error
}

// BaseTool provides the no-op Cleanup most tools want.
type BaseTool struct{}

func (BaseTool) Cleanup() error { return nil }

// --- argument helpers ---

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
