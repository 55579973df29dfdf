package tools

import (
	"context"
	"fmt"
)

// DelegateRequest asks a peer node to run one task.
type DelegateRequest struct {
	Kind              string
	Prompt            string
	RequireCapability string
	ToNode            string
	MaxPricePoints    int
}

// DelegateResult reports which node answered and what it said.
type DelegateResult struct {
	Node   string
	Output string
}

// Delegator sends tasks to peer nodes. Implemented by the universe
// client; defined here to keep the tools package free of that import.
type Delegator interface {
	Delegate(ctx context.Context, req DelegateRequest) (DelegateResult, error)
}

// UniverseHelpTool delegates a blocked task to a peer agent node.
type UniverseHelpTool struct {
	delegator Delegator
}

// NewUniverseHelpTool creates a UniverseHelpTool.
func NewUniverseHelpTool(delegator Delegator) *UniverseHelpTool {
	return &UniverseHelpTool{delegator: delegator}
}

func (t *UniverseHelpTool) Name() string { return "universe_help" }

func (t *UniverseHelpTool) Mutating() bool { return true }

func (t *UniverseHelpTool) Description() string {
	return "Ask a peer agent node for help by delegating a task to it. Use when local tools, keys, or resources are missing or the task is blocked."
}

func (t *UniverseHelpTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "The task to delegate",
			},
			"kind": map[string]any{
				"type":        "string",
				"enum":        []string{"agent.run", "llm.chat", "echo"},
				"description": "Task kind (default agent.run)",
			},
			"require_capability": map[string]any{
				"type":        "string",
				"description": "Capability the peer must serve (default: the kind)",
			},
			"to_node": map[string]any{
				"type":        "string",
				"description": "Optional specific peer name to call",
			},
			"max_price_points": map[string]any{
				"type":        "integer",
				"description": "Optional cap on the peer's price points",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *UniverseHelpTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	prompt := GetString(params, "prompt", "")
	if prompt == "" {
		return "Error: prompt is required", nil
	}
	res, err := t.delegator.Delegate(ctx, DelegateRequest{
		Kind:              GetString(params, "kind", "agent.run"),
		Prompt:            prompt,
		RequireCapability: GetString(params, "require_capability", ""),
		ToNode:            GetString(params, "to_node", ""),
		MaxPricePoints:    GetInt(params, "max_price_points", 0),
	})
	if err != nil {
		return fmt.Sprintf("Error: universe delegation failed: %v", err), nil
	}
	return fmt.Sprintf("[universe:%s] %s", res.Node, res.Output), nil
}
