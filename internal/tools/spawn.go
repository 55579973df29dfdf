package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// SpawnRequest asks the subagent manager for a background run.
type SpawnRequest struct {
	ParentSessionKey string
	Goal             string
	Label            string
	TimeoutSeconds   int
}

// SpawnResult reports the accepted task back to the model.
type SpawnResult struct {
	Status  string `json:"status"`
	TaskID  string `json:"taskId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Spawner is the subagent manager surface the spawn tool needs. Defined
// here to keep the tools package free of an agent import.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (SpawnResult, error)
	Cancel(taskID string) error
	StatusList(parentSessionKey string) string
}

// SpawnTool delegates a goal to a background subagent.
type SpawnTool struct {
	spawner    Spawner
	sessionKey func(ctx context.Context) string
}

// NewSpawnTool creates a SpawnTool. sessionKey extracts the calling
// session's key from the execution context; it must not be nil.
func NewSpawnTool(spawner Spawner, sessionKey func(ctx context.Context) string) *SpawnTool {
	return &SpawnTool{spawner: spawner, sessionKey: sessionKey}
}

func (t *SpawnTool) Name() string { return "spawn_subagent" }

func (t *SpawnTool) Mutating() bool { return true }

func (t *SpawnTool) Description() string {
	return "Delegate a task to a background subagent. Returns immediately with a task id; the result arrives later as a message from subagent:<id>."
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Task instruction for the subagent.",
			},
			"label": map[string]any{
				"type":        "string",
				"description": "Optional short label for the run.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in seconds for the run (0 uses the configured default).",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	goal := GetString(params, "task", "")
	if goal == "" {
		return "Error: task is required", nil
	}
	req := SpawnRequest{
		ParentSessionKey: t.sessionKey(ctx),
		Goal:             goal,
		Label:            GetString(params, "label", ""),
		TimeoutSeconds:   GetInt(params, "timeout_seconds", 0),
	}
	res, err := t.spawner.Spawn(ctx, req)
	if err != nil {
		return fmt.Sprintf("Error spawning subagent: %v", err), nil
	}
	out, _ := json.Marshal(res)
	return string(out), nil
}

// SubagentStatusTool lists the caller's background runs.
type SubagentStatusTool struct {
	spawner    Spawner
	sessionKey func(ctx context.Context) string
}

// NewSubagentStatusTool creates a SubagentStatusTool.
func NewSubagentStatusTool(spawner Spawner, sessionKey func(ctx context.Context) string) *SubagentStatusTool {
	return &SubagentStatusTool{spawner: spawner, sessionKey: sessionKey}
}

func (t *SubagentStatusTool) Name() string { return "subagent_status" }

func (t *SubagentStatusTool) Description() string {
	return "List the status of subagent tasks spawned from this conversation."
}

func (t *SubagentStatusTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *SubagentStatusTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.spawner.StatusList(t.sessionKey(ctx)), nil
}
